// Package requestctx carries per-request values (logger, trace identifiers) through
// context.Context.
package requestctx

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
)

var nop = zap.NewNop()

// TraceInfo holds the W3C trace identifiers of the current request.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// Traceparent formats the identifiers as a version 00 traceparent header. It is
// empty unless both ids are set.
func (t TraceInfo) Traceparent() string {
	if t.TraceID == "" || t.SpanID == "" {
		return ""
	}
	var flags byte
	if t.Sampled {
		flags = 1
	}
	return fmt.Sprintf("00-%s-%s-%02x", t.TraceID, t.SpanID, flags)
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = nop
	}
	return context.WithValue(orBackground(ctx), loggerKey{}, logger)
}

// Logger never returns nil.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := orBackground(ctx).Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return nop
}

// NoopLogger is the logger Logger falls back to; compare against it to detect a
// context without a request logger.
func NoopLogger() *zap.Logger { return nop }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(orBackground(ctx), traceKey{}, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	info, ok := orBackground(ctx).Value(traceKey{}).(TraceInfo)
	return info, ok
}

func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}
