package observability

import (
	"context"
	"maps"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shopsite/fulfillment/internal/platform/requestctx"
)

// LoggerOptions tunes NewLogger. The zero value logs JSON at info level.
type LoggerOptions struct {
	Level       string
	Development bool
}

// NewLogger builds the process logger. Production output uses the Cloud Logging
// field names (severity, timestamp, message); Development switches to a coloured
// console encoder. Unknown levels fall back to info.
func NewLogger(opts LoggerOptions) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(opts.Level))
	if err != nil || strings.TrimSpace(opts.Level) == "" {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	if opts.Development {
		cfg.Development = true
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// EventLogger returns the event hook the order services log through. Events go to
// the request logger when the context carries one, so request_id and trace_id stay
// attached; otherwise to fallback. "*.failed" events are warnings.
func EventLogger(fallback *zap.Logger, name string) func(context.Context, string, map[string]any) {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = fallback
		}
		if name != "" {
			logger = logger.Named(name)
		}

		zfields := []zap.Field{zap.String("event", event)}
		for _, key := range slices.Sorted(maps.Keys(fields)) {
			zfields = append(zfields, zap.Any(key, fields[key]))
		}
		level := zapcore.InfoLevel
		if strings.HasSuffix(event, ".failed") {
			level = zapcore.WarnLevel
		}
		logger.Log(level, event, zfields...)
	}
}

// GooseLogger routes goose migration output through zap.
type GooseLogger struct {
	sugar *zap.SugaredLogger
}

func NewGooseLogger(logger *zap.Logger) GooseLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return GooseLogger{sugar: logger.Named("migrate").Sugar()}
}

func (g GooseLogger) Printf(format string, args ...any) {
	g.sugar.Infof(strings.TrimRight(format, "\n"), args...)
}

func (g GooseLogger) Fatalf(format string, args ...any) {
	g.sugar.Fatalf(strings.TrimRight(format, "\n"), args...)
}
