package httpx

import (
	"context"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/shopsite/fulfillment/internal/platform/requestctx"
	"github.com/shopsite/fulfillment/internal/platform/textutil"
)

const (
	codeLimit    = 80
	messageLimit = 512
	idLimit      = 80
	traceIDLimit = 64
)

// Error is an API failure. It is written as
// {"error": code, "message", "status", "request_id", "trace_id"} with Details
// merged into the same object.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    token(code, codeLimit),
		Message: textutil.PlainText(message, messageLimit),
		Status:  status,
	}
}

func (e Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e Error) WithRequestID(id string) Error {
	e.RequestID = token(id, idLimit)
	return e
}

func (e Error) WithTraceID(id string) Error {
	e.TraceID = token(id, traceIDLimit)
	return e
}

// WithDetails attaches extra top-level fields. The map is copied.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) > 0 {
		e.Details = maps.Clone(details)
	}
	return e
}

// WriteError writes err, filling request and trace ids from ctx when unset.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	if err.RequestID == "" {
		err = err.WithRequestID(middleware.GetReqID(ctx))
	}
	if err.TraceID == "" {
		err = err.WithTraceID(requestctx.TraceID(ctx))
	}
	WriteJSON(w, err.Status, err.envelope())
}

func (e Error) envelope() map[string]any {
	body := make(map[string]any, len(e.Details)+5)
	maps.Copy(body, e.Details)
	body["error"] = e.Code
	body["message"] = e.Message
	body["status"] = e.Status
	if e.RequestID != "" {
		body["request_id"] = e.RequestID
	}
	if e.TraceID != "" {
		body["trace_id"] = e.TraceID
	}
	return body
}

func token(value string, limit int) string {
	return textutil.StripControl(strings.TrimSpace(value), limit)
}
