package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shopsite/fulfillment/internal/platform/auth"
	"github.com/shopsite/fulfillment/internal/platform/requestctx"
)

func newTestProvider() (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(exporter),
	)
	return provider, exporter
}

func TestTraceMiddlewareContinuesIncomingTraceparent(t *testing.T) {
	provider, exporter := newTestProvider()
	var seen requestctx.TraceInfo

	handler := TraceMiddleware(provider)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected incoming trace id, got %q", seen.TraceID)
	}
	if seen.SpanID == "00f067aa0ba902b7" || seen.SpanID == "" {
		t.Fatalf("expected a new server span id, got %q", seen.SpanID)
	}
	if got := rec.Header().Get("traceparent"); got != seen.Traceparent() {
		t.Fatalf("expected traceparent echo %q, got %q", seen.Traceparent(), got)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "GET /api/v1/orders" {
		t.Fatalf("unexpected spans %+v", spans)
	}
	if spans[0].Parent.SpanID().String() != "00f067aa0ba902b7" {
		t.Fatalf("expected remote parent, got %s", spans[0].Parent.SpanID())
	}
}

func TestTraceMiddlewareStartsRootTrace(t *testing.T) {
	provider, _ := newTestProvider()
	var seen requestctx.TraceInfo
	handler := TraceMiddleware(provider)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if len(seen.TraceID) != 32 {
		t.Fatalf("expected generated trace id, got %q", seen.TraceID)
	}
}

func TestRequestLoggerMiddlewareLogsCompletion(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(InjectLoggerMiddleware(logger))
	router.Use(RequestLoggerMiddleware())
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := &auth.Identity{UID: "cus-1", Roles: []string{auth.RoleCustomer}}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	})
	router.Use(CaptureIdentityMiddleware)
	router.Get("/api/v1/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("handler reached")
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord-1", nil))

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(completed))
	}
	entry := completed[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 404, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["route"] != "/api/v1/orders/{orderID}" {
		t.Fatalf("expected route pattern, got %v", fields["route"])
	}
	if fields["user_id"] != "cus-1" {
		t.Fatalf("expected user id, got %v", fields["user_id"])
	}
	if fields["status"] != int64(http.StatusNotFound) {
		t.Fatalf("expected status 404, got %v", fields["status"])
	}
	if id, _ := fields["request_id"].(string); id == "" {
		t.Fatalf("expected request id field")
	}

	reached := logs.FilterMessage("handler reached").All()
	if len(reached) != 1 || reached[0].ContextMap()["user_id"] != "cus-1" {
		t.Fatalf("expected handler logger to carry user id, got %+v", reached)
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["error"] != "internal" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic log entry")
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	requestCore, requestLogs := observer.New(zapcore.InfoLevel)

	logFn := EventLogger(zap.New(fallbackCore), "orders")
	logFn(context.Background(), "order.build.committed", map[string]any{"orderId": "ord-1"})
	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore))
	logFn(ctx, "order.build.failed", map[string]any{"error": "boom"})

	if fallbackLogs.Len() != 1 || fallbackLogs.All()[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected fallback info entry, got %+v", fallbackLogs.All())
	}
	entries := requestLogs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected request warn entry, got %+v", entries)
	}
	if entries[0].LoggerName != "orders" || entries[0].ContextMap()["event"] != "order.build.failed" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}

func TestEventLoggerWarnsOnlyForFailedSuffix(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logFn := EventLogger(zap.New(core), "")

	logFn(context.Background(), "order.build.release.failed", nil)
	logFn(context.Background(), "order.build.release_failed", nil)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	want := []zapcore.Level{zapcore.WarnLevel, zapcore.InfoLevel}
	for i, entry := range entries {
		if entry.Level != want[i] {
			t.Fatalf("entry %q: expected %s, got %s", entry.Message, want[i], entry.Level)
		}
	}
}

func TestSanitizeHelpersStripControlCharacters(t *testing.T) {
	if got := SanitizeRoute(""); got != "/" {
		t.Fatalf("expected root route, got %q", got)
	}
	if got := SanitizeUserID("cus\x07-1"); got != "cus-1" {
		t.Fatalf("expected control char removed, got %q", got)
	}
	long := strings.Repeat("a", 300)
	if got := SanitizeRoute(long); len(got) != 180 {
		t.Fatalf("expected truncation to 180, got %d", len(got))
	}
}
