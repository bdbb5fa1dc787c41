package observability

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/shopsite/fulfillment/internal/platform/requestctx"
	"github.com/shopsite/fulfillment/internal/platform/textutil"
)

const (
	traceparentHeader = "traceparent"
	instrumentation   = "github.com/shopsite/fulfillment/internal/platform/observability"
)

var propagator = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})

// TraceMiddleware continues the caller's W3C trace (or starts one) with a server
// span per request. Valid span ids are stored through requestctx.WithTrace and
// echoed in the traceparent response header, which is how clients tie an error
// envelope to a trace.
func TraceMiddleware(provider trace.TracerProvider) func(http.Handler) http.Handler {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	tracer := provider.Tracer(instrumentation)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			parent := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(parent, spanName(r),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(requestAttributes(r)...),
			)
			defer span.End()

			if sc := span.SpanContext(); sc.IsValid() {
				info := requestctx.TraceInfo{
					TraceID: sc.TraceID().String(),
					SpanID:  sc.SpanID().String(),
					Sampled: sc.IsSampled(),
				}
				ctx = requestctx.WithTrace(ctx, info)
				w.Header().Set(traceparentHeader, info.Traceparent())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// spanName is provisional; annotateSpan adds the matched route once chi has run.
func spanName(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return SanitizeMethod(r.Method) + " " + SanitizeRoute(path)
}

func requestAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(SanitizeMethod(r.Method)),
		semconv.URLScheme(scheme),
	}
	if r.URL.Path != "" {
		attrs = append(attrs, semconv.URLPath(SanitizeRoute(r.URL.Path)))
	}
	if r.Host != "" {
		attrs = append(attrs, semconv.ServerAddress(textutil.StripControl(r.Host, hostLimit)))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, semconv.UserAgentOriginal(textutil.StripControl(ua, userAgentLimit)))
	}
	return attrs
}
