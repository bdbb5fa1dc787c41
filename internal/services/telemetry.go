package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/shopsite/fulfillment/internal/services"

// Telemetry bundles the tracer and counters shared by the order services. The zero
// value falls back to the global providers.
type Telemetry struct {
	Tracer trace.Tracer
	Meter  metric.Meter
}

type instruments struct {
	tracer        trace.Tracer
	built         metric.Int64Counter
	buildFailures metric.Int64Counter
	transitions   metric.Int64Counter
	released      metric.Int64Counter
}

func newInstruments(t Telemetry) *instruments {
	tracer := t.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := t.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	inst := &instruments{tracer: tracer}
	// Counter creation only fails on invalid names; a nil counter is skipped on use.
	inst.built, _ = meter.Int64Counter("fulfillment.orders.built",
		metric.WithDescription("Orders committed by the builder"))
	inst.buildFailures, _ = meter.Int64Counter("fulfillment.orders.build_failures",
		metric.WithDescription("Order builds aborted, by error kind"))
	inst.transitions, _ = meter.Int64Counter("fulfillment.orders.transitions",
		metric.WithDescription("State machine applications, by event and outcome"))
	inst.released, _ = meter.Int64Counter("fulfillment.stock.released_units",
		metric.WithDescription("Units returned to stock by cancellations"),
		metric.WithUnit("{unit}"))
	return inst
}

func (i *instruments) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (i *instruments) add(ctx context.Context, counter metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if counter == nil || n == 0 {
		return
	}
	counter.Add(ctx, n, metric.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
	span.End()
}
