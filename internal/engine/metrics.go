package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "megicode/backend/internal/engine"

var tracer = otel.Tracer(instrumentationName)

type metrics struct {
	started     metric.Int64Counter
	transitions metric.Int64Counter
	canceled    metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter(instrumentationName)
	m := &metrics{}
	// The global meter never fails to build counters; errors only come from
	// invalid names.
	m.started, _ = meter.Int64Counter("instances_started",
		metric.WithDescription("Process instances started"))
	m.transitions, _ = meter.Int64Counter("transitions",
		metric.WithDescription("Step transitions taken"))
	m.canceled, _ = meter.Int64Counter("instances_canceled",
		metric.WithDescription("Process instances canceled"))
	return m
}

func (m *metrics) instanceStarted(ctx context.Context, definitionKey string) {
	m.started.Add(ctx, 1, metric.WithAttributes(attribute.String("definition", definitionKey)))
}

func (m *metrics) transitioned(ctx context.Context, definitionKey, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("definition", definitionKey),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *metrics) instanceCanceled(ctx context.Context, definitionKey string) {
	m.canceled.Add(ctx, 1, metric.WithAttributes(attribute.String("definition", definitionKey)))
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
