// Package otelx instruments event dispatch with OpenTelemetry traces and metrics.
package otelx

import (
	"context"
	"fmt"
	"github.com/saylorsolutions/eventx/patterns/eventbus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"time"
)

const instrumentationName = "github.com/saylorsolutions/eventx/otelx"

type startKey struct{}

// Processor is an [eventbus.EventProcessor] that wraps each dispatch in a span and records dispatch metrics.
// Events spread synchronously from a listener inherit its context, so their dispatch spans are children of the listener's span.
//
// Instruments are created once in [NewProcessor] and reused for every dispatch.
type Processor struct {
	tracer   trace.Tracer
	count    metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// NewProcessor creates a [Processor] using the given providers.
func NewProcessor(tp trace.TracerProvider, mp metric.MeterProvider) (*Processor, error) {
	if tp == nil || mp == nil {
		return nil, fmt.Errorf("tracer provider and meter provider are required")
	}
	meter := mp.Meter(instrumentationName)
	p := &Processor{
		tracer: tp.Tracer(instrumentationName),
	}
	var err error
	p.count, err = meter.Int64Counter(
		"eventbus.dispatch.count",
		metric.WithDescription("Number of event dispatches to listeners"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch count metric: %w", err)
	}
	p.failures, err = meter.Int64Counter(
		"eventbus.dispatch.failures",
		metric.WithDescription("Number of event dispatches that failed"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch failures metric: %w", err)
	}
	p.duration, err = meter.Float64Histogram(
		"eventbus.dispatch.duration",
		metric.WithDescription("Duration of event dispatches, including synchronous spreading"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch duration metric: %w", err)
	}
	return p, nil
}

// NewGlobalProcessor creates a [Processor] with the globally registered providers.
func NewGlobalProcessor() (*Processor, error) {
	return NewProcessor(otel.GetTracerProvider(), otel.GetMeterProvider())
}

func (p *Processor) Before(ctx context.Context, d *eventbus.Dispatch) (context.Context, error) {
	ctx, _ = p.tracer.Start(ctx, "dispatch "+d.Key.String(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(dispatchAttrs(d)...),
	)
	return context.WithValue(ctx, startKey{}, time.Now()), nil
}

func (p *Processor) After(ctx context.Context, d *eventbus.Dispatch) error {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	attrs := metric.WithAttributes(
		attribute.String("eventbus.key", d.Key.String()),
		attribute.Bool("eventbus.async", d.Async),
		attribute.Bool("eventbus.failed", d.Err != nil),
	)
	p.count.Add(ctx, 1, attrs)
	if start, ok := ctx.Value(startKey{}).(time.Time); ok {
		p.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	}
	if d.Err != nil {
		p.failures.Add(ctx, 1, attrs)
		span.RecordError(d.Err)
		span.SetStatus(codes.Error, d.Err.Error())
		return nil
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func dispatchAttrs(d *eventbus.Dispatch) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("eventbus.key", d.Key.String()),
		attribute.Bool("eventbus.async", d.Async),
		attribute.Int("eventbus.depth", d.Depth),
	}
	if d.Context != nil {
		attrs = append(attrs, attribute.String("eventbus.context", d.Context.Name()))
	}
	if d.Registration != nil {
		attrs = append(attrs,
			attribute.String("eventbus.registration", d.Registration.ID().String()),
			attribute.Int("eventbus.order", d.Registration.Order()),
		)
	}
	return attrs
}
