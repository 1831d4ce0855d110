// Package promx records event dispatch metrics with Prometheus.
package promx

import (
	"context"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/saylorsolutions/eventx/patterns/eventbus"
	"time"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var _ prometheus.Collector = (*Processor)(nil)
var _ eventbus.EventProcessor = (*Processor)(nil)

type startKey struct{}

// Processor is an [eventbus.EventProcessor] that counts and times dispatches.
// It's also a [prometheus.Collector], so it can be registered directly.
type Processor struct {
	dispatched *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewProcessor creates a [Processor] with metrics in the given namespace.
// Metrics are labeled with the context name, event key, and outcome.
func NewProcessor(namespace string) *Processor {
	labels := []string{"context", "key", "outcome"}
	return &Processor{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "dispatches_total",
			Help:      "Number of event dispatches to listeners.",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of event dispatches, including synchronous spreading.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, labels),
	}
}

func (p *Processor) Describe(ch chan<- *prometheus.Desc) {
	p.dispatched.Describe(ch)
	p.duration.Describe(ch)
}

func (p *Processor) Collect(ch chan<- prometheus.Metric) {
	p.dispatched.Collect(ch)
	p.duration.Collect(ch)
}

// Register will register the Processor's metrics with the registerer.
func (p *Processor) Register(r prometheus.Registerer) error {
	return r.Register(p)
}

func (p *Processor) Before(ctx context.Context, _ *eventbus.Dispatch) (context.Context, error) {
	return context.WithValue(ctx, startKey{}, time.Now()), nil
}

func (p *Processor) After(ctx context.Context, d *eventbus.Dispatch) error {
	outcome := OutcomeSuccess
	if d.Err != nil {
		outcome = OutcomeFailure
	}
	var name string
	if d.Context != nil {
		name = d.Context.Name()
	}
	labels := prometheus.Labels{"context": name, "key": d.Key.String(), "outcome": outcome}
	p.dispatched.With(labels).Inc()
	if start, ok := ctx.Value(startKey{}).(time.Time); ok {
		p.duration.With(labels).Observe(time.Since(start).Seconds())
	}
	return nil
}
