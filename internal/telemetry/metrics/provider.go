// Package metrics defines a minimal metrics provider abstraction shared by
// the command pipeline, event publisher, and controller, with Prometheus and OTEL
// backends alongside a no-op default. Shape mirrors the teacher's internal
// metrics.Provider contract.
package metrics

import "context"

// Provider is the minimal metrics provider contract used internally.
type Provider interface {
	NewCounter(opts CounterOpts) Counter
	NewGauge(opts GaugeOpts) Gauge
	NewHistogram(opts HistogramOpts) Histogram
	NewTimer(h HistogramOpts) func() Timer
	Health(ctx context.Context) error
}

// Counter is a monotonically increasing value, optionally labeled.
type Counter interface{ Inc(delta float64, labels ...string) }

// Gauge is a point-in-time value that can be set or adjusted.
type Gauge interface {
	Set(v float64, labels ...string)
	Add(delta float64, labels ...string)
}

// Histogram records observed value distributions.
type Histogram interface{ Observe(v float64, labels ...string) }

// Timer records the duration of an in-flight operation when its returned func is called.
type Timer interface{ ObserveDuration(labels ...string) }

// CommonOpts names and documents a metric.
type CommonOpts struct {
	Namespace, Subsystem, Name, Help string
	Labels                           []string
}

type CounterOpts struct{ CommonOpts }
type GaugeOpts struct{ CommonOpts }
type HistogramOpts struct {
	CommonOpts
	Buckets []float64
}

type noopProvider struct{}
type noopCounter struct{}
type noopGauge struct{}
type noopHistogram struct{}
type noopTimer struct{}

// NewNoopProvider returns a Provider that discards all observations.
func NewNoopProvider() Provider { return &noopProvider{} }

func (p *noopProvider) NewCounter(CounterOpts) Counter     { return noopCounter{} }
func (p *noopProvider) NewGauge(GaugeOpts) Gauge           { return noopGauge{} }
func (p *noopProvider) NewHistogram(HistogramOpts) Histogram { return noopHistogram{} }
func (p *noopProvider) NewTimer(HistogramOpts) func() Timer {
	return func() Timer { return noopTimer{} }
}
func (p *noopProvider) Health(context.Context) error { return nil }

func (noopCounter) Inc(float64, ...string)   {}
func (noopGauge) Set(float64, ...string)     {}
func (noopGauge) Add(float64, ...string)     {}
func (noopHistogram) Observe(float64, ...string) {}
func (noopTimer) ObserveDuration(...string)  {}
