// Package metrics exposes Prometheus instrumentation for the sandbox
// runtime. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dshills/warden/internal/fault"
)

// Promise outcomes.
const (
	PromiseResolved  = "resolved"
	PromiseRejected  = "rejected"
	PromiseDiscarded = "discarded"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	Faults           *prometheus.CounterVec
	RateLimitDenials *prometheus.CounterVec
	Promises         *prometheus.CounterVec
	Spawns           *prometheus.CounterVec
	IsolatesActive   prometheus.Gauge
	RuntimesBroken   prometheus.Counter
	Compilations     prometheus.Counter
}

// New creates a metrics collector backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Faults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_faults_total",
				Help: "Errors surfaced to scripts or hosts, by kind",
			},
			[]string{"kind"},
		),
		RateLimitDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_ratelimit_denials_total",
				Help: "Rate limit denials by bucket and tier",
			},
			[]string{"bucket", "tier"},
		),
		Promises: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_promises_total",
				Help: "Settled promises by outcome",
			},
			[]string{"outcome"},
		),
		Spawns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_spawns_total",
				Help: "Script executions by status",
			},
			[]string{"status"},
		),
		IsolatesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_isolates_active",
				Help: "Number of open isolates",
			},
		),
		RuntimesBroken: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_runtimes_broken_total",
				Help: "Runtimes that transitioned to broken",
			},
		),
		Compilations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_compilations_total",
				Help: "Script compilations (bytecode cache misses)",
			},
		),
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordFault counts err by its fault kind. Nil errors are ignored.
func (m *Metrics) RecordFault(err error) {
	if m == nil || err == nil {
		return
	}
	m.Faults.WithLabelValues(fault.KindOf(err).String()).Inc()
}

// RecordDenial counts a rate limit denial.
func (m *Metrics) RecordDenial(bucket, tier string) {
	if m == nil {
		return
	}
	m.RateLimitDenials.WithLabelValues(bucket, tier).Inc()
}

// RecordPromise counts a settled promise.
func (m *Metrics) RecordPromise(outcome string) {
	if m == nil {
		return
	}
	m.Promises.WithLabelValues(outcome).Inc()
}

// RecordSpawn counts a finished script execution.
func (m *Metrics) RecordSpawn(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Spawns.WithLabelValues(status).Inc()
}

// IsolateOpened increments the live isolate gauge.
func (m *Metrics) IsolateOpened() {
	if m == nil {
		return
	}
	m.IsolatesActive.Inc()
}

// IsolateClosed decrements the live isolate gauge.
func (m *Metrics) IsolateClosed() {
	if m == nil {
		return
	}
	m.IsolatesActive.Dec()
}

// RuntimeBroken counts a broken transition.
func (m *Metrics) RuntimeBroken() {
	if m == nil {
		return
	}
	m.RuntimesBroken.Inc()
}

// Compiled counts a compilation.
func (m *Metrics) Compiled() {
	if m == nil {
		return
	}
	m.Compilations.Inc()
}
