// Package metrics exposes Prometheus collectors for experiment runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeConverged = "converged"
	OutcomeExhausted = "exhausted"
)

// Metrics groups the run collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RunsCompleted *prometheus.CounterVec
	RunsFailed    *prometheus.CounterVec
	Ticks         prometheus.Histogram
	RunDuration   *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RunsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "defsim_runs_completed_total",
				Help: "Simulation runs finished, by outcome",
			},
			[]string{"outcome"},
		),
		RunsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "defsim_runs_failed_total",
				Help: "Simulation runs that failed, by stage",
			},
			[]string{"stage"},
		),
		Ticks: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "defsim_run_ticks",
				Help:    "Ticks executed per run",
				Buckets: prometheus.ExponentialBuckets(10, 4, 9),
			},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "defsim_run_duration_seconds",
				Help:    "Wall-clock duration of a run, by outcome",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"outcome"},
		),
	}
	m.registry.MustRegister(m.RunsCompleted, m.RunsFailed, m.Ticks, m.RunDuration)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(converged bool, ticks int, d time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeExhausted
	if converged {
		outcome = OutcomeConverged
	}
	m.RunsCompleted.WithLabelValues(outcome).Inc()
	m.Ticks.Observe(float64(ticks))
	m.RunDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveFailure records a run that produced a failure instead of rows.
func (m *Metrics) ObserveFailure(stage string) {
	if m == nil {
		return
	}
	m.RunsFailed.WithLabelValues(stage).Inc()
}
