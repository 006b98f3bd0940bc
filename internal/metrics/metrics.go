// Package metrics records reconciliation outcomes as Prometheus metrics.
//
// Metrics live in their own registry rather than the global default so a
// one-shot run can write exactly its own series to a textfile, and tests can
// create as many instances as they like. A nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for reconciliation runs.
type Metrics struct {
	registry *prometheus.Registry

	LocksEvaluated  *prometheus.CounterVec   // pool, decision=keep|release
	LocksReleased   *prometheus.CounterVec   // pool
	LocksUndatable  *prometheus.CounterVec   // pool
	OracleVerdicts  *prometheus.CounterVec   // verdict=alive|terminated|unknown
	ClaimAgeSeconds *prometheus.HistogramVec // pool

	RunsTotal        *prometheus.CounterVec // mode=status|clean, result=success|failure
	LastRunTimestamp prometheus.Gauge
	LastRunChanges   prometheus.Gauge
}

// New creates Metrics registered with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LocksEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poolboy_locks_evaluated_total",
				Help: "Claimed locks evaluated, by pool and decision",
			},
			[]string{"pool", "decision"},
		),
		LocksReleased: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poolboy_locks_released_total",
				Help: "Claimed locks moved back to unclaimed",
			},
			[]string{"pool"},
		),
		LocksUndatable: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poolboy_locks_undatable_total",
				Help: "Claimed locks kept because their claim could not be dated",
			},
			[]string{"pool"},
		),
		OracleVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poolboy_oracle_verdicts_total",
				Help: "Liveness verdicts returned for claim owners",
			},
			[]string{"verdict"},
		),
		ClaimAgeSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poolboy_claim_age_seconds",
				Help:    "Age of claimed locks at evaluation time",
				Buckets: prometheus.ExponentialBuckets(60, 2, 12), // 1m .. ~34h
			},
			[]string{"pool"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poolboy_runs_total",
				Help: "Reconciliation runs by mode and result",
			},
			[]string{"mode", "result"},
		),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poolboy_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
		LastRunChanges: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poolboy_last_run_changes",
			Help: "Locks released (or that would be released) by the last run",
		}),
	}

	m.registry.MustRegister(
		m.LocksEvaluated,
		m.LocksReleased,
		m.LocksUndatable,
		m.OracleVerdicts,
		m.ClaimAgeSeconds,
		m.RunsTotal,
		m.LastRunTimestamp,
		m.LastRunChanges,
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveLock records one lock evaluation.
func (m *Metrics) ObserveLock(pool, decision, verdict string, age time.Duration) {
	if m == nil {
		return
	}
	m.LocksEvaluated.WithLabelValues(pool, decision).Inc()
	m.OracleVerdicts.WithLabelValues(verdict).Inc()
	m.ClaimAgeSeconds.WithLabelValues(pool).Observe(age.Seconds())
}

// ObserveRelease records a lock moved back to unclaimed.
func (m *Metrics) ObserveRelease(pool string) {
	if m == nil {
		return
	}
	m.LocksReleased.WithLabelValues(pool).Inc()
}

// ObserveUndatable records a lock whose claim could not be dated.
func (m *Metrics) ObserveUndatable(pool string) {
	if m == nil {
		return
	}
	m.LocksUndatable.WithLabelValues(pool).Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(mode string, changes int, err error, at time.Time) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.RunsTotal.WithLabelValues(mode, result).Inc()
	m.LastRunTimestamp.Set(float64(at.Unix()))
	if err == nil {
		m.LastRunChanges.Set(float64(changes))
	}
}

// WriteTextfile writes every metric to path in the text exposition format,
// for node_exporter's textfile collector. The write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
