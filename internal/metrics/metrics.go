// Package metrics exposes Prometheus metrics for runs and worker sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/ccc/pkg/models"
)

// Metrics holds the coordinator's Prometheus collectors.
//
// Metrics:
//   - ccc_runs_total{status} - runs finished, by final status
//   - ccc_sessions_total{status} - worker sessions finished, by status
//   - ccc_sessions_running - worker sessions currently running
//   - ccc_session_duration_seconds{status} - worker session wall time
//   - ccc_recovery_decisions_total{tier} - classifier decisions, by tier
//   - ccc_worker_output_bytes_total - bytes of worker output captured
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	SessionsTotal    *prometheus.CounterVec
	SessionsRunning  prometheus.Gauge
	SessionDuration  *prometheus.HistogramVec
	DecisionsTotal   *prometheus.CounterVec
	OutputBytesTotal prometheus.Counter

	registry prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccc_runs_total",
				Help: "Total number of runs finished, by final status",
			},
			[]string{"status"},
		),
		SessionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccc_sessions_total",
				Help: "Total number of worker sessions finished, by status",
			},
			[]string{"status"},
		),
		SessionsRunning: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ccc_sessions_running",
				Help: "Number of worker sessions currently running",
			},
		),
		SessionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ccc_session_duration_seconds",
				Help:    "Wall time of worker sessions in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 13), // 1s to ~68m
			},
			[]string{"status"},
		),
		DecisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccc_recovery_decisions_total",
				Help: "Total number of recovery decisions, by tier",
			},
			[]string{"tier"},
		),
		OutputBytesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "ccc_worker_output_bytes_total",
				Help: "Total bytes of worker output captured",
			},
		),
		registry: reg,
	}
}

// SessionStarted records a session entering RUNNING.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsRunning.Inc()
}

// SessionFinished records a session's final status and wall time.
func (m *Metrics) SessionFinished(s *models.WorkerSession, outputBytes int64) {
	if m == nil || s == nil {
		return
	}
	m.SessionsRunning.Dec()
	m.SessionsTotal.WithLabelValues(string(s.Status)).Inc()
	m.SessionDuration.WithLabelValues(string(s.Status)).Observe(s.Duration().Seconds())
	if outputBytes > 0 {
		m.OutputBytesTotal.Add(float64(outputBytes))
	}
}

// Decision records a classifier decision.
func (m *Metrics) Decision(d models.RecoveryDecision) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(d.Tier.String()).Inc()
}

// RunFinished records a run's final status.
func (m *Metrics) RunFinished(status models.RunStatus) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(status)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
