package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/v0xg/stealthrun/internal/action"
)

// Metrics are the Prometheus collectors a Monitor reports to.
type Metrics struct {
	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  *prometheus.CounterVec
	sessions *prometheus.CounterVec
	active   prometheus.Gauge
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stealthrun",
			Name:      "steps_total",
			Help:      "Steps reaching a terminal status, by action type and status.",
		}, []string{"type", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stealthrun",
			Name:      "step_duration_seconds",
			Help:      "Wall time of a step including retries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"type"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stealthrun",
			Name:      "step_retries_total",
			Help:      "Retried step attempts, by action type.",
		}, []string{"type"}),
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stealthrun",
			Name:      "sessions_total",
			Help:      "Sessions reaching a terminal status.",
		}, []string{"status"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "stealthrun",
			Name:      "sessions_active",
			Help:      "Sessions currently running or paused.",
		}),
	}

	for _, t := range action.Types() {
		for _, s := range []Status{StatusSuccess, StatusFailed, StatusSkipped} {
			m.steps.WithLabelValues(string(t), string(s))
		}
	}
	for _, s := range []SessionStatus{SessionCompleted, SessionFailed} {
		m.sessions.WithLabelValues(string(s))
	}
	return m
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) sessionFinished(s SessionStatus) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.sessions.WithLabelValues(string(s)).Inc()
}

func (m *Metrics) stepFinished(t action.Type, s Status, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(string(t), string(s)).Inc()
	m.duration.WithLabelValues(string(t)).Observe(d.Seconds())
}

func (m *Metrics) stepRetried(t action.Type) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(string(t)).Inc()
}
