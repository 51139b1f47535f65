// Package metrics exposes search session counters in the Prometheus
// text format on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sales-intel-be/pkg/agentic"
)

const namespace = "sales_intel"

type Metrics struct {
	registry *prometheus.Registry

	started   prometheus.Counter
	completed prometheus.Counter
	failed    *prometheus.CounterVec
	phases    *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	duration  prometheus.Histogram
	sessions  prometheus.Gauge
}

// New registers the collectors on a private registry, plus the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "search", Name: "started_total",
			Help: "Searches started.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "search", Name: "completed_total",
			Help: "Searches that reached the complete phase.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "search", Name: "failed_total",
			Help: "Searches that ended in error, by error kind.",
		}, []string{"kind"}),
		phases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "search", Name: "phase_transitions_total",
			Help: "Phase transitions, by target phase.",
		}, []string{"phase"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "search", Name: "fallback_total",
			Help: "Partner suggestion fallbacks, by source.",
		}, []string{"source"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "search", Name: "duration_seconds",
			Help:    "Time from search start to completion.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "search", Name: "sessions",
			Help: "Per-user search sessions held in memory.",
		}),
	}
	m.registry.MustRegister(
		m.started, m.completed, m.failed, m.phases, m.fallbacks, m.duration, m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Started() { m.started.Inc() }

func (m *Metrics) Completed(elapsed time.Duration) {
	m.completed.Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) Failed(kind agentic.ErrorKind) { m.failed.WithLabelValues(string(kind)).Inc() }

func (m *Metrics) PhaseChanged(to agentic.Phase) { m.phases.WithLabelValues(string(to)).Inc() }

func (m *Metrics) Fallback(source agentic.SuggestionOrigin) {
	m.fallbacks.WithLabelValues(string(source)).Inc()
}

func (m *Metrics) SessionsAdded()   { m.sessions.Inc() }
func (m *Metrics) SessionsRemoved() { m.sessions.Dec() }

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
