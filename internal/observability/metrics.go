package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	Batches          *prometheus.CounterVec
	Actions          *prometheus.CounterVec
	Extractions      *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	AmbiguousMatches prometheus.Counter
	RefreshEvents    *prometheus.CounterVec
	ModelLatency     *prometheus.HistogramVec
	TurnStages       *prometheus.HistogramVec

	window *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active chat sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		Batches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_batches_total",
			Help:      "Executed action batches by final state.",
		}, []string{"outcome"}),
		Actions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Actions by type and result.",
		}, []string{"type", "result"}),
		Extractions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Model replies parsed, by the strategy that produced the actions.",
		}, []string{"source"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Model provider errors by provider and status class.",
		}, []string{"provider", "code"}),
		AmbiguousMatches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ambiguous_task_name_matches_total",
			Help:      "Task name lookups where more than one task matched the winning tier.",
		}),
		RefreshEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_events_total",
			Help:      "Refresh notifications by event type and delivery result.",
		}, []string{"type", "result"}),
		ModelLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_latency_ms",
			Help:      "Model completion latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}, []string{"provider"}),
		TurnStages: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_ms",
			Help:      "Chat turn stage durations in milliseconds.",
			Buckets:   []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"stage"}),
		window: newStageWindow(256),
	}
}

func (m *Metrics) ObserveModelLatency(provider string, d time.Duration) {
	m.ModelLatency.WithLabelValues(provider).Observe(float64(d.Milliseconds()))
}

// ObserveTurnStage records a stage duration in both the histogram and the rolling window.
func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	ms := float64(d.Microseconds()) / 1000
	m.TurnStages.WithLabelValues(stage).Observe(ms)
	m.window.Observe(stage, ms)
}

// ObserveIndicator counts a named turn event, such as a heuristic extraction, in the window.
func (m *Metrics) ObserveIndicator(name string) {
	m.window.ObserveIndicator(name)
}

func (m *Metrics) TurnStageSnapshot() StageSnapshot {
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
