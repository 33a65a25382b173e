// Package metrics holds the Prometheus collectors for the aggregation pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "feedlens"

// Metrics groups every collector the service exports.
type Metrics struct {
	sessionsFinalized *prometheus.CounterVec
	analysisRuns      *prometheus.CounterVec
	aiFallbacks       *prometheus.CounterVec
	itemsDropped      prometheus.Counter
	rawUpdates        *prometheus.CounterVec
	finalizeDuration  prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finalized_total",
			Help:      "Sessions that reached Closed, by outcome.",
		}, []string{"outcome"}),
		analysisRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_runs_total",
			Help:      "Classification runs, by the method that produced the result.",
		}, []string{"method"}),
		aiFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_fallbacks_total",
			Help:      "AI delegate calls that fell back to the heuristic classifier.",
		}, []string{"reason"}),
		itemsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_dropped_total",
			Help:      "Items left out of AI analysis by the per-request cap.",
		}),
		rawUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_updates_total",
			Help:      "Raw snapshots received, by result.",
		}, []string{"result"}),
		finalizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalize_duration_seconds",
			Help:      "Time from stop to Closed.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
	}
	reg.MustRegister(
		m.sessionsFinalized,
		m.analysisRuns,
		m.aiFallbacks,
		m.itemsDropped,
		m.rawUpdates,
		m.finalizeDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionFinalized(outcome string) {
	if m == nil {
		return
	}
	m.sessionsFinalized.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AnalysisRun(method string) {
	if m == nil {
		return
	}
	m.analysisRuns.WithLabelValues(method).Inc()
}

func (m *Metrics) AIFallback(reason string) {
	if m == nil {
		return
	}
	m.aiFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) ItemsDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemsDropped.Add(float64(n))
}

func (m *Metrics) RawUpdate(result string) {
	if m == nil {
		return
	}
	m.rawUpdates.WithLabelValues(result).Inc()
}

func (m *Metrics) FinalizeDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.finalizeDuration.Observe(d.Seconds())
}
