// Package metrics exposes Prometheus collectors for the enrichment engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	sourceFetches *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	modelRuns     *prometheus.CounterVec
	enrichments   *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
}

// New registers the collectors on reg. A nil *Metrics is valid and records nothing.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indicator_service",
			Name:      "source_fetches_total",
			Help:      "Source fetch attempts by source and result.",
		}, []string{"source", "result"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "indicator_service",
			Name:      "source_fetch_seconds",
			Help:      "Source fetch latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		modelRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indicator_service",
			Name:      "model_runs_total",
			Help:      "Prediction model runs by model and result.",
		}, []string{"model", "result"}),
		enrichments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indicator_service",
			Name:      "enrichments_total",
			Help:      "Enrichment outcomes by provenance kind (SOURCE, MODEL, NONE).",
		}, []string{"kind"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indicator_service",
			Name:      "cache_lookups_total",
			Help:      "Read-through cache lookups by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.sourceFetches, m.fetchLatency, m.modelRuns, m.enrichments, m.cacheLookups)
	}
	return m
}

func (m *Metrics) ObserveFetch(sourceID string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sourceFetches.WithLabelValues(sourceID, result(ok)).Inc()
	m.fetchLatency.WithLabelValues(sourceID).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveModelRun(modelID string, ok bool) {
	if m == nil {
		return
	}
	m.modelRuns.WithLabelValues(modelID, result(ok)).Inc()
}

// ObserveEnrichment counts a final outcome; kind is empty when nothing was found.
func (m *Metrics) ObserveEnrichment(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "NONE"
	}
	m.enrichments.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
