package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics of a harvest run. Every metric is
// labeled by provider. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// RunsStarted counts provider pipelines started.
	RunsStarted *prometheus.CounterVec

	// RunsCompleted counts provider pipelines that finished.
	RunsCompleted *prometheus.CounterVec

	// RunsFailed counts provider pipelines aborted by a fatal error.
	RunsFailed *prometheus.CounterVec

	// RunDuration observes the end-to-end pipeline duration in seconds.
	RunDuration *prometheus.HistogramVec

	// PagesFetched counts results pages fetched and parsed.
	PagesFetched *prometheus.CounterVec

	// PagesFailed counts results pages given up on.
	PagesFailed *prometheus.CounterVec

	// ItemsDiscovered counts newly discovered items.
	ItemsDiscovered *prometheus.CounterVec

	// ItemsEnriched counts items enriched, labeled by status.
	ItemsEnriched *prometheus.CounterVec

	// FetchRetries counts retried fetches, labeled by phase.
	FetchRetries *prometheus.CounterVec

	// FetchDuration observes single fetch durations in seconds, labeled by phase.
	FetchDuration *prometheus.HistogramVec

	// CheckpointWrites counts batch checkpoints persisted.
	CheckpointWrites *prometheus.CounterVec
}

// NewMetrics creates and registers the harvester metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RunsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of provider runs started",
		}, []string{"provider"}),
		RunsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of provider runs completed",
		}, []string{"provider"}),
		RunsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_failed_total",
			Help:      "Total number of provider runs aborted by a fatal error",
		}, []string{"provider"}),
		RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of provider runs in seconds",
			Buckets:   []float64{10, 30, 60, 300, 600, 1800, 3600, 7200, 14400},
		}, []string{"provider"}),

		PagesFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Total number of results pages fetched",
		}, []string{"provider"}),
		PagesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_failed_total",
			Help:      "Total number of results pages that could not be fetched or parsed",
		}, []string{"provider"}),
		ItemsDiscovered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_discovered_total",
			Help:      "Total number of newly discovered items",
		}, []string{"provider"}),

		ItemsEnriched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_enriched_total",
			Help:      "Total number of items processed by enrichment",
		}, []string{"provider", "status"}),
		FetchRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Total number of retried fetches",
		}, []string{"provider", "phase"}),
		FetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of single page fetches in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider", "phase"}),
		CheckpointWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_writes_total",
			Help:      "Total number of batch checkpoints written",
		}, []string{"provider"}),
	}
}

// RecordRunStarted records that a provider run has started.
func (m *Metrics) RecordRunStarted(provider string) {
	if m == nil {
		return
	}
	m.RunsStarted.WithLabelValues(provider).Inc()
}

// RecordRunCompleted records a finished provider run.
func (m *Metrics) RecordRunCompleted(provider string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunsCompleted.WithLabelValues(provider).Inc()
	m.RunDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordRunFailed records a provider run aborted by a fatal error.
func (m *Metrics) RecordRunFailed(provider string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunsFailed.WithLabelValues(provider).Inc()
	m.RunDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordPage records the outcome of one results page.
func (m *Metrics) RecordPage(provider string, ok bool, newItems int) {
	if m == nil {
		return
	}
	if !ok {
		m.PagesFailed.WithLabelValues(provider).Inc()
		return
	}
	m.PagesFetched.WithLabelValues(provider).Inc()
	m.ItemsDiscovered.WithLabelValues(provider).Add(float64(newItems))
}

// RecordItem records the enrichment status of one item.
func (m *Metrics) RecordItem(provider, status string) {
	if m == nil {
		return
	}
	m.ItemsEnriched.WithLabelValues(provider, status).Inc()
}

// RecordFetch records the duration of a single fetch.
func (m *Metrics) RecordFetch(provider, phase string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(provider, phase).Observe(durationSeconds)
}

// RecordRetry records a retried fetch.
func (m *Metrics) RecordRetry(provider, phase string) {
	if m == nil {
		return
	}
	m.FetchRetries.WithLabelValues(provider, phase).Inc()
}

// RecordCheckpoint records a persisted batch checkpoint.
func (m *Metrics) RecordCheckpoint(provider string) {
	if m == nil {
		return
	}
	m.CheckpointWrites.WithLabelValues(provider).Inc()
}
