// Package metrics exposes Prometheus instrumentation for the match engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles all match-engine collectors behind one Prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	// Weight configuration gauges, one series per weight and per threshold.
	WeightGauge    *prometheus.GaugeVec
	ThresholdGauge *prometheus.GaugeVec

	// Batch orchestration gauges.
	BatchCompletionPercentage  *prometheus.GaugeVec
	OverallProgressPercentage  *prometheus.GaugeVec
	ProcessingErrors           *prometheus.CounterVec
	CoordinationHealth         *prometheus.GaugeVec
	QueueDepth                 *prometheus.GaugeVec
	BatchRetries               *prometheus.CounterVec
	NotificationThresholdFired *prometheus.CounterVec

	// Matching instrumentation.
	MatchesScored     *prometheus.CounterVec
	MatchCacheHits    prometheus.Counter
	MatchCacheMisses  prometheus.Counter
	ComponentDuration *prometheus.HistogramVec
	ComponentFailures *prometheus.CounterVec
	QuickFilterDrops  prometheus.Counter

	// Ingestion instrumentation.
	OpportunitiesProcessed *prometheus.CounterVec
	AttachmentsProcessed   *prometheus.CounterVec
	EmbeddingsGenerated    *prometheus.CounterVec
	ExtractionFailures     *prometheus.CounterVec
	DocumentsProcessed     *prometheus.CounterVec
}

// NewRegistry creates a registry with all collectors registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		registry: reg,
		WeightGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "govmatch",
			Name:      "weight_value",
			Help:      "Configured weight per scoring component.",
		}, []string{"config_key", "component"}),
		ThresholdGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "govmatch",
			Name:      "confidence_threshold",
			Help:      "Configured confidence threshold per level.",
		}, []string{"config_key", "level"}),
		BatchCompletionPercentage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "govmatch",
			Name:      "batch_completion_percentage",
			Help:      "Completion percentage of the most recent batch update per coordination.",
		}, []string{"processing_type", "coordination_id"}),
		OverallProgressPercentage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "govmatch",
			Name:      "overall_progress_percentage",
			Help:      "Aggregate item progress percentage per coordination.",
		}, []string{"processing_type", "coordination_id"}),
		ProcessingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govmatch",
			Name:      "processing_errors_total",
			Help:      "Items that failed during batch processing.",
		}, []string{"processing_type"}),
		CoordinationHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "govmatch",
			Name:      "coordination_health",
			Help:      "Health classification per active coordination (0 healthy, 1 degraded, 2 stalled, 3 error).",
		}, []string{"processing_type", "coordination_id"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "govmatch",
			Name:      "queue_depth",
			Help:      "Approximate number of messages waiting per queue.",
		}, []string{"queue"}),
		BatchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govmatch",
			Name:      "batch_retries_total",
			Help:      "Batch retry attempts per processing type.",
		}, []string{"processing_type"}),
		NotificationThresholdFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govmatch",
			Name:      "progress_notifications_total",
			Help:      "Progress threshold notifications fired.",
		}, []string{"threshold"}),
		MatchesScored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govmatch",
			Name:      "matches_scored_total",
			Help:      "Completed match computations by confidence level.",
		}, []string{"confidence"}),
		MatchCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "govmatch",
			Name:      "match_cache_hits_total",
			Help:      "Match results served from cache.",
		}),
		MatchCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "govmatch",
			Name:      "match_cache_misses_total",
			Help:      "Match computations that missed the cache.",
		}),
		ComponentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "govmatch",
			Name:      "component_duration_seconds",
			Help:      "Scoring component execution time.",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30},
		}, []string{"component"}),
		ComponentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govmatch",
			Name:      "component_failures_total",
			Help:      "Scoring component errors and no-data outcomes.",
		}, []string{"component", "status"}),
		QuickFilterDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "govmatch",
			Name:      "quick_filter_drops_total",
			Help:      "Pairs rejected by the quick filter before full scoring.",
		}),
		OpportunitiesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govmatch",
			Name:      "opportunities_processed_total",
			Help:      "Opportunity rows processed by final status.",
		}, []string{"status"}),
		AttachmentsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govmatch",
			Name:      "attachments_processed_total",
			Help:      "Opportunity attachments processed by outcome.",
		}, []string{"outcome"}),
		EmbeddingsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govmatch",
			Name:      "embeddings_generated_total",
			Help:      "Embeddings generated per level.",
		}, []string{"level"}),
		ExtractionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govmatch",
			Name:      "extraction_failures_total",
			Help:      "Text extraction failures by format.",
		}, []string{"format"}),
		DocumentsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govmatch",
			Name:      "documents_processed_total",
			Help:      "Company documents processed by category.",
		}, []string{"category", "outcome"}),
	}

	reg.MustRegister(
		r.WeightGauge,
		r.ThresholdGauge,
		r.BatchCompletionPercentage,
		r.OverallProgressPercentage,
		r.ProcessingErrors,
		r.CoordinationHealth,
		r.QueueDepth,
		r.BatchRetries,
		r.NotificationThresholdFired,
		r.MatchesScored,
		r.MatchCacheHits,
		r.MatchCacheMisses,
		r.ComponentDuration,
		r.ComponentFailures,
		r.QuickFilterDrops,
		r.OpportunitiesProcessed,
		r.AttachmentsProcessed,
		r.EmbeddingsGenerated,
		r.ExtractionFailures,
		r.DocumentsProcessed,
	)

	return r
}

// Handler returns an HTTP handler serving the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// SetWeights updates the per-component weight gauges for one config key.
func (r *Registry) SetWeights(configKey string, weights map[string]float64) {
	for component, w := range weights {
		r.WeightGauge.WithLabelValues(configKey, component).Set(w)
	}
}

// SetThresholds updates the confidence threshold gauges for one config key.
func (r *Registry) SetThresholds(configKey string, high, medium, low float64) {
	r.ThresholdGauge.WithLabelValues(configKey, "high").Set(high)
	r.ThresholdGauge.WithLabelValues(configKey, "medium").Set(medium)
	r.ThresholdGauge.WithLabelValues(configKey, "low").Set(low)
}
