package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the resolver pipeline.
type Metrics struct {
	MessagesConsumed prometheus.Counter
	MessagesProduced prometheus.Counter
	ParseErrors      prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Matching metrics.
	MatchAttempts     *prometheus.CounterVec // labels: tier={source,canonical,cross_source,none}, outcome={hit,miss}
	MatchDuration     prometheus.Histogram
	UnmatchedRecorded prometheus.Counter

	// Background work metrics.
	SuggestionComputations *prometheus.CounterVec // labels: outcome={success,retry,failure}
	LexiconRebuilds        prometheus.Counter
}

// NewMetrics creates and registers all resolver metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "location_resolver",
			Name:      "messages_consumed_total",
			Help:      "Total messages read from the source topic.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "location_resolver",
			Name:      "messages_produced_total",
			Help:      "Total messages written to the sink topic.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "location_resolver",
			Name:      "parse_errors_total",
			Help:      "Total messages skipped because their payload did not parse.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "location_resolver",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "location_resolver",
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "location_resolver",
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-resolve-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		MatchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "location_resolver",
			Name:      "match_attempts_total",
			Help:      "Location match attempts by resolving tier and outcome.",
		}, []string{"tier", "outcome"}),
		MatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "location_resolver",
			Name:      "match_duration_seconds",
			Help:      "Duration of a single location match across all tiers.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		UnmatchedRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "location_resolver",
			Name:      "unmatched_recorded_total",
			Help:      "Total match failures recorded for later review.",
		}),
		SuggestionComputations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "location_resolver",
			Name:      "suggestion_computations_total",
			Help:      "Suggestion computation attempts by outcome.",
		}, []string{"outcome"}),
		LexiconRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "location_resolver",
			Name:      "lexicon_rebuilds_total",
			Help:      "Total rebuilds of the suffix and prefix lexicon.",
		}),
	}

	prometheus.MustRegister(
		m.MessagesConsumed,
		m.MessagesProduced,
		m.ParseErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.MatchAttempts,
		m.MatchDuration,
		m.UnmatchedRecorded,
		m.SuggestionComputations,
		m.LexiconRebuilds,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		MessagesConsumed:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "location_resolver", Name: "messages_consumed_total"}),
		MessagesProduced:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "location_resolver", Name: "messages_produced_total"}),
		ParseErrors:             prometheus.NewCounter(prometheus.CounterOpts{Namespace: "location_resolver", Name: "parse_errors_total"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "location_resolver", Name: "pipeline_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "location_resolver", Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "location_resolver", Name: "batch_processing_duration_seconds"}),
		MatchAttempts:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "location_resolver", Name: "match_attempts_total"}, []string{"tier", "outcome"}),
		MatchDuration:           prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "location_resolver", Name: "match_duration_seconds"}),
		UnmatchedRecorded:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "location_resolver", Name: "unmatched_recorded_total"}),
		SuggestionComputations:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "location_resolver", Name: "suggestion_computations_total"}, []string{"outcome"}),
		LexiconRebuilds:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "location_resolver", Name: "lexicon_rebuilds_total"}),
	}
}
