package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crisis_data"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	// Warehouse statement metrics.
	StatementsSubmitted prometheus.Counter
	StatementOutcomes   *prometheus.CounterVec // labels: outcome={succeeded,failed,timeout,canceled,submit_error,poll_error}
	StatementPolls      prometheus.Histogram
	StatementDuration   prometheus.Histogram
	ResultCache         *prometheus.CounterVec // labels: result={hit,miss}

	// Genie conversation metrics.
	GenieQuestions *prometheus.CounterVec // labels: outcome

	// Map refresh metrics.
	MapRefreshes       *prometheus.CounterVec // labels: outcome={success,error}
	MapRefreshDuration prometheus.Histogram
	MergedFeatures     *prometheus.GaugeVec // labels: bucket
	FeaturesPublished  prometheus.Counter
	MapRefreshRunning  prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(
		m.StatementsSubmitted,
		m.StatementOutcomes,
		m.StatementPolls,
		m.StatementDuration,
		m.ResultCache,
		m.GenieQuestions,
		m.MapRefreshes,
		m.MapRefreshDuration,
		m.MergedFeatures,
		m.FeaturesPublished,
		m.MapRefreshRunning,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		StatementsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statements_submitted_total",
			Help:      help("Statements accepted by the SQL warehouse."),
		}),
		StatementOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statement_outcomes_total",
			Help:      help("Statement executions by final outcome."),
		}, []string{"outcome"}),
		StatementPolls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "statement_polls",
			Help:      help("Status requests issued per statement."),
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 40, 60},
		}),
		StatementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "statement_duration_seconds",
			Help:      help("Wall time from submission to terminal state."),
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
		ResultCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_total",
			Help:      help("Statement result cache lookups by result."),
		}, []string{"result"}),
		GenieQuestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "genie_questions_total",
			Help:      help("Genie questions by outcome."),
		}, []string{"outcome"}),
		MapRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "map_refreshes_total",
			Help:      help("Crisis map refresh cycles by outcome."),
		}, []string{"outcome"}),
		MapRefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "map_refresh_duration_seconds",
			Help:      help("Duration of a query-merge-publish cycle."),
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
		MergedFeatures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "merged_features",
			Help:      help("Features in the current crisis map by severity bucket."),
		}, []string{"bucket"}),
		FeaturesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_published_total",
			Help:      help("Merged map features written to Kafka."),
		}),
		MapRefreshRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "map_refresh_running",
			Help:      help("1 when the map refresh loop is active, 0 when shut down."),
		}),
	}
}
