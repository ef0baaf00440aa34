package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "training_search"

var (
	// EngineConnectAttempts counts connection attempts at startup, by outcome.
	EngineConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_connect_attempts_total",
			Help:      "Search engine connection attempts by outcome (ok, dial_error, ping_error)",
		},
		[]string{"outcome"},
	)

	// DocumentsIndexed counts documents submitted to the engine, by result.
	DocumentsIndexed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_indexed_total",
			Help:      "Catalog records submitted for indexing by result (ok, failed, rejected)",
		},
		[]string{"result"},
	)

	// ReindexDuration observes full reindex runs.
	ReindexDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reindex_duration_seconds",
			Help:      "Duration of full reindex runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// QueryErrors counts failed engine queries, by operation.
	QueryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_errors_total",
			Help:      "Failed search engine queries by operation",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(EngineConnectAttempts)
	prometheus.MustRegister(DocumentsIndexed)
	prometheus.MustRegister(ReindexDuration)
	prometheus.MustRegister(QueryErrors)
}
