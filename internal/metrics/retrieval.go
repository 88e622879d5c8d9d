package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retrieval Prometheus metrics: vector index calls and hybrid search.
var (
	VectorRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_retries_total",
			Help:      "Retried vector index calls",
		},
		[]string{"op"},
	)

	VectorDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_documents_total",
			Help:      "Documents processed by vector upserts",
		},
		[]string{"status"}, // "indexed" / "skipped"
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Hybrid search latency per branch and overall",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"branch"}, // "lexical" / "vector" / "total"
	)

	SearchBranchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_branch_failures_total",
			Help:      "Search branches that failed or timed out and were fused as empty",
		},
		[]string{"branch", "reason"},
	)
)

var retrievalMetricsRegistered bool

// RegisterRetrievalMetrics registers vector and search metrics. Must be called once from main.
func RegisterRetrievalMetrics() {
	if retrievalMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		VectorRetriesTotal,
		VectorDocumentsTotal,
		SearchDuration,
		SearchBranchFailuresTotal,
	)
	retrievalMetricsRegistered = true
}
