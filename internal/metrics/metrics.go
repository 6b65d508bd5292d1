package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics
var (
	InferenceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_inference_requests_total",
			Help: "Requests sent to the model-inference backend by operation, model and outcome",
		},
		[]string{"operation", "model", "outcome"},
	)
	Recoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_inference_recoveries_total",
			Help: "Retries performed after a recoverable inference failure, by reason",
		},
		[]string{"reason"},
	)
	ModelPulls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_model_pulls_total",
			Help: "Completed model pulls by model name",
		},
		[]string{"model"},
	)
	IndexRecreations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_index_recreations_total",
			Help: "Collections dropped and recreated because of a vector size mismatch",
		},
		[]string{"collection"},
	)
	PassagesIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docqa_passages_ingested_total",
			Help: "Passages written to the vector index",
		},
	)
	Queries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_queries_total",
			Help: "Questions answered by outcome (answered, no_context, error)",
		},
		[]string{"outcome"},
	)
	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docqa_query_duration_seconds",
			Help:    "End-to-end latency of answered questions",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
	)
)

// Registry holds every docqa collector; it is served by Handler.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		InferenceRequests,
		Recoveries,
		ModelPulls,
		IndexRecreations,
		PassagesIngested,
		Queries,
		QueryDuration,
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Outcome maps an error to the outcome label used across counters.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
