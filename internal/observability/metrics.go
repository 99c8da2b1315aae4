package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status"},
	)
	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_auth_failures_total",
			Help: "Rejected requests by reason (missing, invalid, forbidden).",
		},
		[]string{"reason"},
	)

	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_questions_total",
			Help: "Questions handled, by outcome kind.",
		},
		[]string{"kind"},
	)
	memoryLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_memory_lookups_total",
			Help: "Conversation memory lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)
	memoryPersistFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_memory_persist_failures_total",
			Help: "Failed interaction log writes.",
		},
	)
	pipelineStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_pipeline_stage_duration_seconds",
			Help:    "Duration of assistant pipeline stages.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
	llmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_llm_requests_total",
			Help: "Reasoning service requests by provider and status.",
		},
		[]string{"provider", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		authFailuresTotal,
		questionsTotal,
		memoryLookupsTotal,
		memoryPersistFailuresTotal,
		pipelineStageDurationSeconds,
		llmRequestsTotal,
	)
}

func ObserveAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}

func ObserveQuestion(kind string) {
	questionsTotal.WithLabelValues(kind).Inc()
}

func ObserveMemoryLookup(result string) {
	memoryLookupsTotal.WithLabelValues(result).Inc()
}

func IncrementMemoryPersistFailure() {
	memoryPersistFailuresTotal.Inc()
}

func ObserveStage(stage string, elapsed time.Duration) {
	pipelineStageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveLLMRequest records one reasoning service call; a nil err counts as ok.
func ObserveLLMRequest(provider string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	llmRequestsTotal.WithLabelValues(provider, status).Inc()
}
