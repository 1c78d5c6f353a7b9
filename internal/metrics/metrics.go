// Package metrics exposes Prometheus instrumentation for the resilience
// components (circuit breaker, rate limiter, bulkhead, cache). It mirrors
// the teacher's per-provider gauge/counter/histogram style.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CircuitBreakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilient_llm_circuit_breaker_open",
			Help: "Circuit breaker open state per bucket id (1 open, 0 closed).",
		},
		[]string{"bucket_id"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_llm_circuit_breaker_failures_total",
			Help: "Total failures recorded by the circuit breaker per bucket id.",
		},
		[]string{"bucket_id"},
	)

	BulkheadInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilient_llm_bulkhead_in_flight",
			Help: "Current in-flight operations per bucket id.",
		},
		[]string{"bucket_id"},
	)

	BulkheadRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_llm_bulkhead_rejections_total",
			Help: "Total ConcurrencyExceeded rejections per bucket id.",
		},
		[]string{"bucket_id"},
	)

	RateLimitWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilient_llm_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the rate limit manager before a call proceeds.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"bucket_id"},
	)

	CacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_llm_cache_results_total",
			Help: "Cache lookup results per bucket id (hit or miss).",
		},
		[]string{"bucket_id", "result"},
	)

	OperationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_llm_operation_attempts_total",
			Help: "Total fn invocations by the Resilient Operation per bucket id and outcome.",
		},
		[]string{"bucket_id", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		CircuitBreakerOpen,
		CircuitBreakerFailures,
		BulkheadInFlight,
		BulkheadRejections,
		RateLimitWaitSeconds,
		CacheResults,
		OperationAttempts,
	)
}
