// Package metrics registers the Prometheus metrics used by the gateway.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request-level counters and histograms, labelled per function, variant,
// model, and provider (spec.md §4.H: "labels low-cardinality by
// construction — metric names and provider names are static").
var (
	// RequestsTotal counts completed requests labelled by outcome
	// ("success", "error", "aborted", "rejected").
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of inferences processed by the gateway.",
		},
		[]string{"function", "variant", "model", "provider", "outcome"},
	)

	// RequestDuration observes end-to-end request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end inference duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"function", "variant", "model", "provider"},
	)

	// TokensTotal counts tokens exchanged with providers, labelled by
	// direction ("input" or "output").
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_total",
			Help: "Total tokens exchanged with providers.",
		},
		[]string{"function", "variant", "model", "provider", "direction"},
	)

	// ProviderErrors counts errors broken down by provider and classified
	// error kind.
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_provider_errors_total",
			Help: "Total provider errors by classified kind.",
		},
		[]string{"provider", "kind"},
	)

	// CircuitBreakerState tracks per-provider circuit breaker state as a gauge:
	// 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0=closed 1=open 2=half_open).",
		},
		[]string{"provider"},
	)

	// FeedbackCount counts feedback records accepted, labelled by metric name
	// and level ("inference" or "episode").
	FeedbackCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_feedback_count",
			Help: "Total feedback records accepted, by metric and level.",
		},
		[]string{"metric", "level"},
	)

	// ObservabilityRecordsDropped counts InferenceRecord/FeedbackRecord values
	// dropped because the buffered channel to the analytics sink was full
	// (spec.md §4.H "buffer overflow: oldest records are dropped").
	ObservabilityRecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_observability_records_dropped_total",
			Help: "Total records dropped from the observability buffer on overflow.",
		},
		[]string{"record_type"},
	)

	// RateLimitRejections counts requests rejected by the rate-limit plugin,
	// labelled by key_type (the plugin uses "plugin").
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejections_total",
			Help: "Total requests rejected by rate limiting.",
		},
		[]string{"key_type"},
	)
)
