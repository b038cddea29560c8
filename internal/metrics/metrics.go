// Package metrics holds the Prometheus collectors exported by the gateway.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets spans typical backend latencies, 100ms to 2 minutes.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// ProviderRequestsTotal counts backend calls by provider, mode (sync|stream) and outcome.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgate_provider_requests_total",
			Help: "Backend requests",
		},
		[]string{"provider", "mode", "outcome"},
	)

	// ProviderLatency records backend call duration in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmgate_provider_latency_seconds",
			Help:    "Backend latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "mode"},
	)

	// ProviderTokensTotal counts backend-reported tokens by direction (prompt|completion).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgate_provider_tokens_total",
			Help: "Token count reported by backends",
		},
		[]string{"provider", "direction"},
	)

	// StreamEventsTotal counts canonical stream events by kind (delta|terminal).
	StreamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgate_stream_events_total",
			Help: "Canonical stream events emitted",
		},
		[]string{"provider", "kind"},
	)

	// StreamFragmentsSkippedTotal counts malformed backend stream lines that were dropped.
	StreamFragmentsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgate_stream_fragments_skipped_total",
			Help: "Malformed stream fragments skipped",
		},
		[]string{"provider"},
	)

	// ProviderFallbackTotal counts registry lookups that fell back to the default adapter.
	ProviderFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "llmgate_provider_fallback_total",
			Help: "Provider selections that used the fallback adapter",
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "llmgate_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ProviderRequestsTotal,
		ProviderLatency,
		ProviderTokensTotal,
		StreamEventsTotal,
		StreamFragmentsSkippedTotal,
		ProviderFallbackTotal,
		RateLimitRejectedTotal,
	)
}
