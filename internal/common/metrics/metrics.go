// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humanizer_requests_total",
			Help: "Total number of LLM task requests by outcome",
		},
		[]string{"task", "status"},
	)

	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humanizer_provider_calls_total",
			Help: "Total number of outbound provider attempts by outcome",
		},
		[]string{"outcome"},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "humanizer_provider_duration_seconds",
			Help: "Duration of provider round trips in seconds",
		},
		[]string{"task"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "humanizer_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		},
	)
)
