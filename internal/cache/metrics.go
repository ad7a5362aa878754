package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Results recorded in review_cache_requests_total.
const (
	resultHit      = "hit"
	resultMiss     = "miss"
	resultError    = "error"
	resultRejected = "rejected"
	resultStored   = "stored"
	resultStale    = "stale"
)

var (
	cacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_cache_requests_total",
			Help: "Review cache operations by outcome",
		},
		[]string{"operation", "result"},
	)

	invalidatedKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "review_cache_invalidated_keys_total",
			Help: "Cached responses dropped by product invalidation",
		},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "review_cache_breaker_state",
			Help: "Cache circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
