package cache

import (
	"github.com/Sternrassler/yt-comments/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache state labels used for CacheHits.
const (
	StateFresh       = "fresh"
	StateRevalidated = "revalidated"
)

var (
	// CacheHits tracks responses served from cache by state
	CacheHits = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "yt_cache_hits_total",
			Help: "Total number of API responses served from cache",
		},
		[]string{"state"},
	)

	CacheMisses = promauto.With(metrics.Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "yt_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheSize tracks bytes written to the cache by this process
	CacheSize = promauto.With(metrics.Registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "yt_cache_size_bytes",
			Help: "Bytes written to the response cache",
		},
	)

	NotModifiedResponses = promauto.With(metrics.Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "yt_304_responses_total",
			Help: "Total number of 304 Not Modified responses",
		},
	)

	ConditionalRequestsSent = promauto.With(metrics.Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "yt_conditional_requests_total",
			Help: "Total number of requests sent with If-None-Match",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "yt_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
