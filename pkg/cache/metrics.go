package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hn_cache_hits_total",
			Help: "Total number of HN response cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hn_cache_misses_total",
			Help: "Total number of HN response cache misses",
		},
	)

	// CacheSize tracks the bytes written to the cache by layer
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hn_cache_size_bytes",
			Help: "Bytes written to the HN response cache",
		},
		[]string{"layer"},
	)

	// NotModifiedResponses tracks 304 Not Modified responses
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hn_304_responses_total",
			Help: "Total number of 304 Not Modified responses",
		},
	)

	// ConditionalRequestsSent tracks revalidation requests
	ConditionalRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hn_conditional_requests_total",
			Help: "Total number of conditional requests sent",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hn_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
