// Package metrics exposes the Prometheus registry used by the HN client.
// Metrics are defined in the packages that record them (client, cache,
// ratelimit, batch, tree, feed, summarize, article) so that no package
// depends on another just to count something.
//
// This package provides the HTTP handler and the catalogue below.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the HN client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the /metrics endpoint for the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - hn_requests_total{endpoint, status} (Counter): Requests by endpoint kind and HTTP status
//   - hn_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint kind
//   - hn_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - hn_retries_total{error_class} (Counter): Retry attempts by error class
//   - hn_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - hn_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Cache Metrics (pkg/cache):
//   - hn_cache_hits_total{layer="redis"} (Counter)
//   - hn_cache_misses_total (Counter)
//   - hn_cache_size_bytes{layer="redis"} (Gauge)
//   - hn_304_responses_total (Counter)
//   - hn_conditional_requests_total (Counter)
//   - hn_cache_errors_total{operation} (Counter)
//
// Throttle Metrics (pkg/ratelimit):
//   - hn_throttle_active (Gauge): 1 while upstream asked us to back off
//   - hn_throttle_blocks_total (Counter): Requests refused during a back-off window
//   - hn_throttle_updates_total (Counter): Back-off windows recorded from Retry-After
//
// Core Metrics (pkg/batch, pkg/tree, pkg/feed):
//   - hn_batch_lookups_total{outcome} (Counter): Per-ID lookups (ok, failed)
//   - hn_batch_duration_seconds (Histogram): Wall time of a whole batch
//   - hn_tree_loads_total{outcome} (Counter): LoadTree calls (ok, failed)
//   - hn_tree_truncations_total (Counter): Levels cut off by the depth ceiling
//   - hn_tree_tombstones_total (Counter): Deleted/dead items dropped
//   - hn_tree_cache_hits_total (Counter): Session-cache hits inside one load
//   - hn_feed_pages_total{category} (Counter): Pages appended
//   - hn_feed_refresh_total{category, outcome} (Counter): Refreshes
//   - hn_feed_dropped_calls_total{operation} (Counter): Calls dropped by busy guards
//
// Collaborator Metrics:
//   - hn_summarize_attempts_total{outcome} (Counter)
//   - hn_article_extractions_total{outcome} (Counter): ok, failed, superseded
//
// Example Prometheus Queries:
//
//   # Item lookup failure ratio
//   sum(rate(hn_batch_lookups_total{outcome="failed"}[5m])) /
//   sum(rate(hn_batch_lookups_total[5m]))
//
//   # P95 batch latency
//   histogram_quantile(0.95, rate(hn_batch_duration_seconds_bucket[5m]))
//
//   # Cache Hit Rate
//   sum(rate(hn_cache_hits_total[5m])) /
//   (sum(rate(hn_cache_hits_total[5m])) + sum(rate(hn_cache_misses_total[5m])))
