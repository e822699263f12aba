// Package cache stores raw item API responses in Redis so repeated
// lookups of the same item or listing within its freshness window do not
// reach the network. Entries keep validators (ETag, Last-Modified) so a
// stale entry can be revalidated with a conditional request.
//
// Basic usage:
//
//	manager := cache.NewManager(redisClient, cache.DefaultTTL)
//	key := cache.Key{Endpoint: "/v0/item/8863.json"}
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then:
//		entry, _ = cache.ResponseToEntry(resp, manager.FallbackTTL())
//		_ = manager.Set(ctx, key, entry)
//	}
package cache

import (
	"net/http"
	"time"
)

// Entry represents a cached API response.
type Entry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// ETag for conditional requests (If-None-Match)
	ETag string `json:"etag,omitempty"`

	// Expires is when the entry stops being served without revalidation
	Expires time.Time `json:"expires"`

	// LastModified from the Last-Modified header, zero when absent
	LastModified time.Time `json:"last_modified,omitzero"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Headers are the response headers
	Headers http.Header `json:"headers,omitempty"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Retained reports whether the entry is still worth keeping: it is fresh,
// or it is stale but carries a validator for a conditional request.
func (e *Entry) Retained() bool {
	return !e.IsExpired() || ShouldMakeConditionalRequest(e)
}

// StoreTTL returns how long the backing store should keep the entry.
// Entries with validators outlive their freshness by staleRetention.
func (e *Entry) StoreTTL(staleRetention time.Duration) time.Duration {
	ttl := e.TTL()
	if ShouldMakeConditionalRequest(e) {
		ttl += staleRetention
	}
	return ttl
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CachedAt)
}
