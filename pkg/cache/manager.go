package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

const (
	// DefaultTTL applies when a response carries no freshness headers.
	// Items change slowly once their score settles; listings change fast,
	// so callers pass a shorter fallback for listings.
	DefaultTTL = 2 * time.Minute

	// DefaultStaleRetention keeps expired entries that have validators
	// around long enough to be revalidated instead of refetched.
	DefaultStaleRetention = 10 * time.Minute
)

// Manager handles caching operations with Redis backend.
type Manager struct {
	redis          *redis.Client
	fallbackTTL    time.Duration
	staleRetention time.Duration
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client, fallbackTTL time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if fallbackTTL <= 0 {
		fallbackTTL = DefaultTTL
	}
	return &Manager{
		redis:          redisClient,
		fallbackTTL:    fallbackTTL,
		staleRetention: DefaultStaleRetention,
	}
}

// FallbackTTL returns the TTL used for responses without freshness headers.
func (m *Manager) FallbackTTL() time.Duration {
	return m.fallbackTTL
}

// Get retrieves a cache entry by key. The entry may be expired; callers
// check IsExpired and revalidate stale entries that carry validators.
// Returns ErrCacheMiss if the key doesn't exist.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if !entry.Retained() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("redis").Inc()
	return &entry, nil
}

// Set stores a cache entry. Redis drops it once it is past Expires plus
// the stale retention window.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.StoreTTL(m.staleRetention)
	if ttl <= 0 {
		// Already expired and cannot be revalidated
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheSize.WithLabelValues("redis").Add(float64(len(data)))

	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// Refresh extends an entry after a 304 Not Modified response.
func (m *Manager) Refresh(ctx context.Context, key Key, entry *Entry, newExpires time.Time) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	entry.Expires = newExpires
	entry.CachedAt = time.Now()
	return m.Set(ctx, key, entry)
}
