// Package client provides the HTTP client for the Hacker News item API
// with upstream back-off tracking, response caching and retries.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hneveryday/hn-client/pkg/cache"
	"github.com/hneveryday/hn-client/pkg/item"
	"github.com/hneveryday/hn-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for HN client operations.
var (
	hnRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_requests_total",
		Help: "Total HN API requests by endpoint kind and status",
	}, []string{"endpoint", "status"})

	hnRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hn_request_duration_seconds",
		Help:    "HN API request duration in seconds by endpoint kind",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	hnErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_errors_total",
		Help: "Total HN API errors by class",
	}, []string{"class"})
)

// DefaultBaseURL is the public Firebase endpoint of the item API.
const DefaultBaseURL = "https://hacker-news.firebaseio.com/v0"

// ErrorClass represents a classification of HTTP errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Client is the HN item API client.
type Client struct {
	httpClient *http.Client
	throttle   *ratelimit.Tracker
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the item API, without trailing slash.
	BaseURL string

	// Redis client for the response cache and shared back-off state.
	// Optional: without it caching is off and back-off state is per process.
	Redis *redis.Client

	// UserAgent sent with every request.
	UserAgent string

	// Timeout of a single HTTP round trip.
	Timeout time.Duration

	// Caching
	ItemCacheTTL    time.Duration // Fallback TTL for items
	ListingCacheTTL time.Duration // Fallback TTL for listings (they change fast)

	// Retry
	MaxRetries     int           // Total attempts per request
	InitialBackoff time.Duration // Overrides the per-class initial backoff when > 0
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(redis *redis.Client, userAgent string) Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		Redis:           redis,
		UserAgent:       userAgent,
		Timeout:         30 * time.Second,
		ItemCacheTTL:    cache.DefaultTTL,
		ListingCacheTTL: 30 * time.Second,
		MaxRetries:      3,
	}
}

// New creates a new HN client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ItemCacheTTL <= 0 {
		cfg.ItemCacheTTL = cache.DefaultTTL
	}
	if cfg.ListingCacheTTL <= 0 {
		cfg.ListingCacheTTL = 30 * time.Second
	}

	logger := log.With().Str("component", "hn-client").Logger()

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		throttle: ratelimit.NewTracker(cfg.Redis, logger),
		config:   cfg,
		logger:   logger,
	}

	if cfg.Redis != nil {
		c.cache = cache.NewManager(cfg.Redis, cfg.ItemCacheTTL)
	}

	return c, nil
}

// Do performs an HTTP request with back-off gating, caching, and retries.
// Non-success statuses that are not retried are returned to the caller as
// responses, not errors.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := endpointKind(req.URL.Path)

	startTime := time.Now()
	defer func() {
		hnRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Check upstream back-off
	if err := c.checkThrottle(ctx, endpoint); err != nil {
		return nil, err
	}

	// Step 2: Check cache
	cacheKey := cache.Key{
		Endpoint: req.URL.Path,
		Query:    req.URL.Query(),
	}

	var cachedEntry *cache.Entry
	if c.cache != nil && req.Method == http.MethodGet {
		entry, err := c.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
		cachedEntry = entry
	}

	if cachedEntry != nil && !cachedEntry.IsExpired() {
		hnRequestsTotal.WithLabelValues(endpoint, "cache_hit").Inc()
		return cache.EntryToResponse(cachedEntry, req), nil
	}

	// Step 3: Revalidate stale entries
	if cachedEntry != nil && cache.ShouldMakeConditionalRequest(cachedEntry) {
		cache.AddConditionalHeaders(req, cachedEntry)
		cache.ConditionalRequestsSent.Inc()
		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("etag", cachedEntry.ETag).
			Msg("Making conditional request")
	}

	// Step 4: Headers
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	// Step 5: Execute with retry
	var resp *http.Response
	var errClass ErrorClass
	attempts := 0

	retryErr := retryWithBackoff(ctx, func() error {
		errClass = ""
		attempts++
		if attempts > 1 {
			// Honour any window the failed attempt opened
			if err := c.checkThrottle(ctx, endpoint); err != nil {
				return err
			}
		}

		var reqErr error
		resp, reqErr = c.httpClient.Do(req)
		if reqErr != nil {
			resp = nil
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			}
			errClass = c.classifyError(nil, reqErr)
			hnErrorsTotal.WithLabelValues(string(errClass)).Inc()
			hnRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			c.logger.Warn().Err(reqErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			return reqErr
		}

		if err := c.throttle.UpdateFromResponse(ctx, resp); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record back-off window")
		}

		if resp.StatusCode == http.StatusNotModified {
			return nil
		}

		if resp.StatusCode >= 400 {
			errClass = c.classifyError(resp, nil)
			hnErrorsTotal.WithLabelValues(string(errClass)).Inc()
			hnRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("HN API request error")

			if shouldRetry(errClass) {
				resp.Body.Close()
				return &APIError{
					StatusCode: resp.StatusCode,
					ErrorClass: errClass,
					Message:    resp.Status,
				}
			}

			// Let the caller handle the status
			return nil
		}

		hnRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		return nil
	}, func(error) ErrorClass {
		return errClass
	}, c.retryConfig)

	if retryErr != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, retryErr
	}

	// Step 6: 304 Not Modified
	if resp.StatusCode == http.StatusNotModified && cachedEntry != nil {
		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using cache")
		hnRequestsTotal.WithLabelValues(endpoint, "304").Inc()
		cache.NotModifiedResponses.Inc()

		// ResponseToEntry drains and closes the empty 304 body
		newExpires := time.Now().Add(c.fallbackTTL(endpoint))
		if refreshed, err := cache.ResponseToEntry(resp, c.fallbackTTL(endpoint)); err == nil {
			newExpires = refreshed.Expires
		} else {
			resp.Body.Close()
		}
		if err := c.cache.Refresh(ctx, cacheKey, cachedEntry, newExpires); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to refresh cache entry")
		}

		return cache.EntryToResponse(cachedEntry, req), nil
	}

	// Step 7: Fill cache
	if c.cache != nil && resp.StatusCode == http.StatusOK && req.Method == http.MethodGet {
		entry, err := cache.ResponseToEntry(resp, c.fallbackTTL(endpoint))
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		} else {
			c.logger.Debug().
				Str("endpoint", endpoint).
				Dur("ttl", entry.TTL()).
				Msg("Cached response")
		}
	}

	return resp, nil
}

func (c *Client) checkThrottle(ctx context.Context, endpoint string) error {
	allowed, err := c.throttle.ShouldAllowRequest(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}
		// Shared state unavailable: fail open rather than stall every lookup
		c.logger.Warn().Err(err).Msg("Back-off check failed")
		return nil
	}
	if !allowed {
		c.logger.Warn().Str("endpoint", endpoint).Msg("Request blocked by upstream back-off")
		hnRequestsTotal.WithLabelValues(endpoint, "throttled").Inc()
		return ErrThrottled
	}
	return nil
}

// retryConfig applies the client's overrides to the per-class schedule.
func (c *Client) retryConfig(class ErrorClass) RetryConfig {
	cfg := RetryConfigForErrorClass(class)
	cfg.MaxAttempts = c.config.MaxRetries
	if c.config.InitialBackoff > 0 {
		cfg.InitialBackoff = c.config.InitialBackoff
		if cfg.MaxBackoff < cfg.InitialBackoff {
			cfg.MaxBackoff = cfg.InitialBackoff
		}
	}
	return cfg
}

func (c *Client) fallbackTTL(endpoint string) time.Duration {
	if endpoint == "listing" {
		return c.config.ListingCacheTTL
	}
	return c.config.ItemCacheTTL
}

// classifyError categorizes an error for observability and handling.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// endpointKind maps a request path to a low-cardinality metric label.
func endpointKind(path string) string {
	switch {
	case strings.Contains(path, "/item/"):
		return "item"
	case strings.Contains(path, "/user/"):
		return "user"
	case strings.HasSuffix(path, "stories.json"):
		return "listing"
	default:
		return "other"
	}
}

// Get performs a GET request to a path below the base URL.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// getJSON fetches path and decodes the body into v. A literal null body
// yields ErrNotFound.
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: c.classifyError(resp, nil),
			Message:    resp.Status,
		}
		if resp.StatusCode == http.StatusNotFound {
			apiErr.Err = ErrNotFound
		}
		return apiErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if trimmed := strings.TrimSpace(string(body)); trimmed == "" || trimmed == "null" {
		return ErrNotFound
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	return nil
}

// GetItem fetches a single item by ID.
func (c *Client) GetItem(ctx context.Context, id int) (*item.Item, error) {
	var it item.Item
	if err := c.getJSON(ctx, fmt.Sprintf("/item/%d.json", id), &it); err != nil {
		return nil, fmt.Errorf("get item %d: %w", id, err)
	}
	return &it, nil
}

// GetListing fetches the ordered candidate IDs of a category.
func (c *Client) GetListing(ctx context.Context, category item.Category) ([]int, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("get listing: unknown category %q", category)
	}

	var ids []int
	if err := c.getJSON(ctx, "/"+category.Endpoint()+".json", &ids); err != nil {
		return nil, fmt.Errorf("get listing %s: %w", category, err)
	}
	return ids, nil
}

// GetUser fetches a user profile by name.
func (c *Client) GetUser(ctx context.Context, name string) (*item.User, error) {
	if name == "" {
		return nil, fmt.Errorf("get user: empty name")
	}

	var u item.User
	if err := c.getJSON(ctx, "/user/"+url.PathEscape(name)+".json", &u); err != nil {
		return nil, fmt.Errorf("get user %s: %w", name, err)
	}
	return &u, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCache returns the cache manager, nil when caching is off.
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}

// Throttle returns the back-off tracker.
func (c *Client) Throttle() *ratelimit.Tracker {
	return c.throttle
}
