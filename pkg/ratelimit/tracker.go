package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for throttle tracking.
var (
	hnThrottleActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hn_throttle_active",
		Help: "1 while the upstream API has asked clients to back off",
	})

	hnThrottleBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hn_throttle_blocks_total",
		Help: "Total number of requests refused during a back-off window",
	})

	hnThrottleWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hn_throttle_waits_total",
		Help: "Total number of requests delayed until a short back-off window closed",
	})

	hnThrottleUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hn_throttle_updates_total",
		Help: "Total number of back-off windows recorded from upstream responses",
	})
)

// Tracker records back-off windows and gates requests.
type Tracker struct {
	redis   *redis.Client
	logger  zerolog.Logger
	maxWait time.Duration
	now     func() time.Time

	mu    sync.Mutex
	local ThrottleState
}

// NewTracker creates a new throttle tracker. redisClient may be nil, in
// which case state is per process.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:   redisClient,
		logger:  logger,
		maxWait: DefaultMaxWait,
		now:     time.Now,
	}
}

// SetMaxWait changes the longest window a request waits through.
func (t *Tracker) SetMaxWait(d time.Duration) {
	t.maxWait = d
}

// GetState retrieves the current throttle state.
func (t *Tracker) GetState(ctx context.Context) (*ThrottleState, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		state := t.local
		return &state, nil
	}

	blockedUntil, err := t.redis.Get(ctx, RedisKeyBlockedUntil).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &ThrottleState{}, nil
		}
		return nil, fmt.Errorf("get blocked until: %w", err)
	}

	status, err := t.redis.Get(ctx, RedisKeyLastStatus).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last status: %w", err)
	}

	return &ThrottleState{
		BlockedUntil: time.UnixMilli(blockedUntil),
		LastStatus:   status,
	}, nil
}

// UpdateFromResponse opens a back-off window when the response asks for
// one (429, or 503 with Retry-After). Other responses are ignored.
func (t *Tracker) UpdateFromResponse(ctx context.Context, resp *http.Response) error {
	if resp == nil {
		return nil
	}

	retryAfter := resp.Header.Get("Retry-After")
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
	case resp.StatusCode == http.StatusServiceUnavailable && retryAfter != "":
	default:
		return nil
	}

	now := t.now()
	wait := ParseRetryAfter(retryAfter, now)
	if wait <= 0 {
		wait = DefaultBackoff
	}
	if wait > MaxBackoff {
		wait = MaxBackoff
	}

	state := ThrottleState{
		BlockedUntil: now.Add(wait),
		LastStatus:   resp.StatusCode,
	}

	if t.redis == nil {
		t.mu.Lock()
		if state.BlockedUntil.After(t.local.BlockedUntil) {
			t.local = state
		}
		t.mu.Unlock()
	} else {
		// Keys expire with the window so a crashed writer cannot leave
		// a permanent block behind.
		pipe := t.redis.Pipeline()
		pipe.Set(ctx, RedisKeyBlockedUntil, state.BlockedUntil.UnixMilli(), wait)
		pipe.Set(ctx, RedisKeyLastStatus, state.LastStatus, wait)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("store throttle state in redis: %w", err)
		}
	}

	hnThrottleUpdatesTotal.Inc()
	hnThrottleActive.Set(1)

	t.logger.Warn().
		Int("status", resp.StatusCode).
		Dur("wait", wait).
		Time("blocked_until", state.BlockedUntil).
		Msg("Upstream asked to back off")

	return nil
}

// ShouldAllowRequest checks whether a request may be sent now.
// Returns false if a back-off window longer than the max wait is open.
// Returns true after sleeping through a shorter window.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get throttle state: %w", err)
	}

	now := t.now()
	if !state.IsBlocked(now) {
		hnThrottleActive.Set(0)
		return true, nil
	}

	if state.NeedsBlock(now, t.maxWait) {
		t.logger.Warn().
			Dur("remaining", state.Remaining(now)).
			Msg("Back-off window open - blocking request")
		hnThrottleBlocksTotal.Inc()
		return false, nil
	}

	wait := state.Remaining(now)
	t.logger.Debug().Dur("wait", wait).Msg("Back-off window open - delaying request")
	hnThrottleWaitsTotal.Inc()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
	}
	return true, nil
}

// ParseRetryAfter understands both delta-seconds and HTTP-date forms.
// Returns 0 when the header is empty or malformed.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
