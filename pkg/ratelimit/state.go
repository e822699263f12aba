// Package ratelimit tracks back-off windows requested by the upstream
// API (429 Too Many Requests or 503 with Retry-After) and gates outgoing
// requests while a window is open. State lives in Redis when one is
// configured so every process sharing the egress IP honours the same
// window; otherwise it is kept in memory.
package ratelimit

import (
	"time"
)

// Redis keys for throttle state storage.
const (
	RedisKeyBlockedUntil = "hn:throttle:blocked_until"
	RedisKeyLastStatus   = "hn:throttle:last_status"
)

const (
	// DefaultBackoff applies to a 429 without a usable Retry-After header.
	DefaultBackoff = 5 * time.Second

	// MaxBackoff caps any window requested by the server.
	MaxBackoff = 10 * time.Minute

	// DefaultMaxWait is the longest window a request sleeps through
	// before being refused outright.
	DefaultMaxWait = 2 * time.Second
)

// ThrottleState is the current back-off window.
type ThrottleState struct {
	// BlockedUntil is when requests may resume. Zero means not throttled.
	BlockedUntil time.Time `json:"blocked_until"`

	// LastStatus is the HTTP status that opened the window.
	LastStatus int `json:"last_status"`
}

// IsBlocked reports whether the window is still open at now.
func (s *ThrottleState) IsBlocked(now time.Time) bool {
	return now.Before(s.BlockedUntil)
}

// Remaining returns how long the window stays open.
// Returns 0 if the window has already closed.
func (s *ThrottleState) Remaining(now time.Time) time.Duration {
	d := s.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// NeedsBlock reports whether a request must be refused rather than
// delayed, given the longest acceptable wait.
func (s *ThrottleState) NeedsBlock(now time.Time, maxWait time.Duration) bool {
	return s.Remaining(now) > maxWait
}

// NeedsThrottling reports whether a request should wait out the window.
func (s *ThrottleState) NeedsThrottling(now time.Time, maxWait time.Duration) bool {
	return s.IsBlocked(now) && !s.NeedsBlock(now, maxWait)
}
