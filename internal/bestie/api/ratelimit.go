package api

import (
	"strings"
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the number of chat requests allowed per caller
	// per minute when no explicit limit is configured.
	DefaultRateLimit = 20

	defaultRateLimitWindow = time.Minute
)

// Rate-limit scopes. A limiter key is "<scope>:<caller>".
const (
	ScopeIP     = "ip"
	ScopeGuest  = "guest"
	ScopeUser   = "user"
	ScopeMatrix = "matrix"
)

// LimiterOption configures a RateLimiter.
type LimiterOption func(*RateLimiter)

// WithScopeLimit overrides the per-window quota for keys in scope. A limit
// <= 0 keeps the default.
func WithScopeLimit(scope string, limit int) LimiterOption {
	return func(r *RateLimiter) {
		if limit > 0 {
			r.scoped[scope] = limit
		}
	}
}

// RateLimiter enforces a per-caller sliding-window limit on chat requests.
//
// Each caller keeps the timestamps of its requests inside the window. The
// quota comes from the caller's scope (the key prefix before the first
// colon) when one is configured, otherwise from the default limit. Callers
// whose window empties are dropped by Sweep.
//
// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	scoped   map[string]int
	window   time.Duration
	now      func() time.Time
	counters map[string][]time.Time // caller key → request timestamps in window
}

// NewRateLimiter returns a RateLimiter allowing at most limit requests per
// caller within window. limit ≤ 0 uses DefaultRateLimit; window ≤ 0 uses one
// minute.
func NewRateLimiter(limit int, window time.Duration, opts ...LimiterOption) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	r := &RateLimiter{
		limit:    limit,
		scoped:   make(map[string]int),
		window:   window,
		now:      time.Now,
		counters: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Limit returns the per-window quota that applies to key.
func (r *RateLimiter) Limit(key string) int {
	scope, _, ok := strings.Cut(key, ":")
	if !ok {
		return r.limit
	}
	if n, ok := r.scoped[scope]; ok {
		return n
	}
	return r.limit
}

// Allow records a request for key and reports whether it is within quota.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	valid := r.pruneLocked(key, now)
	if len(valid) >= r.Limit(key) {
		r.counters[key] = valid
		return false
	}
	r.counters[key] = append(valid, now)
	return true
}

// Remaining returns how many requests key may still make in the current
// window.
func (r *RateLimiter) Remaining(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	count := 0
	for _, t := range r.counters[key] {
		if t.After(cutoff) {
			count++
		}
	}
	return max(r.Limit(key)-count, 0)
}

// Sweep drops callers with no requests inside the window.
func (r *RateLimiter) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for key := range r.counters {
		if len(r.pruneLocked(key, now)) == 0 {
			delete(r.counters, key)
		}
	}
}

// pruneLocked returns the timestamps of key that are still in the window,
// reusing the backing array.
func (r *RateLimiter) pruneLocked(key string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	existing := r.counters[key]
	valid := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}
