// Package quota bounds how often and how concurrently a session may request
// bundles.
package quota

import (
	"sync"
	"time"
)

// RateLimiter gives each session a bucket of perMinute tokens that refills
// continuously. A zero or negative limit disables it.
type RateLimiter struct {
	perMinute int
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewRateLimiter creates a limiter allowing perMinute bundle requests per
// session. perMinute <= 0 means unlimited.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
	}
}

// Allow spends one token for session. When none is left it reports how long
// until the next one is available, in whole seconds (at least one) for
// Retry-After.
func (rl *RateLimiter) Allow(session string) (ok bool, retryAfter time.Duration) {
	if rl.perMinute <= 0 {
		return true, 0
	}
	capacity := float64(rl.perMinute)
	perSecond := capacity / 60

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, seen := rl.buckets[session]
	if !seen {
		b = &bucket{tokens: capacity, seen: now}
		rl.buckets[session] = b
	}
	b.tokens = min(capacity, b.tokens+now.Sub(b.seen).Seconds()*perSecond)
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / perSecond * float64(time.Second))
	return false, max(time.Second, wait.Round(time.Second))
}

// Cleanup forgets sessions idle for longer than maxAge.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxAge)
	for s, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, s)
		}
	}
}

// Len returns the number of tracked sessions.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
