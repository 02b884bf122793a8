package server

import (
	"sync"
	"time"
)

// rateLimiter enforces a fixed-window counter per client key: the counter
// resets on the first request of a new window rather than decaying
// continuously, which rules out golang.org/x/time/rate's token-bucket
// algorithm (spec.md §5 "Rate limiting" — see DESIGN.md for the full
// rationale).
type rateLimiter struct {
	max    int
	window time.Duration

	mu     sync.Mutex
	counts map[string]*windowCount
}

type windowCount struct {
	count   int
	resetAt time.Time
}

func newRateLimiter(policy *RateLimitPolicy) *rateLimiter {
	return &rateLimiter{
		max:    policy.Max,
		window: policy.Window,
		counts: make(map[string]*windowCount),
	}
}

// Allow increments key's counter for the current window and reports whether
// the request is within budget. The very first call for a key, or a call
// after the window has elapsed, starts a fresh window with count 1.
func (l *rateLimiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.counts[key]
	if !ok || !now.Before(w.resetAt) {
		l.counts[key] = &windowCount{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}
