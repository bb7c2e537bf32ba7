package gateway

import (
	"context"
	"sync"
	"time"
)

// RateLimiter bounds call throughput with a sliding time window. Acquire
// blocks until window capacity frees rather than failing: rate limiting is
// a capacity concern, distinct from the circuit breaker's health concern.
type RateLimiter struct {
	mu       sync.Mutex
	maxCalls int
	period   time.Duration
	stamps   []time.Time
	now      func() time.Time
}

// NewRateLimiter creates a limiter allowing maxCalls per period
func NewRateLimiter(maxCalls int, period time.Duration) *RateLimiter {
	if maxCalls <= 0 {
		maxCalls = 60
	}
	if period <= 0 {
		period = time.Minute
	}

	return &RateLimiter{
		maxCalls: maxCalls,
		period:   period,
		stamps:   make([]time.Time, 0, maxCalls),
		now:      time.Now,
	}
}

// Acquire blocks until a slot frees as the window slides, or the context is
// done. On success the call is recorded in the window.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := r.now()
		r.prune(now)

		if len(r.stamps) < r.maxCalls {
			r.stamps = append(r.stamps, now)
			r.mu.Unlock()
			return nil
		}

		// Wait until the oldest stamp slides out of the window.
		wait := r.stamps[0].Add(r.period).Sub(now)
		r.mu.Unlock()

		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// TryAcquire records the call if capacity allows, without blocking
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)
	if len(r.stamps) >= r.maxCalls {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}

// InWindow returns the number of calls currently inside the window
func (r *RateLimiter) InWindow() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	return len(r.stamps)
}

// prune drops timestamps older than the window. Callers hold the mutex.
func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.period)
	idx := 0
	for idx < len(r.stamps) && !r.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		r.stamps = append(r.stamps[:0], r.stamps[idx:]...)
	}
}
