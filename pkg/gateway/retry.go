package gateway

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides, for a failed call, whether and after how long to
// retry. Connection-loss, timeout, and rate-limit errors are retryable;
// authentication, validation, and circuit-open errors are not.
type RetryPolicy struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Jitter      float64
}

// DefaultRetryPolicy returns the default retry thresholds
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  30 * time.Second,
		Jitter:      0.2,
	}
}

// Retryable reports whether the error should be resubmitted
func (p RetryPolicy) Retryable(err error) bool {
	return Retryable(err)
}

// Delay computes the wait before retry attempt (0-based). A server-provided
// retry_after hint on the error overrides the computed backoff.
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	if hint, ok := retryAfterHint(err); ok {
		return hint
	}
	return backoffDelay(attempt, p.BackoffBase, p.BackoffMax, p.Jitter)
}

// backoffDelay computes min(base * 2^attempt + jitter, max). Jitter spreads
// delays across [1-jitter, 1+jitter] of the exponential value to avoid
// synchronized retry storms, never pushing the result past max.
func backoffDelay(attempt int, base, max time.Duration, jitter float64) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 || max < base {
		max = 30 * time.Second
	}

	d := float64(base) * math.Pow(2, float64(attempt))
	if jitter > 0 && jitter <= 1 {
		d *= 1 + (rand.Float64()*2-1)*jitter
	}
	if d < float64(base) {
		d = float64(base)
	}
	if d > float64(max) {
		d = float64(max)
	}
	return time.Duration(d)
}
