package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_TryAcquire(t *testing.T) {
	t.Run("should allow calls up to the window capacity", func(t *testing.T) {
		r := NewRateLimiter(3, time.Minute)

		assert.True(t, r.TryAcquire())
		assert.True(t, r.TryAcquire())
		assert.True(t, r.TryAcquire())
		assert.False(t, r.TryAcquire())
		assert.Equal(t, 3, r.InWindow())
	})

	t.Run("should free capacity as the window slides", func(t *testing.T) {
		r := NewRateLimiter(2, time.Minute)

		now := time.Now()
		r.now = func() time.Time { return now }
		require.True(t, r.TryAcquire())
		require.True(t, r.TryAcquire())
		require.False(t, r.TryAcquire())

		// One stamp slides out after the period elapses.
		r.now = func() time.Time { return now.Add(61 * time.Second) }
		assert.True(t, r.TryAcquire())
		assert.Equal(t, 1, r.InWindow())
	})
}

func TestRateLimiter_Acquire(t *testing.T) {
	t.Run("should not block under capacity", func(t *testing.T) {
		r := NewRateLimiter(2, time.Minute)

		done := make(chan error, 1)
		go func() { done <- r.Acquire(context.Background()) }()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Acquire blocked with free capacity")
		}
	})

	t.Run("should block until a slot frees", func(t *testing.T) {
		r := NewRateLimiter(2, 50*time.Millisecond)

		require.True(t, r.TryAcquire())
		require.True(t, r.TryAcquire())

		start := time.Now()
		require.NoError(t, r.Acquire(context.Background()))
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("should respect context cancellation while blocked", func(t *testing.T) {
		r := NewRateLimiter(1, time.Hour)
		require.True(t, r.TryAcquire())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := r.Acquire(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestRateLimiter_Defaults(t *testing.T) {
	r := NewRateLimiter(0, 0)
	assert.True(t, r.TryAcquire())
	assert.Equal(t, 1, r.InWindow())
}
