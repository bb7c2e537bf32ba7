package cache

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweepable struct {
	calls int64
}

func (c *countingSweepable) Sweep() int {
	atomic.AddInt64(&c.calls, 1)
	return 1
}

func TestSweeper(t *testing.T) {
	t.Run("should reject an invalid schedule", func(t *testing.T) {
		_, err := NewSweeper("not a schedule", zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("should sweep each target on schedule", func(t *testing.T) {
		target := &countingSweepable{}
		s, err := NewSweeper("@every 10ms", zerolog.Nop(), target)
		require.NoError(t, err)

		s.Start()
		defer s.Stop()

		require.Eventually(t, func() bool {
			return atomic.LoadInt64(&target.calls) >= 2
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("should stop cleanly", func(t *testing.T) {
		s, err := NewSweeper("@every 1h", zerolog.Nop(), &countingSweepable{})
		require.NoError(t, err)
		s.Start()
		s.Stop()
	})
}
