package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	t.Run("basic rate limiting", func(t *testing.T) {
		rl := newRateLimiter(10)
		defer rl.Close()
		ctx := context.Background()

		for i := 0; i < 10; i++ {
			require.NoError(t, rl.wait(ctx))
		}

		// The bucket is empty; the next caller waits for a refill.
		start := time.Now()
		done := make(chan struct{})
		go func() {
			assert.NoError(t, rl.wait(ctx))
			close(done)
		}()

		select {
		case <-done:
			assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
		case <-time.After(10 * time.Second):
			t.Fatal("rate limiter wait timed out")
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		rl := newRateLimiter(1)
		defer rl.Close()

		require.NoError(t, rl.wait(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error)
		go func() {
			done <- rl.wait(ctx)
		}()

		time.Sleep(10 * time.Millisecond)
		cancel()

		err := <-done
		require.ErrorIs(t, err, context.Canceled)
		assert.Contains(t, err.Error(), "rate limiter canceled")
	})

	t.Run("tryAcquire", func(t *testing.T) {
		rl := newRateLimiter(5)
		defer rl.Close()

		for i := 0; i < 5; i++ {
			assert.True(t, rl.tryAcquire(), "attempt %d", i+1)
		}
		assert.False(t, rl.tryAcquire())
	})

	t.Run("default rate limit", func(t *testing.T) {
		rl := newRateLimiter(0)
		defer rl.Close()

		for i := 0; i < 50; i++ {
			require.True(t, rl.tryAcquire())
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		rl := newRateLimiter(5)
		rl.Close()
		rl.Close()
	})

	t.Run("concurrent access", func(t *testing.T) {
		rl := newRateLimiter(100)
		defer rl.Close()
		ctx := context.Background()

		var acquired atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					if err := rl.wait(ctx); err == nil {
						acquired.Add(1)
					}
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(100), acquired.Load())
	})
}
