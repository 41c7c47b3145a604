//go:build goexperiment.synctest

package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-convgen/internal/llm/ratelimit"
)

// TestQueuedWaitIsExactlyOneWindow verifies that a queued caller is released
// once the oldest timestamp expires, padded by the queue buffer.
func TestQueuedWaitIsExactlyOneWindow(t *testing.T) {
	synctest.Run(func() {
		ctx := context.Background()
		l, err := ratelimit.New(ratelimit.Config{
			Window:      time.Second,
			MaxRequests: 5,
			EnableQueue: true,
			QueueBuffer: 100 * time.Millisecond,
		})
		require.NoError(t, err)
		defer l.Stop()

		start := time.Now()
		for i := 0; i < 5; i++ {
			require.NoError(t, l.Acquire(ctx, "t"))
		}
		assert.Equal(t, time.Duration(0), time.Since(start))

		require.NoError(t, l.Acquire(ctx, "t"))
		assert.Equal(t, 1100*time.Millisecond, time.Since(start))

		st := l.Status(ctx, "t")
		assert.Equal(t, 1, st.Used, "the first five expired before the sixth was admitted")
	})
}

// TestDirectWaitRechecksAfterExpiry verifies the unqueued path sleeps until
// the window frees a slot.
func TestDirectWaitRechecksAfterExpiry(t *testing.T) {
	synctest.Run(func() {
		ctx := context.Background()
		l, err := ratelimit.New(ratelimit.Config{Window: 500 * time.Millisecond, MaxRequests: 1})
		require.NoError(t, err)
		defer l.Stop()

		start := time.Now()
		require.NoError(t, l.Acquire(ctx, "k"))
		require.NoError(t, l.Acquire(ctx, "k"))
		assert.Equal(t, 500*time.Millisecond+ratelimit.DefaultQueueBuffer, time.Since(start))
		assert.Equal(t, int64(1), l.Stats().Waits)
	})
}

// TestQueueServesArrivalOrder verifies later arrivals never overtake earlier
// ones, regardless of key.
func TestQueueServesArrivalOrder(t *testing.T) {
	synctest.Run(func() {
		ctx := context.Background()
		l, err := ratelimit.New(ratelimit.Config{Window: time.Second, MaxRequests: 1, EnableQueue: true})
		require.NoError(t, err)
		defer l.Stop()

		start := time.Now()
		require.NoError(t, l.Acquire(ctx, "a"))

		var mu sync.Mutex
		grantedAt := make(map[string]time.Duration)
		for _, c := range []struct{ key, label string }{{"a", "a1"}, {"b", "b1"}, {"a", "a2"}} {
			go func() {
				if err := l.Acquire(ctx, c.key); err == nil {
					mu.Lock()
					grantedAt[c.label] = time.Since(start)
					mu.Unlock()
				}
			}()
			synctest.Wait()
		}

		time.Sleep(5 * time.Second)
		synctest.Wait()

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 1100*time.Millisecond, grantedAt["a1"])
		assert.Equal(t, 1100*time.Millisecond, grantedAt["b1"], "b1 waits behind a1 despite spare capacity")
		assert.Equal(t, 2200*time.Millisecond, grantedAt["a2"])
	})
}

// TestSweepLoopPrunesOnInterval verifies the background sweep drops keys once
// their windows expire.
func TestSweepLoopPrunesOnInterval(t *testing.T) {
	synctest.Run(func() {
		ctx := context.Background()
		l, err := ratelimit.New(ratelimit.Config{
			Window:        time.Second,
			MaxRequests:   3,
			SweepInterval: 10 * time.Second,
		})
		require.NoError(t, err)

		require.NoError(t, l.Acquire(ctx, "a"))
		require.NoError(t, l.Acquire(ctx, "b"))
		l.Start()

		time.Sleep(5 * time.Second)
		synctest.Wait()
		assert.Equal(t, 2, l.Stats().LocalKeys, "sweep has not ticked yet")

		time.Sleep(6 * time.Second)
		synctest.Wait()
		assert.Equal(t, 0, l.Stats().LocalKeys)

		l.Stop()
	})
}
