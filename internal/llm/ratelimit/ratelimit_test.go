package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-convgen/internal/llm/ratelimit"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newLimiter(t *testing.T, cfg ratelimit.Config, opts ...ratelimit.Option) *ratelimit.Limiter {
	t.Helper()
	l, err := ratelimit.New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(l.Stop)
	return l
}

func TestNew(t *testing.T) {
	t.Run("rejects_unusable_config", func(t *testing.T) {
		tests := []struct {
			name string
			cfg  ratelimit.Config
		}{
			{"zero_window", ratelimit.Config{Window: 0, MaxRequests: 5}},
			{"sub_millisecond_window", ratelimit.Config{Window: time.Microsecond, MaxRequests: 5}},
			{"zero_max_requests", ratelimit.Config{Window: time.Second, MaxRequests: 0}},
			{"negative_max_requests", ratelimit.Config{Window: time.Second, MaxRequests: -1}},
			{"threshold_above_one", ratelimit.Config{Window: time.Second, MaxRequests: 5, PauseThreshold: 1.5}},
			{"negative_buffer", ratelimit.Config{Window: time.Second, MaxRequests: 5, QueueBuffer: -time.Second}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				l, err := ratelimit.New(tt.cfg)
				require.ErrorIs(t, err, ratelimit.ErrInvalidConfig)
				assert.Nil(t, l)
			})
		}
	})

	t.Run("applies_defaults", func(t *testing.T) {
		l := newLimiter(t, ratelimit.Config{Window: time.Second, MaxRequests: 5})
		cfg := l.Config()
		assert.InDelta(t, ratelimit.DefaultPauseThreshold, cfg.PauseThreshold, 1e-9)
		assert.Equal(t, ratelimit.DefaultSweepInterval, cfg.SweepInterval)
		assert.Equal(t, ratelimit.DefaultQueueBuffer, cfg.QueueBuffer)
	})
}

func TestAcquireAndStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("admits_up_to_limit_without_waiting", func(t *testing.T) {
		clk := newFakeClock()
		l := newLimiter(t, ratelimit.Config{Window: time.Second, MaxRequests: 5}, ratelimit.WithClock(clk.Now))
		start := clk.Now()

		for i := 0; i < 5; i++ {
			require.NoError(t, l.Acquire(ctx, "t"))
		}

		st := l.Status(ctx, "t")
		assert.Equal(t, 5, st.Used)
		assert.Equal(t, 0, st.Remaining)
		assert.Equal(t, 5, st.Limit)
		assert.True(t, st.IsPaused)
		assert.Equal(t, start.Add(time.Second), st.ResetAt)
		assert.InDelta(t, 100.0, st.Utilization, 1e-9)
	})

	t.Run("used_plus_remaining_equals_limit", func(t *testing.T) {
		clk := newFakeClock()
		l := newLimiter(t, ratelimit.Config{Window: time.Second, MaxRequests: 4}, ratelimit.WithClock(clk.Now))

		for i := 0; i < 8; i++ {
			st := l.Status(ctx, "k")
			assert.Equal(t, 4, st.Used+st.Remaining, "step %d", i)
			if st.Remaining > 0 {
				require.NoError(t, l.Acquire(ctx, "k"))
			}
			clk.Advance(300 * time.Millisecond)
		}
	})

	t.Run("expired_timestamps_are_pruned", func(t *testing.T) {
		clk := newFakeClock()
		l := newLimiter(t, ratelimit.Config{Window: time.Second, MaxRequests: 2}, ratelimit.WithClock(clk.Now))

		require.NoError(t, l.Acquire(ctx, "k"))
		clk.Advance(600 * time.Millisecond)
		require.NoError(t, l.Acquire(ctx, "k"))
		clk.Advance(500 * time.Millisecond)

		st := l.Status(ctx, "k")
		assert.Equal(t, 1, st.Used, "first timestamp left the window")
		assert.Equal(t, clk.Now().Add(-500*time.Millisecond).Add(time.Second), st.ResetAt)

		clk.Advance(time.Second)
		st = l.Status(ctx, "k")
		assert.Equal(t, 0, st.Used)
		assert.True(t, st.ResetAt.IsZero())
		assert.False(t, st.IsPaused)
	})

	t.Run("pause_threshold", func(t *testing.T) {
		clk := newFakeClock()
		l := newLimiter(t, ratelimit.Config{Window: time.Second, MaxRequests: 10, PauseThreshold: 0.5},
			ratelimit.WithClock(clk.Now))

		for i := 0; i < 4; i++ {
			require.NoError(t, l.Acquire(ctx, "k"))
		}
		assert.False(t, l.Status(ctx, "k").IsPaused)

		require.NoError(t, l.Acquire(ctx, "k"))
		assert.True(t, l.Status(ctx, "k").IsPaused)
	})

	t.Run("keys_are_independent", func(t *testing.T) {
		clk := newFakeClock()
		l := newLimiter(t, ratelimit.Config{Window: time.Second, MaxRequests: 1}, ratelimit.WithClock(clk.Now))

		require.NoError(t, l.Acquire(ctx, "a"))
		require.NoError(t, l.Acquire(ctx, "b"))
		assert.Equal(t, 1, l.Status(ctx, "a").Used)
		assert.Equal(t, 1, l.Status(ctx, "b").Used)
	})

	t.Run("empty_key_uses_default", func(t *testing.T) {
		l := newLimiter(t, ratelimit.Config{Window: time.Second, MaxRequests: 3})

		require.NoError(t, l.Acquire(ctx, ""))
		assert.Equal(t, 1, l.Status(ctx, ratelimit.DefaultKey).Used)
	})

	t.Run("cancelled_context_is_rejected_upfront", func(t *testing.T) {
		l := newLimiter(t, ratelimit.Config{Window: time.Second, MaxRequests: 3})
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		require.ErrorIs(t, l.Acquire(cctx, "k"), context.Canceled)
		assert.Equal(t, 0, l.Status(ctx, "k").Used)
	})
}

func TestAcquireDirectWaitsForWindow(t *testing.T) {
	ctx := context.Background()
	window := 200 * time.Millisecond
	l := newLimiter(t, ratelimit.Config{Window: window, MaxRequests: 2, QueueBuffer: 5 * time.Millisecond})

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "k"))
	require.NoError(t, l.Acquire(ctx, "k"))
	require.NoError(t, l.Acquire(ctx, "k"))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, window, "third call must wait for the first timestamp to expire")
	assert.Positive(t, l.Stats().Waits)
}

func TestAcquireQueued(t *testing.T) {
	ctx := context.Background()

	t.Run("sixth_call_waits_for_window", func(t *testing.T) {
		window := 300 * time.Millisecond
		l := newLimiter(t, ratelimit.Config{Window: window, MaxRequests: 5, EnableQueue: true, QueueBuffer: 5 * time.Millisecond})

		first := time.Now()
		for i := 0; i < 5; i++ {
			require.NoError(t, l.Acquire(ctx, "t"))
		}
		assert.Less(t, time.Since(first), 100*time.Millisecond, "first five calls are immediate")

		require.NoError(t, l.Acquire(ctx, "t"))
		assert.GreaterOrEqual(t, time.Since(first), window)
		assert.Equal(t, int64(6), l.Stats().Granted)
		assert.Equal(t, int64(1), l.Stats().Queued)
	})

	t.Run("global_fifo_across_keys", func(t *testing.T) {
		l := newLimiter(t, ratelimit.Config{Window: 300 * time.Millisecond, MaxRequests: 1, EnableQueue: true, QueueBuffer: 5 * time.Millisecond})
		require.NoError(t, l.Acquire(ctx, "a"))

		var wg sync.WaitGroup
		acquire := func(key string) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, l.Acquire(ctx, key))
			}()
		}

		acquire("a")
		require.Eventually(t, func() bool { return l.Stats().QueueLength == 1 }, 100*time.Millisecond, time.Millisecond)

		// "b" has spare capacity but arrives behind a saturated "a".
		acquire("b")
		require.Eventually(t, func() bool { return l.Stats().QueueLength == 2 }, 100*time.Millisecond, time.Millisecond)
		assert.Equal(t, 0, l.Status(ctx, "b").Used)

		wg.Wait()
		assert.Equal(t, 1, l.Status(ctx, "b").Used)
		assert.Equal(t, int64(2), l.Stats().Queued)
	})

	t.Run("cancelled_waiter_leaves_queue", func(t *testing.T) {
		clk := newFakeClock()
		l := newLimiter(t, ratelimit.Config{Window: time.Hour, MaxRequests: 1, EnableQueue: true},
			ratelimit.WithClock(clk.Now))
		require.NoError(t, l.Acquire(ctx, "k"))

		cctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		err := l.Acquire(cctx, "k")
		require.ErrorIs(t, err, context.DeadlineExceeded)

		stats := l.Stats()
		assert.Equal(t, 0, stats.QueueLength)
		assert.Equal(t, int64(1), stats.Canceled)
		assert.Equal(t, 1, l.Status(ctx, "k").Used)
	})

	t.Run("reset_releases_queued_caller", func(t *testing.T) {
		clk := newFakeClock()
		l := newLimiter(t, ratelimit.Config{Window: time.Hour, MaxRequests: 1, EnableQueue: true},
			ratelimit.WithClock(clk.Now))
		require.NoError(t, l.Acquire(ctx, "k"))

		done := make(chan error, 1)
		go func() { done <- l.Acquire(ctx, "k") }()
		require.Eventually(t, func() bool { return l.Stats().QueueLength == 1 }, time.Second, time.Millisecond)

		require.NoError(t, l.Reset(ctx, "k"))
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("queued caller was not released after reset")
		}
	})
}

func TestAcquireNeverExceedsLimitUnderContention(t *testing.T) {
	for _, queued := range []bool{false, true} {
		t.Run(map[bool]string{false: "direct", true: "queued"}[queued], func(t *testing.T) {
			clk := newFakeClock()
			l := newLimiter(t, ratelimit.Config{Window: time.Hour, MaxRequests: 10, EnableQueue: queued},
				ratelimit.WithClock(clk.Now))

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			var admitted atomic.Int64
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := l.Acquire(ctx, "shared"); err == nil {
						admitted.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int64(10), admitted.Load())
			assert.Equal(t, 10, l.Status(context.Background(), "shared").Used)
		})
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("start_stop_idempotent", func(t *testing.T) {
		l, err := ratelimit.New(ratelimit.Config{Window: time.Second, MaxRequests: 1, SweepInterval: time.Millisecond})
		require.NoError(t, err)

		l.Start()
		l.Start()
		l.Stop()
		l.Stop()
		l.Start() // no-op after stop
	})

	t.Run("stop_fails_queued_callers", func(t *testing.T) {
		clk := newFakeClock()
		l, err := ratelimit.New(ratelimit.Config{Window: time.Hour, MaxRequests: 1, EnableQueue: true},
			ratelimit.WithClock(clk.Now))
		require.NoError(t, err)
		require.NoError(t, l.Acquire(ctx, "k"))

		done := make(chan error, 1)
		go func() { done <- l.Acquire(ctx, "k") }()
		require.Eventually(t, func() bool { return l.Stats().QueueLength == 1 }, time.Second, time.Millisecond)

		l.Stop()
		require.ErrorIs(t, <-done, ratelimit.ErrStopped)
		require.ErrorIs(t, l.Acquire(ctx, "other"), ratelimit.ErrStopped)
	})

	t.Run("background_sweep_drops_empty_keys", func(t *testing.T) {
		clk := newFakeClock()
		l := newLimiter(t, ratelimit.Config{Window: time.Second, MaxRequests: 5, SweepInterval: 5 * time.Millisecond},
			ratelimit.WithClock(clk.Now))

		require.NoError(t, l.Acquire(ctx, "a"))
		require.NoError(t, l.Acquire(ctx, "b"))
		assert.Equal(t, 2, l.Stats().LocalKeys)

		clk.Advance(2 * time.Second)
		l.Start()
		require.Eventually(t, func() bool { return l.Stats().LocalKeys == 0 }, time.Second, 5*time.Millisecond)
	})
}

func TestResetAndClearAll(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	l := newLimiter(t, ratelimit.Config{Window: time.Minute, MaxRequests: 3}, ratelimit.WithClock(clk.Now))

	for _, key := range []string{"a", "a", "b"} {
		require.NoError(t, l.Acquire(ctx, key))
	}

	require.NoError(t, l.Reset(ctx, "a"))
	assert.Equal(t, 0, l.Status(ctx, "a").Used)
	assert.Equal(t, 1, l.Status(ctx, "b").Used)

	require.NoError(t, l.ClearAll(ctx))
	assert.Equal(t, 0, l.Status(ctx, "b").Used)
	assert.Equal(t, 0, l.Sweep(ctx))
}

// brokenStore fails every call, standing in for an unreachable Redis.
type brokenStore struct{ calls atomic.Int64 }

var errStoreDown = errors.New("dial tcp: connection refused")

func (s *brokenStore) Admit(context.Context, string, time.Time, time.Duration, int) (ratelimit.Decision, error) {
	s.calls.Add(1)
	return ratelimit.Decision{}, errStoreDown
}

func (s *brokenStore) Peek(context.Context, string, time.Time, time.Duration) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errStoreDown
}
func (s *brokenStore) Reset(context.Context, string) error { return errStoreDown }
func (s *brokenStore) Clear(context.Context) error         { return errStoreDown }
func (s *brokenStore) Sweep(context.Context, time.Time, time.Duration) (int, error) {
	return 0, errStoreDown
}

type recordingObserver struct {
	mu       sync.Mutex
	granted  int
	degraded []bool
}

func (o *recordingObserver) Granted(string, time.Duration, bool) {
	o.mu.Lock()
	o.granted++
	o.mu.Unlock()
}
func (o *recordingObserver) QueueDepth(int) {}
func (o *recordingObserver) Degraded(d bool) {
	o.mu.Lock()
	o.degraded = append(o.degraded, d)
	o.mu.Unlock()
}

func TestDegradedStoreFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := &brokenStore{}
	obs := &recordingObserver{}
	l := newLimiter(t, ratelimit.Config{Window: time.Hour, MaxRequests: 2},
		ratelimit.WithClock(clk.Now), ratelimit.WithStore(store), ratelimit.WithObserver(obs))

	require.NoError(t, l.Acquire(ctx, "k"))
	require.NoError(t, l.Acquire(ctx, "k"))

	assert.True(t, l.Stats().Degraded)
	assert.Equal(t, int64(2), store.calls.Load())
	assert.Equal(t, 2, l.Status(ctx, "k").Used, "in-process fallback still enforces the window")
	assert.ErrorIs(t, l.Reset(ctx, "k"), errStoreDown)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.granted)
	assert.Equal(t, []bool{true}, obs.degraded, "degradation is reported once")
}
