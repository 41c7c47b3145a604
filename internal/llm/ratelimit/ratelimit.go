// Package ratelimit provides sliding-window admission control for outbound
// generation calls.
//
// A Limiter bounds the number of calls per key inside a trailing time window.
// Callers that find no spare capacity either wait and re-check on their own or,
// when queuing is enabled, join a single FIFO queue shared by every key and are
// granted strictly in arrival order by one drain goroutine.
//
// Timestamps live in a WindowStore. The default MemoryStore keeps them in
// process; RedisStore shares them across instances and the limiter degrades
// to the in-process store whenever Redis misbehaves.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Rate limiting defaults.
const (
	// DefaultKey is used when Acquire is called with an empty key.
	DefaultKey = "default"

	// DefaultPauseThreshold is the utilization fraction at which a key reports IsPaused.
	DefaultPauseThreshold = 0.9

	// DefaultSweepInterval is how often stale timestamps are pruned across all keys.
	DefaultSweepInterval = time.Minute

	// DefaultQueueBuffer is added to every computed wait so a re-check lands
	// after the oldest timestamp has left the window.
	DefaultQueueBuffer = 100 * time.Millisecond

	// minWindow is the smallest window the Redis store can express.
	minWindow = time.Millisecond

	// storeTimeout bounds store calls made by background goroutines.
	storeTimeout = 2 * time.Second

	// pauseLogInterval throttles "approaching limit" warnings.
	pauseLogInterval = 10 * time.Second
)

var (
	// ErrInvalidConfig is returned by New for a window or request budget that
	// cannot admit anything.
	ErrInvalidConfig = errors.New("invalid rate limit configuration")

	// ErrStopped is returned to callers still waiting when the limiter is stopped.
	ErrStopped = errors.New("rate limiter stopped")
)

// Config describes a sliding-window limit.
type Config struct {
	// Window is the trailing interval over which requests are counted.
	Window time.Duration
	// MaxRequests is the number of requests admitted per key per Window.
	MaxRequests int
	// EnableQueue routes callers without capacity through the global FIFO queue.
	EnableQueue bool
	// PauseThreshold is the utilization fraction reported as paused. Zero means default.
	PauseThreshold float64
	// SweepInterval is the background prune period. Zero means default.
	SweepInterval time.Duration
	// QueueBuffer pads computed waits. Zero means default.
	QueueBuffer time.Duration
}

// Clock returns the current time. Tests substitute a fixed or stepped clock.
type Clock func() time.Time

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.now = c }
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithStore installs a shared window store. The in-process store remains as
// the fallback for store failures.
func WithStore(store WindowStore) Option {
	return func(l *Limiter) { l.store = store }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(l *Limiter) { l.observer = o }
}

// waiter is a queued caller. granted is written under Limiter.mu before ready
// is closed.
type waiter struct {
	key      string
	enqueued time.Time
	ready    chan struct{}
	granted  bool
}

// Limiter enforces a per-key sliding-window limit with an optional global FIFO
// queue. All methods are safe for concurrent use.
type Limiter struct {
	cfg      Config
	now      Clock
	logger   *slog.Logger
	observer Observer

	store WindowStore
	local *MemoryStore

	// mu guards the queue and serializes every admission so that the fast
	// path can never overtake queued callers.
	mu       sync.Mutex
	queue    []*waiter
	draining bool
	closed   bool
	wake     chan struct{}

	degraded atomic.Bool
	pauseLog rate.Sometimes

	granted  atomic.Int64
	queued   atomic.Int64
	canceled atomic.Int64
	waits    atomic.Int64

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	stop        chan struct{}
	done        sync.WaitGroup
}

// New validates cfg and builds a Limiter. The background sweep is not running
// until Start is called; queued callers are served regardless.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	local := NewMemoryStore()
	l := &Limiter{
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default().With("component", "ratelimit"),
		observer: noopObserver{},
		local:    local,
		wake:     make(chan struct{}, 1),
		pauseLog: rate.Sometimes{First: 1, Interval: pauseLogInterval},
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		l.store = local
	}

	return l, nil
}

// Config returns the effective configuration after defaults were applied.
func (l *Limiter) Config() Config { return l.cfg }

// Acquire blocks until the caller may issue one request under key. It returns
// only ctx.Err() or ErrStopped; admission itself never fails.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	if key == "" {
		key = DefaultKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if l.cfg.EnableQueue {
		return l.acquireQueued(ctx, key)
	}
	return l.acquireDirect(ctx, key)
}

// acquireDirect re-checks admission in a loop, sleeping until the oldest
// timestamp for key leaves the window.
func (l *Limiter) acquireDirect(ctx context.Context, key string) error {
	start := l.now()
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return ErrStopped
		}
		d := l.admit(ctx, key)
		l.mu.Unlock()

		if d.Admitted {
			l.onGranted(key, d, l.now().Sub(start), false)
			return nil
		}

		l.waits.Add(1)
		if err := l.sleep(ctx, l.waitFor(d)); err != nil {
			return err
		}
	}
}

func (l *Limiter) acquireQueued(ctx context.Context, key string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrStopped
	}
	if len(l.queue) == 0 {
		if d := l.admit(ctx, key); d.Admitted {
			l.mu.Unlock()
			l.onGranted(key, d, 0, false)
			return nil
		}
	}

	w := &waiter{key: key, enqueued: l.now(), ready: make(chan struct{})}
	l.queue = append(l.queue, w)
	depth := len(l.queue)
	if !l.draining {
		l.draining = true
		l.done.Add(1)
		go l.drain()
	}
	l.mu.Unlock()

	l.queued.Add(1)
	l.observer.QueueDepth(depth)

	select {
	case <-w.ready:
		return nil
	case <-l.stop:
		return l.abandon(w, ErrStopped)
	case <-ctx.Done():
		return l.abandon(w, ctx.Err())
	}
}

// abandon removes w from the queue unless the drain loop granted it first,
// in which case the slot is already recorded and the caller proceeds.
func (l *Limiter) abandon(w *waiter, cause error) error {
	l.mu.Lock()
	if w.granted {
		l.mu.Unlock()
		return nil
	}
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			break
		}
	}
	depth := len(l.queue)
	l.mu.Unlock()

	l.canceled.Add(1)
	l.observer.QueueDepth(depth)
	l.signal()
	return cause
}

// drain is the single sequential consumer of the queue. It exits once the
// queue is empty; the next enqueue starts a fresh one.
func (l *Limiter) drain() {
	defer l.done.Done()

	for {
		l.mu.Lock()
		if l.closed || len(l.queue) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}

		head := l.queue[0]
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		d := l.admit(ctx, head.key)
		cancel()

		if d.Admitted {
			l.queue[0] = nil
			l.queue = l.queue[1:]
			head.granted = true
			close(head.ready)
			depth := len(l.queue)
			l.mu.Unlock()

			l.observer.QueueDepth(depth)
			l.onGranted(head.key, d, l.now().Sub(head.enqueued), true)
			continue
		}
		l.mu.Unlock()

		timer := time.NewTimer(l.waitFor(d))
		select {
		case <-timer.C:
		case <-l.wake:
			timer.Stop()
		case <-l.stop:
			timer.Stop()
			l.mu.Lock()
			l.draining = false
			l.mu.Unlock()
			return
		}
	}
}

// admit runs one atomic check-and-record against the store. Callers hold mu.
func (l *Limiter) admit(ctx context.Context, key string) Decision {
	now := l.now()
	if l.store == WindowStore(l.local) {
		d, _ := l.local.Admit(ctx, key, now, l.cfg.Window, l.cfg.MaxRequests)
		return d
	}

	d, err := l.store.Admit(ctx, key, now, l.cfg.Window, l.cfg.MaxRequests)
	if err != nil {
		l.markDegraded(err)
		d, _ = l.local.Admit(ctx, key, now, l.cfg.Window, l.cfg.MaxRequests)
		return d
	}
	l.markRecovered()
	return d
}

func (l *Limiter) peek(ctx context.Context, key string) Decision {
	now := l.now()
	d, err := l.store.Peek(ctx, key, now, l.cfg.Window)
	if err != nil {
		l.markDegraded(err)
		d, _ = l.local.Peek(ctx, key, now, l.cfg.Window)
	}
	return d
}

func (l *Limiter) markDegraded(err error) {
	if l.degraded.CompareAndSwap(false, true) {
		l.logger.Warn("window store unavailable, falling back to in-process limiting", "error", err)
		l.observer.Degraded(true)
	}
}

func (l *Limiter) markRecovered() {
	if l.degraded.CompareAndSwap(true, false) {
		l.logger.Info("window store recovered")
		l.observer.Degraded(false)
	}
}

// waitFor computes how long until the oldest retained timestamp expires,
// padded by the queue buffer.
func (l *Limiter) waitFor(d Decision) time.Duration {
	if d.Oldest.IsZero() {
		return l.cfg.QueueBuffer
	}
	wait := d.Oldest.Add(l.cfg.Window).Sub(l.now()) + l.cfg.QueueBuffer
	if wait < l.cfg.QueueBuffer {
		wait = l.cfg.QueueBuffer
	}
	return wait
}

func (l *Limiter) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stop:
		return ErrStopped
	}
}

func (l *Limiter) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Limiter) onGranted(key string, d Decision, waited time.Duration, queued bool) {
	l.granted.Add(1)
	l.observer.Granted(key, waited, queued)

	if l.paused(d.Used) {
		l.pauseLog.Do(func() {
			l.logger.Warn("approaching rate limit",
				"key", key,
				"used", d.Used,
				"limit", l.cfg.MaxRequests,
				"utilization", utilization(d.Used, l.cfg.MaxRequests))
		})
	}
}

func (l *Limiter) paused(used int) bool {
	return float64(used) >= float64(l.cfg.MaxRequests)*l.cfg.PauseThreshold
}

// Status reports the window state for key after pruning expired timestamps.
// Used plus Remaining always equals MaxRequests.
func (l *Limiter) Status(ctx context.Context, key string) Status {
	if key == "" {
		key = DefaultKey
	}

	d := l.peek(ctx, key)
	used := min(d.Used, l.cfg.MaxRequests)

	l.mu.Lock()
	queueLen := len(l.queue)
	l.mu.Unlock()

	st := Status{
		Key:         key,
		Used:        used,
		Remaining:   l.cfg.MaxRequests - used,
		Limit:       l.cfg.MaxRequests,
		QueueLength: queueLen,
		IsPaused:    l.paused(used),
		Utilization: utilization(used, l.cfg.MaxRequests),
	}
	if !d.Oldest.IsZero() {
		st.ResetAt = d.Oldest.Add(l.cfg.Window)
	}
	return st
}

// Reset forgets every timestamp recorded for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if key == "" {
		key = DefaultKey
	}
	l.local.Reset(ctx, key) //nolint:errcheck // in-process store never fails
	var err error
	if l.store != WindowStore(l.local) {
		err = l.store.Reset(ctx, key)
	}
	l.signal()
	return err
}

// ClearAll forgets every timestamp for every key. Queued callers stay queued
// and are re-evaluated immediately.
func (l *Limiter) ClearAll(ctx context.Context) error {
	l.local.Clear(ctx) //nolint:errcheck // in-process store never fails
	var err error
	if l.store != WindowStore(l.local) {
		err = l.store.Clear(ctx)
	}
	l.signal()
	return err
}

// Sweep prunes expired timestamps across all keys and drops empty keys.
func (l *Limiter) Sweep(ctx context.Context) int {
	now := l.now()
	removed, _ := l.local.Sweep(ctx, now, l.cfg.Window)
	if l.store != WindowStore(l.local) {
		n, err := l.store.Sweep(ctx, now, l.cfg.Window)
		if err != nil {
			l.logger.Debug("window store sweep failed", "error", err)
		}
		removed += n
	}
	return removed
}

// Stats returns a snapshot of limiter counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	queueLen := len(l.queue)
	l.mu.Unlock()

	return Stats{
		Granted:     l.granted.Load(),
		Queued:      l.queued.Load(),
		Canceled:    l.canceled.Load(),
		Waits:       l.waits.Load(),
		QueueLength: queueLen,
		LocalKeys:   l.local.Len(),
		Degraded:    l.degraded.Load(),
	}
}

// Start launches the background sweep. It is idempotent and a no-op after Stop.
func (l *Limiter) Start() {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()

	if l.started || l.stopped {
		return
	}
	l.started = true

	l.done.Add(1)
	go l.sweepLoop()

	l.logger.Info("rate limit sweep started", "interval", l.cfg.SweepInterval)
}

// Stop terminates the sweep and the drain loop, fails queued callers with
// ErrStopped and waits for background goroutines to exit. It is idempotent.
func (l *Limiter) Stop() {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()

	if l.stopped {
		return
	}
	l.stopped = true

	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	close(l.stop)
	l.done.Wait()

	l.logger.Info("rate limiter stopped")
}

func (l *Limiter) sweepLoop() {
	defer l.done.Done()

	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			if n := l.Sweep(ctx); n > 0 {
				l.logger.Debug("swept empty rate windows", "keys", n)
			}
			cancel()
		case <-l.stop:
			return
		}
	}
}

func utilization(used, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return min(100, float64(used)/float64(limit)*100)
}
