// Package retry runs generation calls with bounded attempts and exponential
// backoff.
//
// An attempt that fails with a retryable error (as judged by the Classifier,
// which defaults to the llm errors classification) is followed by a delay of
// BaseDelay×2^attempt plus random jitter, capped at MaxDelay. Errors are
// never wrapped: the caller always sees the error the operation returned.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	llmerrors "github.com/ahrav/go-convgen/internal/llm/errors"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 5 * time.Minute
	DefaultMaxJitter   = time.Second
)

// ErrInvalidOptions is returned when Options cannot describe a retry policy.
var ErrInvalidOptions = errors.New("invalid retry options")

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	// Number is the 1-based attempt that just failed.
	Number int
	Err    error
	// Delay is the backoff that follows.
	Delay time.Duration
}

// Classifier reports whether err warrants another attempt.
type Classifier func(err error) bool

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// JitterFunc returns a random duration in [0, limit).
type JitterFunc func(limit time.Duration) time.Duration

// Options configures a retry policy. Zero fields take the package defaults.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// MaxJitter bounds the random component added to each delay. A negative
	// value disables jitter.
	MaxJitter time.Duration

	// OnRetry runs synchronously before each backoff.
	OnRetry func(Attempt)

	Classifier Classifier
	Sleep      SleepFunc
	Jitter     JitterFunc
}

func (o Options) normalize() (Options, error) {
	if o.MaxAttempts < 0 {
		return o, fmt.Errorf("%w: max attempts cannot be negative (got %d)", ErrInvalidOptions, o.MaxAttempts)
	}
	if o.BaseDelay < 0 || o.MaxDelay < 0 {
		return o, fmt.Errorf("%w: delays cannot be negative", ErrInvalidOptions)
	}

	if o.MaxAttempts == 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BaseDelay == 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxDelay < o.BaseDelay {
		return o, fmt.Errorf("%w: max delay %s is below base delay %s", ErrInvalidOptions, o.MaxDelay, o.BaseDelay)
	}
	if o.MaxJitter == 0 {
		o.MaxJitter = DefaultMaxJitter
	}
	if o.Classifier == nil {
		o.Classifier = llmerrors.IsRetryableError
	}
	if o.Sleep == nil {
		o.Sleep = Sleep
	}
	if o.Jitter == nil {
		o.Jitter = uniformJitter
	}
	return o, nil
}

// Executor runs operations under one retry policy and keeps cumulative stats.
// It is safe for concurrent use; attempts within a single call are sequential.
type Executor struct {
	opts   Options
	logger *slog.Logger
	stats  stats
}

// NewExecutor validates opts and returns an Executor.
func NewExecutor(opts Options) (*Executor, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	return &Executor{
		opts:   opts,
		logger: slog.Default().With("component", "retry"),
	}, nil
}

// Options returns the effective policy.
func (e *Executor) Options() Options { return e.opts }

// Do calls op until it succeeds, fails with a non-retryable error, or the
// attempt budget runs out, or ctx is done. The returned error is the last one
// op produced, unchanged. If ctx is cancelled during a backoff, ctx.Err() is
// joined with the last attempt's error.
func (e *Executor) Do(ctx context.Context, op func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		e.stats.attempts.Add(1)

		if err == nil {
			e.stats.successes.Add(1)
			if attempt > 1 {
				e.logger.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}

		// The caller is gone; another attempt cannot succeed.
		if ctx.Err() != nil {
			e.stats.canceled.Add(1)
			return err
		}
		if !e.opts.Classifier(err) {
			e.stats.nonRetryable.Add(1)
			return err
		}
		if attempt >= e.opts.MaxAttempts {
			e.stats.exhausted.Add(1)
			e.logger.Warn("retry attempts exhausted", "attempts", attempt, "error", err)
			return err
		}

		delay := Backoff(attempt, e.opts.BaseDelay, e.opts.MaxDelay, e.jitter())
		e.stats.retries.Add(1)
		e.stats.recordBackoff(delay)

		if e.opts.OnRetry != nil {
			e.opts.OnRetry(Attempt{Number: attempt, Err: err, Delay: delay})
		}
		e.logger.Debug("retrying after backoff", "attempt", attempt, "delay", delay, "error", err)

		if sleepErr := e.opts.Sleep(ctx, delay); sleepErr != nil {
			e.stats.canceled.Add(1)
			return errors.Join(sleepErr, err)
		}
	}
}

func (e *Executor) jitter() time.Duration {
	if e.opts.MaxJitter < 0 {
		return 0
	}
	return e.opts.Jitter(e.opts.MaxJitter)
}

// Call runs op through e and returns its value.
func Call[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Execute runs op under a one-off policy built from opts.
func Execute[T any](ctx context.Context, op func(context.Context) (T, error), opts Options) (T, error) {
	e, err := NewExecutor(opts)
	if err != nil {
		var zero T
		return zero, err
	}
	return Call(ctx, e, op)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stats holds cumulative counters.
type stats struct {
	attempts     atomic.Int64
	retries      atomic.Int64
	successes    atomic.Int64
	exhausted    atomic.Int64
	nonRetryable atomic.Int64
	canceled     atomic.Int64
	maxBackoff   atomic.Int64
}

func (s *stats) recordBackoff(d time.Duration) {
	n := int64(d)
	for {
		cur := s.maxBackoff.Load()
		if n <= cur || s.maxBackoff.CompareAndSwap(cur, n) {
			return
		}
	}
}
