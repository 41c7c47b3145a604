// Package circuitbreaker stops calling a model after repeated transient
// failures and lets a limited number of probes through once the open
// timeout elapses.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	llmerrors "github.com/ahrav/go-convgen/internal/llm/errors"
)

// State is the position of a breaker in its state machine.
type State int32

const (
	// StateClosed allows requests through.
	StateClosed State = iota
	// StateOpen rejects every request until the open timeout elapses.
	StateOpen
	// StateHalfOpen admits up to HalfOpenProbes concurrent requests.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON status output.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Rejection codes carried by the ProviderError returned for refused calls.
const (
	CodeOpen          = "CIRCUIT_OPEN"
	CodeHalfOpenLimit = "CIRCUIT_HALF_OPEN_LIMIT"
)

// ErrInvalidConfig is returned by New for out-of-range settings.
var ErrInvalidConfig = errors.New("invalid circuit breaker config")

// Config controls when a breaker opens and how it recovers.
type Config struct {
	// FailureThreshold is the number of consecutive counted failures that
	// opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of successful probes that closes it.
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenProbes caps concurrent probes while half-open.
	HalfOpenProbes int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		HalfOpenProbes:   1,
	}
}

// Validate checks every threshold is positive.
func (c Config) Validate() error {
	switch {
	case c.FailureThreshold < 1:
		return fmt.Errorf("%w: failure threshold must be at least 1 (got %d)", ErrInvalidConfig, c.FailureThreshold)
	case c.SuccessThreshold < 1:
		return fmt.Errorf("%w: success threshold must be at least 1 (got %d)", ErrInvalidConfig, c.SuccessThreshold)
	case c.OpenTimeout <= 0:
		return fmt.Errorf("%w: open timeout must be positive (got %s)", ErrInvalidConfig, c.OpenTimeout)
	case c.HalfOpenProbes < 1:
		return fmt.Errorf("%w: half-open probes must be at least 1 (got %d)", ErrInvalidConfig, c.HalfOpenProbes)
	}
	return nil
}

// Observer receives state transitions.
type Observer interface {
	CircuitStateChanged(key string, from, to State)
}

type noopObserver struct{}

func (noopObserver) CircuitStateChanged(string, State, State) {}

// Option customizes a Breakers set.
type Option func(*Breakers)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(b *Breakers) { b.now = now } }

// WithLogger sets the transition logger.
func WithLogger(l *slog.Logger) Option { return func(b *Breakers) { b.logger = l } }

// WithObserver sets the transition observer.
func WithObserver(o Observer) Option { return func(b *Breakers) { b.observer = o } }

// Outcome is how a finished call affects its breaker.
type Outcome int

const (
	// Success resets the failure count, or counts toward closing when half-open.
	Success Outcome = iota
	// Failure counts toward opening, or reopens when half-open.
	Failure
	// Ignored releases the slot without changing counters.
	Ignored
)

// breaker is the per-key state. gen increments on every transition so a
// call admitted under an earlier state cannot move the current one.
type breaker struct {
	state     State
	gen       uint64
	failures  int
	successes int
	probes    int
	openedAt  time.Time
}

// Breakers holds one breaker per key. It is safe for concurrent use.
type Breakers struct {
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
	observer Observer

	mu       sync.Mutex
	breakers map[string]*breaker
}

// New creates an empty breaker set.
func New(cfg Config, opts ...Option) (*Breakers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Breakers{
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default().With("component", "circuit_breaker"),
		observer: noopObserver{},
		breakers: make(map[string]*breaker),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Allow admits or refuses a call for key. On admission the returned done
// func must be called exactly once with the call's outcome. A refusal is a
// retryable *llmerrors.ProviderError of type circuit_open whose RetryAfter
// is the time left until probing.
func (b *Breakers) Allow(key string) (func(Outcome), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(key)
	if br.state == StateOpen {
		remaining := b.cfg.OpenTimeout - b.now().Sub(br.openedAt)
		if remaining > 0 {
			return nil, &llmerrors.ProviderError{
				Provider:   key,
				Message:    "circuit breaker is open",
				Code:       CodeOpen,
				Type:       llmerrors.ErrorTypeCircuitOpen,
				RetryAfter: int(math.Ceil(remaining.Seconds())),
			}
		}
		b.transition(key, br, StateHalfOpen)
	}

	probe := false
	if br.state == StateHalfOpen {
		if br.probes >= b.cfg.HalfOpenProbes {
			return nil, &llmerrors.ProviderError{
				Provider:   key,
				Message:    "half-open probe limit reached",
				Code:       CodeHalfOpenLimit,
				Type:       llmerrors.ErrorTypeCircuitOpen,
				RetryAfter: 1,
			}
		}
		br.probes++
		probe = true
	}

	gen := br.gen
	var once sync.Once
	return func(o Outcome) {
		once.Do(func() { b.record(key, gen, probe, o) })
	}, nil
}

func (b *Breakers) record(key string, gen uint64, probe bool, o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(key)
	if br.gen != gen {
		return
	}
	if probe {
		br.probes--
	}
	if o == Ignored {
		return
	}

	switch br.state {
	case StateClosed:
		if o == Success {
			br.failures = 0
			return
		}
		br.failures++
		if br.failures >= b.cfg.FailureThreshold {
			b.transition(key, br, StateOpen)
		}
	case StateHalfOpen:
		if o == Failure {
			b.transition(key, br, StateOpen)
			return
		}
		br.successes++
		if br.successes >= b.cfg.SuccessThreshold {
			b.transition(key, br, StateClosed)
		}
	}
}

// transition resets the counters for the new state. Callers hold mu.
func (b *Breakers) transition(key string, br *breaker, to State) {
	from := br.state
	br.state = to
	br.gen++
	br.failures, br.successes, br.probes = 0, 0, 0
	if to == StateOpen {
		br.openedAt = b.now()
	}

	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	b.logger.Log(context.Background(), level, "circuit breaker state transition", "key", key, "from", from.String(), "to", to.String())
	b.observer.CircuitStateChanged(key, from, to)
}

func (b *Breakers) get(key string) *breaker {
	br, ok := b.breakers[key]
	if !ok {
		br = &breaker{state: StateClosed}
		b.breakers[key] = br
	}
	return br
}

// State reports the current state for key. Unknown keys are closed.
func (b *Breakers) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if br, ok := b.breakers[key]; ok {
		return br.state
	}
	return StateClosed
}

// Snapshot returns the state of every key seen so far.
func (b *Breakers) Snapshot() map[string]State {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]State, len(b.breakers))
	for k, br := range b.breakers {
		out[k] = br.state
	}
	return out
}

// Reset forces key back to closed.
func (b *Breakers) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if br, ok := b.breakers[key]; ok && br.state != StateClosed {
		b.transition(key, br, StateClosed)
	}
}
