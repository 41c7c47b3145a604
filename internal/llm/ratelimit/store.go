package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of a window check. Used counts timestamps retained
// inside the window, including the one just recorded when Admitted is true.
// Oldest is the earliest retained timestamp, or the zero time.
type Decision struct {
	Admitted bool
	Used     int
	Oldest   time.Time
}

// WindowStore holds per-key request timestamps. Admit must perform the
// capacity check and the timestamp write as one atomic step.
type WindowStore interface {
	Admit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Decision, error)
	Peek(ctx context.Context, key string, now time.Time, window time.Duration) (Decision, error)
	Reset(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// Sweep prunes expired timestamps and reports how many keys were dropped.
	Sweep(ctx context.Context, now time.Time, window time.Duration) (int, error)
}

// MemoryStore is the in-process WindowStore. Timestamps per key are kept in
// ascending order so pruning only ever trims a prefix.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

// Admit records now under key if fewer than limit timestamps remain in the window.
func (s *MemoryStore) Admit(_ context.Context, key string, now time.Time, window time.Duration, limit int) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.pruneLocked(key, now, window)
	if len(ts) < limit {
		ts = append(ts, now)
		s.windows[key] = ts
		return Decision{Admitted: true, Used: len(ts), Oldest: ts[0]}, nil
	}

	return Decision{Used: len(ts), Oldest: ts[0]}, nil
}

// Peek reports the window for key without recording anything.
func (s *MemoryStore) Peek(_ context.Context, key string, now time.Time, window time.Duration) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.pruneLocked(key, now, window)
	if len(ts) == 0 {
		return Decision{}, nil
	}
	return Decision{Used: len(ts), Oldest: ts[0]}, nil
}

// Reset drops key.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.windows, key)
	s.mu.Unlock()
	return nil
}

// Clear drops every key.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	clear(s.windows)
	s.mu.Unlock()
	return nil
}

// Sweep prunes every key and deletes those left empty.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.windows)
	for key := range s.windows {
		s.pruneLocked(key, now, window)
	}
	return before - len(s.windows), nil
}

// Len returns the number of keys currently tracked.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// pruneLocked trims timestamps at least window old and removes the key when
// nothing is left.
func (s *MemoryStore) pruneLocked(key string, now time.Time, window time.Duration) []time.Time {
	ts := s.windows[key]
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= window {
		i++
	}
	if i == len(ts) {
		delete(s.windows, key)
		return nil
	}
	if i > 0 {
		ts = append(ts[:0:0], ts[i:]...)
		s.windows[key] = ts
	}
	return ts
}
