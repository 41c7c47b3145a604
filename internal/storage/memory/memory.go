// Package memory is the in-process storage.Store used by default and in tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store keeps everything in maps guarded by one mutex. Records are copied on
// the way in and out so callers never share state with the store.
type Store struct {
	mu     sync.RWMutex
	now    func() time.Time
	convs  map[string]domain.ConversationRecord
	turns  map[string][]domain.Turn
	audit  map[string][]domain.AuditEntry
	logs   []domain.GenerationLog
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:   time.Now,
		convs: make(map[string]domain.ConversationRecord),
		turns: make(map[string][]domain.Turn),
		audit: make(map[string][]domain.AuditEntry),
	}
}

// SaveConversation stores rec under rec.ID.
func (s *Store) SaveConversation(_ context.Context, rec *domain.ConversationRecord) (string, error) {
	if rec.ID == "" {
		return "", fmt.Errorf("save conversation: id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *rec
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	c.Parameters = maps.Clone(rec.Parameters)
	s.convs[c.ID] = c
	return c.ID, nil
}

// SaveTurns replaces the turns of conversation id.
func (s *Store) SaveTurns(_ context.Context, id string, turns []domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[id]; !ok {
		return fmt.Errorf("save turns for %s: %w", id, domain.ErrNotFound)
	}
	s.turns[id] = slices.Clone(turns)
	return nil
}

// UpdateStatus sets the status and appends entry to the audit history.
func (s *Store) UpdateStatus(_ context.Context, id string, status domain.Status, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return fmt.Errorf("update status for %s: %w", id, domain.ErrNotFound)
	}
	c.Status = status
	c.UpdatedAt = s.now()
	s.convs[id] = c

	entry.ConversationID = id
	entry.Reasons = slices.Clone(entry.Reasons)
	s.audit[id] = append(s.audit[id], entry)
	return nil
}

// GetConversation returns a copy of the record.
func (s *Store) GetConversation(_ context.Context, id string) (*domain.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	c.Parameters = maps.Clone(c.Parameters)
	return &c, nil
}

// GetTurns returns the turns in order.
func (s *Store) GetTurns(_ context.Context, id string) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.convs[id]; !ok {
		return nil, fmt.Errorf("turns for %s: %w", id, domain.ErrNotFound)
	}
	return slices.Clone(s.turns[id]), nil
}

// ListConversations returns matches newest first.
func (s *Store) ListConversations(_ context.Context, f storage.ConversationFilter) ([]domain.ConversationRecord, error) {
	s.mu.RLock()
	out := make([]domain.ConversationRecord, 0, len(s.convs))
	for _, c := range s.convs {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Tier != "" && c.Tier != f.Tier {
			continue
		}
		out = append(out, c)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.ConversationRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	return out[:min(len(out), f.EffectiveLimit())], nil
}

// AuditHistory returns status changes oldest first.
func (s *Store) AuditHistory(_ context.Context, id string) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.convs[id]; !ok {
		return nil, fmt.Errorf("audit history for %s: %w", id, domain.ErrNotFound)
	}
	return slices.Clone(s.audit[id]), nil
}

// CountByStatus tallies conversations per status.
func (s *Store) CountByStatus(context.Context) (storage.StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(storage.StatusCounts)
	for _, c := range s.convs {
		counts[c.Status]++
	}
	return counts, nil
}

// LogGeneration appends log.
func (s *Store) LogGeneration(_ context.Context, log domain.GenerationLog) {
	s.mu.Lock()
	s.logs = append(s.logs, log)
	s.mu.Unlock()
}

// GenerationLogs returns up to limit logs, newest first. A non-positive
// limit returns all of them.
func (s *Store) GenerationLogs(_ context.Context, limit int) ([]domain.GenerationLog, error) {
	s.mu.RLock()
	out := slices.Clone(s.logs)
	s.mu.RUnlock()

	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }
