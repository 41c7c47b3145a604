// Package storage defines the persistence contracts for conversations, their
// turns, status audit history and generation logs.
package storage

import (
	"context"

	"github.com/ahrav/go-convgen/internal/domain"
)

// DefaultListLimit caps ListConversations when the filter sets no limit.
const DefaultListLimit = 50

// ConversationFilter narrows ListConversations. Zero fields match everything.
type ConversationFilter struct {
	Status domain.Status
	Tier   domain.Tier
	Limit  int
	Offset int
}

// EffectiveLimit returns Limit, or DefaultListLimit when unset.
func (f ConversationFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// StatusCounts reports how many conversations are in each status.
type StatusCounts map[domain.Status]int

// Total sums every status.
func (c StatusCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// ConversationStore persists conversations and their review history.
// Lookups of unknown IDs return domain.ErrNotFound.
type ConversationStore interface {
	SaveConversation(ctx context.Context, rec *domain.ConversationRecord) (string, error)
	SaveTurns(ctx context.Context, id string, turns []domain.Turn) error
	UpdateStatus(ctx context.Context, id string, status domain.Status, entry domain.AuditEntry) error

	GetConversation(ctx context.Context, id string) (*domain.ConversationRecord, error)
	GetTurns(ctx context.Context, id string) ([]domain.Turn, error)
	ListConversations(ctx context.Context, filter ConversationFilter) ([]domain.ConversationRecord, error)
	AuditHistory(ctx context.Context, id string) ([]domain.AuditEntry, error)
	CountByStatus(ctx context.Context) (StatusCounts, error)
}

// GenerationLogStore records generation attempts. LogGeneration is best
// effort: failures are logged, never returned.
type GenerationLogStore interface {
	LogGeneration(ctx context.Context, log domain.GenerationLog)
	GenerationLogs(ctx context.Context, limit int) ([]domain.GenerationLog, error)
}

// Store is the full persistence surface.
type Store interface {
	ConversationStore
	GenerationLogStore
	Ping(ctx context.Context) error
	Close() error
}
