// Package events provides the envelope and sink used to publish conversation
// lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeConversationGenerated = "conversation.generated"
	TypeConversationFlagged   = "conversation.flagged"
	TypeConversationUnflagged = "conversation.unflagged"
	TypeGenerationFailed      = "generation.failed"
	TypeBatchCompleted        = "batch.completed"
)

// Version is the current envelope schema version.
const Version = "1.0.0"

// Envelope wraps an event payload with routing and idempotency metadata.
type Envelope struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type identifies the event, for example "conversation.flagged".
	Type string `json:"type"`

	// Source is the emitting component.
	Source string `json:"source"`

	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey is derived from the subject and type so a replayed
	// emission can be dropped by the sink.
	IdempotencyKey string `json:"idempotency_key"`

	// Subject is the conversation or batch the event concerns.
	Subject string `json:"subject"`

	// RunID correlates events from one batch run.
	RunID string `json:"run_id,omitempty"`

	Payload json.RawMessage `json:"payload"`
}

// New marshals payload into an envelope. The idempotency key is
// "<type>:<subject>".
func New(typ, source, subject, runID string, ts time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{
		ID:             uuid.NewString(),
		Type:           typ,
		Source:         source,
		Version:        Version,
		Timestamp:      ts,
		IdempotencyKey: typ + ":" + subject,
		Subject:        subject,
		RunID:          runID,
		Payload:        raw,
	}, nil
}

// EventSink receives envelopes. Append should be idempotent on
// IdempotencyKey. Callers treat failures as non-fatal.
type EventSink interface {
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink discards every event.
type NoOpEventSink struct{}

// Append implements EventSink.
func (NoOpEventSink) Append(context.Context, Envelope) error { return nil }

// NewNoOpEventSink returns a sink that discards events.
func NewNoOpEventSink() EventSink { return NoOpEventSink{} }

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink that logs through logger, or the default logger
// when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default().With("component", "events")
	}
	return &LogSink{logger: logger}
}

// Append implements EventSink.
func (s *LogSink) Append(ctx context.Context, e Envelope) error {
	s.logger.InfoContext(ctx, "event",
		"type", e.Type,
		"subject", e.Subject,
		"run_id", e.RunID,
		"payload", string(e.Payload))
	return nil
}

// MemorySink keeps events in memory and drops duplicates by idempotency key.
type MemorySink struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	events []Envelope
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{seen: make(map[string]struct{})}
}

// Append implements EventSink.
func (s *MemorySink) Append(_ context.Context, e Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[e.IdempotencyKey]; dup {
		return nil
	}
	s.seen[e.IdempotencyKey] = struct{}{}
	s.events = append(s.events, e)
	return nil
}

// Events returns a copy of the recorded events in append order.
func (s *MemorySink) Events() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.events...)
}

// Types returns the recorded event types in append order.
func (s *MemorySink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}
