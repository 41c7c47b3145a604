package generation

import (
	"context"
	"time"

	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/llm/ratelimit"
	"github.com/ahrav/go-convgen/internal/llm/transport"
)

// Limiter admits outbound generation calls.
type Limiter interface {
	Acquire(ctx context.Context, key string) error
	Status(ctx context.Context, key string) ratelimit.Status
}

// Caller performs one generation call.
type Caller interface {
	Generate(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// PromptResolver renders a template with variables.
type PromptResolver interface {
	Resolve(ctx context.Context, templateID string, vars map[string]string) (string, error)
}

// Scorer grades a conversation.
type Scorer interface {
	Score(data domain.ConversationData, dimensionConfidence *float64) domain.QualityScore
}

// ConversationStore persists conversations.
type ConversationStore interface {
	SaveConversation(ctx context.Context, rec *domain.ConversationRecord) (string, error)
	SaveTurns(ctx context.Context, id string, turns []domain.Turn) error
	UpdateStatus(ctx context.Context, id string, status domain.Status, entry domain.AuditEntry) error
}

// AuditLogger records generation attempts. It is best effort and never fails
// the caller.
type AuditLogger interface {
	LogGeneration(ctx context.Context, log domain.GenerationLog)
}

// Pricing prices token usage for a model.
type Pricing interface {
	Cost(model string, inputTokens, outputTokens int) domain.USD
}

// Metrics receives pipeline measurements.
type Metrics interface {
	ObserveGeneration(model string, status domain.GenerationStatus, d time.Duration)
	ObserveQuality(tier domain.Tier, overall float64, flagged bool)
	ObserveCost(model string, cost domain.USD)
	IncRetry(model string)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) ObserveGeneration(string, domain.GenerationStatus, time.Duration) {}
func (NopMetrics) ObserveQuality(domain.Tier, float64, bool)                      {}
func (NopMetrics) ObserveCost(string, domain.USD)                                 {}
func (NopMetrics) IncRetry(string)                                                {}

type nopAudit struct{}

func (nopAudit) LogGeneration(context.Context, domain.GenerationLog) {}

type freePricing struct{}

func (freePricing) Cost(string, int, int) domain.USD { return 0 }
