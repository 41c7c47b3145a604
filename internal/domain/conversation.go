package domain

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Role identifies the speaker of a turn.
type Role string

// Conversation roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

// Tier is the conversation class a generated artifact is scored against.
type Tier string

// Conversation tiers.
const (
	TierTemplate Tier = "template"
	TierScenario Tier = "scenario"
	TierEdgeCase Tier = "edge_case"
)

// Tiers lists every tier in display order.
func Tiers() []Tier { return []Tier{TierTemplate, TierScenario, TierEdgeCase} }

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierTemplate, TierScenario, TierEdgeCase:
		return true
	default:
		return false
	}
}

// ParseTier converts s into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
	return t, nil
}

// Turn is one message of a conversation. TurnNumber and TokenCount are only
// set on persisted turns.
type Turn struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	TurnNumber int    `json:"turn_number,omitempty"`
	TokenCount int    `json:"token_count,omitempty"`
}

// EstimateTokens approximates a token count as one token per four characters,
// rounded up.
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// ConversationData is the scorer input.
type ConversationData struct {
	Turns       []Turn `json:"turns"`
	TotalTurns  int    `json:"total_turns"`
	TotalTokens int    `json:"total_tokens"`
	Tier        Tier   `json:"tier"`
}

// Status is the review state of a stored conversation.
type Status string

// Conversation statuses.
const (
	StatusGenerated     Status = "generated"
	StatusNeedsRevision Status = "needs_revision"
	StatusApproved      Status = "approved"
)

// TrainingValue buckets a conversation by overall score.
type TrainingValue string

// Training values.
const (
	TrainingValueHigh   TrainingValue = "high"
	TrainingValueMedium TrainingValue = "medium"
	TrainingValueLow    TrainingValue = "low"
)

// TrainingValueFor maps an overall score to a training value.
func TrainingValueFor(overall float64) TrainingValue {
	switch {
	case overall >= 8:
		return TrainingValueHigh
	case overall >= 6:
		return TrainingValueMedium
	default:
		return TrainingValueLow
	}
}

// InitialStatus is the status a freshly generated conversation is saved with.
func InitialStatus(overall float64) Status {
	if overall >= 6 {
		return StatusGenerated
	}
	return StatusNeedsRevision
}

// QualityMetrics is the flattened score summary stored with a record.
type QualityMetrics struct {
	Overall         float64         `json:"overall" db:"overall"`
	TurnCount       float64         `json:"turn_count" db:"turn_count"`
	Length          float64         `json:"length" db:"length"`
	Structure       float64         `json:"structure" db:"structure"`
	Confidence      float64         `json:"confidence" db:"confidence"`
	ConfidenceLevel ConfidenceLevel `json:"confidence_level" db:"confidence_level"`
	TrainingValue   TrainingValue   `json:"training_value" db:"training_value"`
}

// MetricsFromScore flattens a QualityScore.
func MetricsFromScore(s QualityScore) QualityMetrics {
	return QualityMetrics{
		Overall:         s.Overall,
		TurnCount:       s.Breakdown.TurnCount.Score,
		Length:          s.Breakdown.Length.Score,
		Structure:       s.Breakdown.Structure.Score,
		Confidence:      s.Breakdown.Confidence.Score,
		ConfidenceLevel: s.Breakdown.Confidence.Level,
		TrainingValue:   TrainingValueFor(s.Overall),
	}
}

// ConversationRecord is a persisted conversation header. Turns are stored
// separately.
type ConversationRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Persona string `json:"persona"`
	Emotion string `json:"emotion"`
	Topic   string `json:"topic"`
	Tier    Tier   `json:"tier"`
	Status  Status `json:"status"`

	QualityScore    float64         `json:"quality_score"`
	QualityMetrics  QualityMetrics  `json:"quality_metrics"`
	ConfidenceLevel ConfidenceLevel `json:"confidence_level"`

	TotalTurns  int `json:"total_turns"`
	TotalTokens int `json:"total_tokens"`
	CostUSD     USD `json:"cost_usd"`

	Model      string            `json:"model"`
	TemplateID string            `json:"template_id,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
	CreatedBy  string            `json:"created_by,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
