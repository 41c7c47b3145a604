package domain

import "time"

// AuditAction is the kind of status change recorded for a conversation.
type AuditAction string

// Audit actions.
const (
	ActionRevisionRequested AuditAction = "revision_requested"
	ActionUnflagged         AuditAction = "unflagged"
	ActionApproved          AuditAction = "approved"
)

// SystemActor is the PerformedBy value for automatic actions.
const SystemActor = "system"

// FlagReason explains why a conversation was flagged.
type FlagReason string

// Flag reasons.
const (
	FlagInsufficientTurns FlagReason = "insufficient_turns"
	FlagInadequateLength  FlagReason = "inadequate_length"
	FlagStructuralIssues  FlagReason = "structural_issues"
	FlagLowConfidence     FlagReason = "low_confidence"
	FlagLowOverall        FlagReason = "low_overall"
)

// AuditEntry records a status change.
type AuditEntry struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Action         AuditAction  `json:"action"`
	PerformedBy    string       `json:"performed_by"`
	Comment        string       `json:"comment,omitempty"`
	Reasons        []FlagReason `json:"reasons,omitempty"`
	Score          *float64     `json:"score,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// GenerationStatus is the outcome of a generation call.
type GenerationStatus string

// Generation outcomes.
const (
	GenerationSuccess GenerationStatus = "success"
	GenerationFailed  GenerationStatus = "failed"
)

// GenerationLog is the audit record of one generation attempt. Prompts and
// responses are never stored.
type GenerationLog struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id,omitempty"`
	TemplateID     string           `json:"template_id,omitempty"`
	Model          string           `json:"model"`
	Status         GenerationStatus `json:"status"`
	InputTokens    int              `json:"input_tokens"`
	OutputTokens   int              `json:"output_tokens"`
	CostUSD        USD              `json:"cost_usd"`
	Duration       time.Duration    `json:"duration"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	ErrorCode      string           `json:"error_code,omitempty"`
	CreatedBy      string           `json:"created_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
