// Package activity implements the Temporal activities behind durable batch
// generation.
package activity

import (
	"context"
	"errors"
	"time"

	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/generation"
	base "github.com/ahrav/go-convgen/pkg/activity"
	"github.com/ahrav/go-convgen/pkg/events"
)

// Registered activity names.
const (
	GenerateConversationName = "GenerateConversation"
	CompleteBatchName        = "CompleteBatch"
)

const eventSource = "batch-workflow"

// ErrMissingGenerator is returned by NewActivities for a nil generator.
var ErrMissingGenerator = errors.New("activities require a generator")

// GenerateInput is one batch item.
type GenerateInput struct {
	RunID  string                  `json:"run_id"`
	Index  int                     `json:"index"`
	Params domain.GenerationParams `json:"params"`
}

// GenerateOutput summarizes a stored conversation. Turns stay in storage;
// workflow history only carries the summary.
type GenerateOutput struct {
	Index          int           `json:"index"`
	ConversationID string        `json:"conversation_id"`
	Title          string        `json:"title"`
	Status         domain.Status `json:"status"`
	QualityScore   float64       `json:"quality_score"`
	Flagged        bool          `json:"flagged"`
	TotalTurns     int           `json:"total_turns"`
	InputTokens    int           `json:"input_tokens"`
	OutputTokens   int           `json:"output_tokens"`
	Cost           domain.USD    `json:"cost"`
	Duration       time.Duration `json:"duration"`
}

// BatchSummary is the final tally of a durable batch.
type BatchSummary struct {
	RunID      string        `json:"run_id"`
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Flagged    int           `json:"flagged"`
	TotalCost  domain.USD    `json:"total_cost"`
	Duration   time.Duration `json:"duration"`
}

// Activities binds the generator to Temporal.
type Activities struct {
	base.BaseActivities
	gen *generation.Generator
}

// NewActivities returns activities that generate with gen and emit batch
// events through b.
func NewActivities(b base.BaseActivities, gen *generation.Generator) (*Activities, error) {
	if gen == nil {
		return nil, ErrMissingGenerator
	}
	return &Activities{BaseActivities: b, gen: gen}, nil
}

// GenerateConversation runs the full pipeline for one item. Errors are
// returned as Temporal application errors tagged by classification.
func (a *Activities) GenerateConversation(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	if err := in.Params.Validate(); err != nil {
		return nil, nonRetryable(TagValidation, err, "invalid generation params")
	}

	exec := a.Execution(ctx)
	runID := in.RunID
	if runID == "" {
		runID = exec.WorkflowID
	}

	a.RecordHeartbeat(ctx, in.Index)
	res, err := a.gen.GenerateForRun(ctx, in.Params, runID)
	if err != nil {
		base.SafeLogError(ctx, "batch item failed",
			"run_id", runID,
			"index", in.Index,
			"attempt", exec.Attempt,
			"error", err)
		return nil, applicationError(err)
	}

	base.SafeLog(ctx, "batch item generated",
		"run_id", runID,
		"index", in.Index,
		"conversation_id", res.ConversationID,
		"quality_score", res.Score.Overall)

	return &GenerateOutput{
		Index:          in.Index,
		ConversationID: res.ConversationID,
		Title:          res.Title,
		Status:         res.Status,
		QualityScore:   res.Score.Overall,
		Flagged:        res.Flag.Flag,
		TotalTurns:     len(res.Turns),
		InputTokens:    res.InputTokens,
		OutputTokens:   res.OutputTokens,
		Cost:           res.Cost,
		Duration:       res.Duration,
	}, nil
}

// CompleteBatch emits the batch.completed event. Workflows cannot emit
// directly, so the final tally goes through this activity.
func (a *Activities) CompleteBatch(ctx context.Context, summary BatchSummary) error {
	if summary.RunID == "" {
		return nonRetryable(TagValidation, nil, "batch summary requires a run id")
	}
	a.Emit(ctx, events.TypeBatchCompleted, eventSource, summary.RunID, summary.RunID, summary)
	return nil
}
