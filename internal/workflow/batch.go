package workflow

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-convgen/internal/activity"
	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/generation"
)

// ProgressQuery is the query name answered with a Progress snapshot.
const ProgressQuery = "progress"

// DefaultItemTimeout bounds one GenerateConversation attempt.
const DefaultItemTimeout = 5 * time.Minute

// MaxConcurrency caps in-flight activities per batch.
const MaxConcurrency = 50

var (
	// ErrEmptyBatch is returned for a batch without items.
	ErrEmptyBatch = errors.New("batch has no items")

	// ErrInvalidConcurrency is returned for concurrency outside [0, MaxConcurrency].
	ErrInvalidConcurrency = errors.New("invalid batch concurrency")
)

// BatchInput starts a durable batch.
type BatchInput struct {
	// RunID correlates the batch's events. Empty uses the workflow ID.
	RunID string                    `json:"run_id"`
	Items []domain.GenerationParams `json:"items"`
	// Concurrency bounds in-flight items. Zero selects
	// generation.DefaultConcurrency.
	Concurrency int  `json:"concurrency"`
	StopOnError bool `json:"stop_on_error"`
	// ItemTimeout is the start-to-close timeout of one item. Zero selects
	// DefaultItemTimeout.
	ItemTimeout time.Duration `json:"item_timeout"`
}

// Validate rejects batches that could never run. Every item is checked up
// front so a bad item fails the batch before any model call.
func (in BatchInput) Validate() error {
	if len(in.Items) == 0 {
		return ErrEmptyBatch
	}
	if in.Concurrency < 0 || in.Concurrency > MaxConcurrency {
		return fmt.Errorf("%w: %d", ErrInvalidConcurrency, in.Concurrency)
	}
	for i, p := range in.Items {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

// ItemOutcome is the result of one batch item.
type ItemOutcome struct {
	Index          int           `json:"index"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Status         domain.Status `json:"status,omitempty"`
	QualityScore   float64       `json:"quality_score,omitempty"`
	Flagged        bool          `json:"flagged,omitempty"`
	Cost           domain.USD    `json:"cost,omitempty"`
	Error          string        `json:"error,omitempty"`
	// ErrorType is the application error tag of a failed item.
	ErrorType string `json:"error_type,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
}

// Progress is the answer to ProgressQuery.
type Progress struct {
	Completed  int     `json:"completed"`
	Total      int     `json:"total"`
	Successful int     `json:"successful"`
	Failed     int     `json:"failed"`
	Percentage float64 `json:"percentage"`
}

// BatchResult is the workflow result. Items are in input order.
type BatchResult struct {
	Summary activity.BatchSummary `json:"summary"`
	Items   []ItemOutcome         `json:"items"`
}

// batchState accumulates outcomes. Workflow code is single threaded, so no
// locking is needed.
type batchState struct {
	items      []ItemOutcome
	done       []bool
	successful int
	failed     int
	flagged    int
	cost       domain.USD
}

func newBatchState(n int) *batchState {
	s := &batchState{items: make([]ItemOutcome, n), done: make([]bool, n)}
	for i := range s.items {
		s.items[i].Index = i
	}
	return s
}

func (s *batchState) succeed(out activity.GenerateOutput, i int) {
	s.items[i] = ItemOutcome{
		Index:          i,
		ConversationID: out.ConversationID,
		Status:         out.Status,
		QualityScore:   out.QualityScore,
		Flagged:        out.Flagged,
		Cost:           out.Cost,
	}
	s.done[i] = true
	s.successful++
	s.cost = s.cost.Add(out.Cost)
	if out.Flagged {
		s.flagged++
	}
}

func (s *batchState) fail(i int, err error) {
	item := ItemOutcome{Index: i, Error: err.Error()}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		item.ErrorType = appErr.Type()
	}
	s.items[i] = item
	s.done[i] = true
	s.failed++
}

// skipRest marks every unfinished item from index from onwards as skipped.
func (s *batchState) skipRest(from int) int {
	skipped := 0
	for i := from; i < len(s.items); i++ {
		if !s.done[i] {
			s.items[i] = ItemOutcome{Index: i, Skipped: true, Error: generation.ErrSkipped.Error()}
			skipped++
		}
	}
	return skipped
}

func (s *batchState) progress() Progress {
	total := len(s.items)
	completed := s.successful + s.failed
	p := Progress{Completed: completed, Total: total, Successful: s.successful, Failed: s.failed}
	if total > 0 {
		p.Percentage = float64(completed) / float64(total) * 100
	}
	return p
}

// generationActivityOptions retries transient call failures with backoff.
// Failures the activity tags as permanent are listed so the server never
// schedules a second attempt for them.
func generationActivityOptions(timeout time.Duration) workflow.ActivityOptions {
	if timeout <= 0 {
		timeout = DefaultItemTimeout
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: activity.NonRetryableTags,
		},
	}
}

// CompletionChangeID versions the CompleteBatch step.
const CompletionChangeID = "batch-generation.complete-batch"

const completionVersion workflow.Version = 1

// BatchGenerationWorkflow generates every item of in through the
// GenerateConversation activity, keeping at most Concurrency in flight. A
// failed item never fails the batch; with StopOnError, items not yet started
// are reported as skipped. The tally is recorded through CompleteBatch.
func BatchGenerationWorkflow(ctx workflow.Context, in BatchInput) (*BatchResult, error) {
	if err := in.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError("invalid batch input", activity.TagValidation, err)
	}

	runID := in.RunID
	if runID == "" {
		runID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	concurrency := in.Concurrency
	if concurrency == 0 {
		concurrency = generation.DefaultConcurrency
	}

	logger := workflow.GetLogger(ctx)
	start := workflow.Now(ctx)
	state := newBatchState(len(in.Items))

	if err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (Progress, error) {
		return state.progress(), nil
	}); err != nil {
		return nil, fmt.Errorf("register progress query: %w", err)
	}

	actx := workflow.WithActivityOptions(ctx, generationActivityOptions(in.ItemTimeout))
	sel := workflow.NewSelector(ctx)

	var (
		next     int
		inFlight int
		stopped  bool
	)
	launch := func(i int) {
		fut := workflow.ExecuteActivity(actx, activity.GenerateConversationName, activity.GenerateInput{
			RunID:  runID,
			Index:  i,
			Params: in.Items[i],
		})
		inFlight++
		sel.AddFuture(fut, func(f workflow.Future) {
			inFlight--
			var out activity.GenerateOutput
			if err := f.Get(ctx, &out); err != nil {
				logger.Warn("batch item failed", "run_id", runID, "index", i, "error", err)
				state.fail(i, err)
				if in.StopOnError {
					stopped = true
				}
				return
			}
			state.succeed(out, i)
		})
	}
	fill := func() {
		for !stopped && ctx.Err() == nil && next < len(in.Items) && inFlight < concurrency {
			launch(next)
			next++
		}
	}

	logger.Info("batch started", "run_id", runID, "items", len(in.Items), "concurrency", concurrency)
	fill()
	for inFlight > 0 {
		sel.Select(ctx)
		fill()
	}

	skipped := state.skipRest(next)
	summary := activity.BatchSummary{
		RunID:      runID,
		Total:      len(in.Items),
		Successful: state.successful,
		Failed:     state.failed,
		Skipped:    skipped,
		Flagged:    state.flagged,
		TotalCost:  state.cost,
		Duration:   workflow.Now(ctx).Sub(start),
	}
	result := &BatchResult{Summary: summary, Items: state.items}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	// Histories recorded before CompleteBatch existed must replay without it.
	if workflow.GetVersion(ctx, CompletionChangeID, workflow.DefaultVersion, completionVersion) >= completionVersion {
		cctx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: 30 * time.Second,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
		})
		if err := workflow.ExecuteActivity(cctx, activity.CompleteBatchName, summary).Get(ctx, nil); err != nil {
			logger.Warn("failed to record batch completion", "run_id", runID, "error", err)
		}
	}

	logger.Info("batch finished",
		"run_id", runID,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"skipped", summary.Skipped)
	return result, nil
}
