package workflow_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkactivity "go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	sdkworkflow "go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-convgen/internal/activity"
	"github.com/ahrav/go-convgen/internal/domain"
	"github.com/ahrav/go-convgen/internal/workflow"
)

func item(persona string) domain.GenerationParams {
	return domain.GenerationParams{
		Persona: persona,
		Emotion: "calm",
		Topic:   "budgeting",
		Tier:    domain.TierTemplate,
	}
}

type generateFunc func(ctx context.Context, in activity.GenerateInput) (*activity.GenerateOutput, error)

// stubs records what the workflow scheduled.
type stubs struct {
	mu        sync.Mutex
	calls     map[int]int
	summaries []activity.BatchSummary
	inFlight  atomic.Int32
	peak      atomic.Int32
}

func register(env *testsuite.TestWorkflowEnvironment, gen generateFunc) *stubs {
	s := &stubs{calls: make(map[int]int)}
	env.RegisterActivityWithOptions(func(ctx context.Context, in activity.GenerateInput) (*activity.GenerateOutput, error) {
		n := s.inFlight.Add(1)
		defer s.inFlight.Add(-1)
		for {
			peak := s.peak.Load()
			if n <= peak || s.peak.CompareAndSwap(peak, n) {
				break
			}
		}
		s.mu.Lock()
		s.calls[in.Index]++
		s.mu.Unlock()
		return gen(ctx, in)
	}, sdkactivity.RegisterOptions{Name: activity.GenerateConversationName})
	env.RegisterActivityWithOptions(func(_ context.Context, summary activity.BatchSummary) error {
		s.mu.Lock()
		s.summaries = append(s.summaries, summary)
		s.mu.Unlock()
		return nil
	}, sdkactivity.RegisterOptions{Name: activity.CompleteBatchName})
	return s
}

func succeed(ctx context.Context, in activity.GenerateInput) (*activity.GenerateOutput, error) {
	return &activity.GenerateOutput{
		Index:          in.Index,
		ConversationID: in.Params.Persona + "-conv",
		Status:         domain.StatusGenerated,
		QualityScore:   8.5,
		Cost:           0.02,
	}, nil
}

func TestBatchGenerationWorkflow(t *testing.T) {
	var ts testsuite.WorkflowTestSuite

	t.Run("generates_every_item", func(t *testing.T) {
		env := ts.NewTestWorkflowEnvironment()
		s := register(env, succeed)

		env.ExecuteWorkflow(workflow.BatchGenerationWorkflow, workflow.BatchInput{
			RunID:       "run-a",
			Items:       []domain.GenerationParams{item("a"), item("b"), item("c"), item("d")},
			Concurrency: 2,
		})
		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var res workflow.BatchResult
		require.NoError(t, env.GetWorkflowResult(&res))

		assert.Equal(t, 4, res.Summary.Total)
		assert.Equal(t, 4, res.Summary.Successful)
		assert.Zero(t, res.Summary.Failed)
		assert.InDelta(t, 0.08, float64(res.Summary.TotalCost), 1e-9)
		require.Len(t, res.Items, 4)
		for i, it := range res.Items {
			assert.Equal(t, i, it.Index)
			assert.NotEmpty(t, it.ConversationID)
		}
		assert.Equal(t, "c-conv", res.Items[2].ConversationID)

		require.Len(t, s.summaries, 1)
		assert.Equal(t, "run-a", s.summaries[0].RunID)
		assert.LessOrEqual(t, s.peak.Load(), int32(2))
	})

	t.Run("pre_completion_history_skips_complete_batch", func(t *testing.T) {
		env := ts.NewTestWorkflowEnvironment()
		s := register(env, succeed)
		env.OnGetVersion(workflow.CompletionChangeID, sdkworkflow.DefaultVersion, 1).Return(sdkworkflow.DefaultVersion)

		env.ExecuteWorkflow(workflow.BatchGenerationWorkflow, workflow.BatchInput{
			RunID: "run-old",
			Items: []domain.GenerationParams{item("a"), item("b")},
		})
		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var res workflow.BatchResult
		require.NoError(t, env.GetWorkflowResult(&res))
		assert.Equal(t, 2, res.Summary.Successful)
		assert.Empty(t, s.summaries)
	})

	t.Run("failed_item_does_not_fail_batch", func(t *testing.T) {
		env := ts.NewTestWorkflowEnvironment()
		s := register(env, func(ctx context.Context, in activity.GenerateInput) (*activity.GenerateOutput, error) {
			if in.Index == 1 {
				return nil, temporal.NewNonRetryableApplicationError("unparseable model response", activity.TagParse, nil)
			}
			return succeed(ctx, in)
		})

		env.ExecuteWorkflow(workflow.BatchGenerationWorkflow, workflow.BatchInput{
			Items: []domain.GenerationParams{item("a"), item("b"), item("c")},
		})
		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var res workflow.BatchResult
		require.NoError(t, env.GetWorkflowResult(&res))

		assert.Equal(t, 2, res.Summary.Successful)
		assert.Equal(t, 1, res.Summary.Failed)
		assert.Equal(t, activity.TagParse, res.Items[1].ErrorType)
		assert.NotEmpty(t, res.Items[1].Error)
		assert.Equal(t, 1, s.calls[1])
		assert.NotEmpty(t, res.Summary.RunID)
	})

	t.Run("retryable_failure_is_retried", func(t *testing.T) {
		env := ts.NewTestWorkflowEnvironment()
		var attempts atomic.Int32
		register(env, func(ctx context.Context, in activity.GenerateInput) (*activity.GenerateOutput, error) {
			if attempts.Add(1) == 1 {
				return nil, temporal.NewApplicationError("overloaded", "server")
			}
			return succeed(ctx, in)
		})

		env.ExecuteWorkflow(workflow.BatchGenerationWorkflow, workflow.BatchInput{
			Items: []domain.GenerationParams{item("a")},
		})
		require.NoError(t, env.GetWorkflowError())

		var res workflow.BatchResult
		require.NoError(t, env.GetWorkflowResult(&res))
		assert.Equal(t, 1, res.Summary.Successful)
		assert.Equal(t, int32(2), attempts.Load())
	})

	t.Run("stop_on_error_skips_unstarted_items", func(t *testing.T) {
		env := ts.NewTestWorkflowEnvironment()
		s := register(env, func(ctx context.Context, in activity.GenerateInput) (*activity.GenerateOutput, error) {
			if in.Index == 0 {
				return nil, temporal.NewNonRetryableApplicationError("bad key", "authentication", nil)
			}
			return succeed(ctx, in)
		})

		env.ExecuteWorkflow(workflow.BatchGenerationWorkflow, workflow.BatchInput{
			Items:       []domain.GenerationParams{item("a"), item("b"), item("c")},
			Concurrency: 1,
			StopOnError: true,
		})
		require.NoError(t, env.GetWorkflowError())

		var res workflow.BatchResult
		require.NoError(t, env.GetWorkflowResult(&res))

		assert.Equal(t, 1, res.Summary.Failed)
		assert.Equal(t, 2, res.Summary.Skipped)
		assert.True(t, res.Items[1].Skipped)
		assert.True(t, res.Items[2].Skipped)
		assert.Len(t, s.calls, 1)
	})

	t.Run("progress_query", func(t *testing.T) {
		env := ts.NewTestWorkflowEnvironment()
		register(env, succeed)

		env.ExecuteWorkflow(workflow.BatchGenerationWorkflow, workflow.BatchInput{
			Items: []domain.GenerationParams{item("a"), item("b")},
		})
		require.NoError(t, env.GetWorkflowError())

		val, err := env.QueryWorkflow(workflow.ProgressQuery)
		require.NoError(t, err)
		var p workflow.Progress
		require.NoError(t, val.Get(&p))
		assert.Equal(t, 2, p.Completed)
		assert.Equal(t, 100.0, p.Percentage)
	})

	t.Run("invalid_input_fails_fast", func(t *testing.T) {
		tests := []struct {
			name string
			in   workflow.BatchInput
		}{
			{name: "empty", in: workflow.BatchInput{}},
			{name: "negative_concurrency", in: workflow.BatchInput{Items: []domain.GenerationParams{item("a")}, Concurrency: -1}},
			{name: "bad_item", in: workflow.BatchInput{Items: []domain.GenerationParams{item("a"), {Tier: "gold"}}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				env := ts.NewTestWorkflowEnvironment()
				s := register(env, succeed)

				env.ExecuteWorkflow(workflow.BatchGenerationWorkflow, tt.in)
				require.True(t, env.IsWorkflowCompleted())

				var appErr *temporal.ApplicationError
				require.ErrorAs(t, env.GetWorkflowError(), &appErr)
				assert.Equal(t, activity.TagValidation, appErr.Type())
				assert.True(t, appErr.NonRetryable())
				assert.Empty(t, s.calls)
			})
		}
	})
}

func TestBatchInputValidate(t *testing.T) {
	err := workflow.BatchInput{}.Validate()
	require.ErrorIs(t, err, workflow.ErrEmptyBatch)

	err = workflow.BatchInput{Items: []domain.GenerationParams{item("a")}, Concurrency: workflow.MaxConcurrency + 1}.Validate()
	require.ErrorIs(t, err, workflow.ErrInvalidConcurrency)

	err = workflow.BatchInput{Items: []domain.GenerationParams{{Tier: "gold"}}}.Validate()
	require.ErrorIs(t, err, domain.ErrInvalidParams)
	assert.Contains(t, err.Error(), "item 0")

	require.NoError(t, workflow.BatchInput{Items: []domain.GenerationParams{item("a")}}.Validate())
}
