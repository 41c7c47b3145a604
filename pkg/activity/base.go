// Package activity holds the plumbing shared by Temporal activities: execution
// metadata, heartbeats, logging that tolerates non-activity contexts and
// best-effort event emission.
package activity

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/ahrav/go-convgen/pkg/events"
)

// Event emission retry settings.
const (
	emitAttempts   = 2
	emitRetryDelay = 200 * time.Millisecond
)

// ExecutionInfo identifies the workflow execution an activity runs under.
type ExecutionInfo struct {
	WorkflowID string
	RunID      string
	ActivityID string
	Attempt    int32
	// Local is true when ctx is not an activity context, as in unit tests
	// that call activity methods directly.
	Local bool
}

// BaseActivities carries the event sink every activity emits through.
type BaseActivities struct {
	sink events.EventSink
}

// NewBaseActivities returns a BaseActivities emitting to sink. A nil sink
// disables emission.
func NewBaseActivities(sink events.EventSink) BaseActivities {
	return BaseActivities{sink: sink}
}

// Execution reads the execution metadata from ctx. Outside an activity
// context it reports Local with placeholder IDs.
func (b *BaseActivities) Execution(ctx context.Context) (info ExecutionInfo) {
	defer func() {
		if recover() != nil {
			info = ExecutionInfo{WorkflowID: "local", RunID: "local", ActivityID: "local", Attempt: 1, Local: true}
		}
	}()

	ai := activity.GetInfo(ctx)
	return ExecutionInfo{
		WorkflowID: ai.WorkflowExecution.ID,
		RunID:      ai.WorkflowExecution.RunID,
		ActivityID: ai.ActivityID,
		Attempt:    ai.Attempt,
	}
}

// Emit builds an envelope and appends it with a short retry. Failures are
// logged and never returned; events must not fail the activity.
func (b *BaseActivities) Emit(ctx context.Context, typ, source, subject, runID string, payload any) {
	if b.sink == nil {
		return
	}

	env, err := events.New(typ, source, subject, runID, time.Now(), payload)
	if err != nil {
		SafeLogError(ctx, "failed to build event", "event_type", typ, "error", err)
		return
	}

	var lastErr error
	for attempt := range emitAttempts {
		if attempt > 0 {
			select {
			case <-time.After(emitRetryDelay):
			case <-ctx.Done():
				SafeLogError(ctx, "event emission cancelled", "event_type", typ)
				return
			}
		}
		if lastErr = b.sink.Append(ctx, env); lastErr == nil {
			SafeLog(ctx, "event emitted", "event_type", typ, "idempotency_key", env.IdempotencyKey)
			return
		}
	}

	SafeLogError(ctx, "event emission failed",
		"event_type", typ,
		"attempts", emitAttempts,
		"error", lastErr)
}

// RecordHeartbeat records a heartbeat when ctx is an activity context.
func (b *BaseActivities) RecordHeartbeat(ctx context.Context, details ...any) {
	RecordHeartbeat(ctx, details...)
}

// SafeLog logs at info through the activity logger and is a no-op outside
// an activity context.
func SafeLog(ctx context.Context, msg string, keyvals ...any) {
	defer func() { _ = recover() }()
	activity.GetLogger(ctx).Info(msg, keyvals...)
}

// SafeLogError is SafeLog at error level.
func SafeLogError(ctx context.Context, msg string, keyvals ...any) {
	defer func() { _ = recover() }()
	activity.GetLogger(ctx).Error(msg, keyvals...)
}

// RecordHeartbeat is a no-op outside an activity context.
func RecordHeartbeat(ctx context.Context, details ...any) {
	defer func() { _ = recover() }()
	activity.RecordHeartbeat(ctx, details...)
}
