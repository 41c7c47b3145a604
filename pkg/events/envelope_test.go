package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-convgen/pkg/events"
)

func TestNew(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	env, err := events.New(events.TypeConversationFlagged, "generation", "conv-1", "run-9", ts,
		map[string]any{"score": 4.2})
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "conversation.flagged:conv-1", env.IdempotencyKey)
	assert.Equal(t, events.Version, env.Version)
	assert.Equal(t, ts, env.Timestamp)
	assert.Equal(t, "run-9", env.RunID)

	var payload map[string]float64
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, 4.2, payload["score"])

	_, err = events.New("bad", "x", "y", "", ts, make(chan int))
	require.Error(t, err)
}

func TestMemorySinkDropsDuplicates(t *testing.T) {
	sink := events.NewMemorySink()
	ctx := context.Background()
	ts := time.Now()

	first, err := events.New(events.TypeConversationGenerated, "generation", "conv-1", "", ts, nil)
	require.NoError(t, err)
	again, err := events.New(events.TypeConversationGenerated, "generation", "conv-1", "", ts, nil)
	require.NoError(t, err)
	other, err := events.New(events.TypeConversationFlagged, "generation", "conv-1", "", ts, nil)
	require.NoError(t, err)

	require.NoError(t, sink.Append(ctx, first))
	require.NoError(t, sink.Append(ctx, again))
	require.NoError(t, sink.Append(ctx, other))

	assert.Equal(t, []string{events.TypeConversationGenerated, events.TypeConversationFlagged}, sink.Types())
	assert.Equal(t, first.ID, sink.Events()[0].ID)
}

func TestNoOpAndLogSinks(t *testing.T) {
	env, err := events.New(events.TypeBatchCompleted, "generation", "run-1", "run-1", time.Now(), struct{}{})
	require.NoError(t, err)

	assert.NoError(t, events.NewNoOpEventSink().Append(context.Background(), env))
	assert.NoError(t, events.NewLogSink(nil).Append(context.Background(), env))
}
