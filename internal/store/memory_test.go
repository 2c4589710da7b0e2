package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

func TestMemoryStore_CreateAndGetExecution(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := &ExecutionRecord{ID: "e1", WorkflowID: "wf", Input: map[string]any{"a": 1}}
	require.NoError(t, s.CreateExecution(ctx, rec))

	got, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "wf", got.WorkflowID)
	assert.Equal(t, schema.ExecutionPending, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateExecution(ctx, &ExecutionRecord{ID: "e1"}))
	err := s.CreateExecution(ctx, &ExecutionRecord{ID: "e1"})

	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeConflict, engErr.Code)
}

func TestMemoryStore_GetUnknownExecution(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.GetExecution(context.Background(), "ghost")
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeNotFound, engErr.Code)
}

func TestMemoryStore_UpdateExecution(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateExecution(ctx, &ExecutionRecord{ID: "e1"}))

	status := schema.ExecutionCompleted
	now := time.Now().UTC()
	require.NoError(t, s.UpdateExecution(ctx, "e1", ExecutionUpdate{
		Status:      &status,
		Output:      json.RawMessage(`{"done":true}`),
		CompletedAt: &now,
	}))

	got, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, got.Status)
	assert.JSONEq(t, `{"done":true}`, string(got.Output))
	require.NotNil(t, got.CompletedAt)
}

func TestMemoryStore_ListExecutionsFiltered(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateExecution(ctx, &ExecutionRecord{ID: "e1", WorkflowID: "wf-a"}))
	require.NoError(t, s.CreateExecution(ctx, &ExecutionRecord{ID: "e2", WorkflowID: "wf-b"}))
	require.NoError(t, s.CreateExecution(ctx, &ExecutionRecord{ID: "e3", WorkflowID: "wf-a"}))

	out, err := s.ListExecutions(ctx, ExecutionFilter{WorkflowID: "wf-a"})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = s.ListExecutions(ctx, ExecutionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestMemoryStore_RecordsAreCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateExecution(ctx, &ExecutionRecord{ID: "e1", WorkflowID: "wf"}))

	got, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	got.WorkflowID = "tampered"

	again, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "wf", again.WorkflowID)
}

func TestMemoryStore_UpsertStepState(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertStepState(ctx, &StepState{
		ExecutionID: "e1", StepID: "a", Status: schema.StepExecuting,
	}))
	require.NoError(t, s.UpsertStepState(ctx, &StepState{
		ExecutionID: "e1", StepID: "a", Status: schema.StepCompleted, RetryCount: 1,
	}))

	got, err := s.GetStepState(ctx, "e1", "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, schema.StepCompleted, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestMemoryStore_ListStepStatesSorted(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.UpsertStepState(ctx, &StepState{ExecutionID: "e1", StepID: id}))
	}

	out, err := s.ListStepStates(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].StepID)
	assert.Equal(t, "c", out[2].StepID)
}

func TestMemoryStore_ExecutionLogSequence(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendExecutionLog(ctx, &LogEntry{ExecutionID: "e1", Event: "tick"}))
	}
	// Sequences are per execution, not global.
	require.NoError(t, s.AppendExecutionLog(ctx, &LogEntry{ExecutionID: "e2", Event: "tick"}))

	logs, err := s.GetExecutionLogs(ctx, "e1", 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for i, entry := range logs {
		assert.Equal(t, int64(i+1), entry.Sequence)
	}

	other, err := s.GetExecutionLogs(ctx, "e2", 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, int64(1), other[0].Sequence)
}

func TestMemoryStore_GetExecutionLogsSince(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendExecutionLog(ctx, &LogEntry{ExecutionID: "e1", Event: "tick"}))
	}

	logs, err := s.GetExecutionLogs(ctx, "e1", 3)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, int64(4), logs[0].Sequence)
}
