package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

// fakeSubmitter mimics the engine's async shape: StartExecution returns
// immediately, WaitForExecution blocks until the test finishes the execution.
type fakeSubmitter struct {
	calls    atomic.Int64
	finished chan struct{}
}

func (f *fakeSubmitter) StartExecution(ctx context.Context, def *schema.WorkflowDefinition, input map[string]any) (string, error) {
	f.calls.Add(1)
	return "exec-1", nil
}

func (f *fakeSubmitter) WaitForExecution(ctx context.Context, executionID string) error {
	if f.finished == nil {
		return nil
	}
	select {
	case <-f.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func testDef() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:    "wf",
		Steps: map[string]*schema.StepSpec{"a": {Type: "input"}},
	}
}

func TestScheduler_AddValidatesCron(t *testing.T) {
	s := New(&fakeSubmitter{}, nil)

	err := s.Add("bad", "not a cron", testDef(), nil)
	require.Error(t, err)

	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
}

func TestScheduler_AddDuplicate(t *testing.T) {
	s := New(&fakeSubmitter{}, nil)
	require.NoError(t, s.Add("daily", "0 2 * * *", testDef(), nil))

	err := s.Add("daily", "0 2 * * *", testDef(), nil)
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeConflict, engErr.Code)
}

func TestScheduler_NextRunComputed(t *testing.T) {
	s := New(&fakeSubmitter{}, nil)
	require.NoError(t, s.Add("hourly", "0 * * * *", testDef(), nil))

	next := s.NextRun("hourly")
	assert.False(t, next.IsZero())
	assert.True(t, next.After(time.Now().UTC().Add(-time.Minute)))
	assert.True(t, s.NextRun("unknown").IsZero())
}

func TestScheduler_Remove(t *testing.T) {
	s := New(&fakeSubmitter{}, nil)
	require.NoError(t, s.Add("job", "* * * * *", testDef(), nil))

	assert.True(t, s.Remove("job"))
	assert.False(t, s.Remove("job"))
}

func TestScheduler_TickSubmitsDueSchedules(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(sub, nil)
	require.NoError(t, s.Add("job", "* * * * *", testDef(), map[string]any{"k": "v"}))

	// Force the schedule to be due.
	s.mu.Lock()
	s.schedules["job"].nextRunAt = time.Now().UTC().Add(-time.Minute)
	s.mu.Unlock()

	s.tick(context.Background())

	require.Eventually(t, func() bool {
		return sub.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// The next run was advanced past now.
	assert.True(t, s.NextRun("job").After(time.Now().UTC().Add(-time.Second)))
}

func TestScheduler_TickSkipsDisabled(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(sub, nil)
	require.NoError(t, s.Add("job", "* * * * *", testDef(), nil))
	require.True(t, s.SetEnabled("job", false))

	s.mu.Lock()
	s.schedules["job"].nextRunAt = time.Now().UTC().Add(-time.Minute)
	s.mu.Unlock()

	s.tick(context.Background())
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int64(0), sub.calls.Load())
}

func TestScheduler_InflightDedupCoversExecutionLifetime(t *testing.T) {
	// Submission returns immediately, like the engine's async StartExecution;
	// the slot must stay held until the execution actually finishes.
	sub := &fakeSubmitter{finished: make(chan struct{})}
	s := New(sub, nil)
	require.NoError(t, s.Add("job", "* * * * *", testDef(), nil))

	due := func() {
		s.mu.Lock()
		s.schedules["job"].nextRunAt = time.Now().UTC().Add(-time.Minute)
		s.mu.Unlock()
	}

	due()
	s.tick(context.Background())
	require.Eventually(t, func() bool { return sub.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// The first execution is still running: due ticks are skipped, not queued.
	for i := 0; i < 3; i++ {
		due()
		s.tick(context.Background())
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), sub.calls.Load())

	// Once it finishes, the slot frees and the next due tick submits again.
	close(sub.finished)
	require.Eventually(t, func() bool {
		due()
		s.tick(context.Background())
		return sub.calls.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(&fakeSubmitter{}, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start is rejected")
	s.Stop()

	// Stop is idempotent.
	s.Stop()
}
