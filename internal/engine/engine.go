// Package engine orchestrates workflow executions: it turns a validated
// definition into an execution plan, drives the plan wave by wave through a
// bounded worker pool, and applies the retry, circuit breaker, condition and
// compensation machinery around each step.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadenzahq/cadenza/internal/executors"
	"github.com/cadenzahq/cadenza/internal/expressions"
	"github.com/cadenzahq/cadenza/internal/logging"
	"github.com/cadenzahq/cadenza/internal/planner"
	"github.com/cadenzahq/cadenza/internal/store"
	"github.com/cadenzahq/cadenza/pkg/schema"
)

// Config holds the engine-wide execution defaults. Step-level settings in the
// workflow definition override these per step.
type Config struct {
	// MaxParallelSteps bounds concurrent step execution per execution.
	MaxParallelSteps int
	// StepTimeout is the default per-attempt timeout for steps that declare none.
	StepTimeout time.Duration
	// WorkflowTimeout is the default workflow deadline for definitions that
	// declare none. Zero means no deadline.
	WorkflowTimeout time.Duration
	// Retry is the default retry policy, overridable per step.
	Retry RetryConfig
	// Breaker configures the per-target circuit breakers.
	Breaker BreakerConfig
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxParallelSteps: 10,
		StepTimeout:      30 * time.Second,
		Retry:            DefaultRetryConfig(),
		Breaker:          DefaultBreakerConfig(),
	}
}

// ExecutionResult is the outcome of a finished execution.
type ExecutionResult struct {
	ExecutionID  string                       `json:"execution_id"`
	WorkflowID   string                       `json:"workflow_id"`
	Status       schema.ExecutionStatus       `json:"status"`
	Output       json.RawMessage              `json:"output_data,omitempty"`
	Error        *schema.EngineError          `json:"error,omitempty"`
	StepStatuses map[string]schema.StepStatus `json:"step_statuses"`
	Trace        []schema.TraceEntry          `json:"trace"`
}

// ExecutionSnapshot is a point-in-time view of an execution, live or persisted.
type ExecutionSnapshot struct {
	ExecutionID  string                       `json:"execution_id"`
	WorkflowID   string                       `json:"workflow_id"`
	Status       schema.ExecutionStatus       `json:"status"`
	StepStatuses map[string]schema.StepStatus `json:"step_statuses"`
	Output       json.RawMessage              `json:"output_data,omitempty"`
	Error        json.RawMessage              `json:"error_details,omitempty"`
}

type runningExecution struct {
	ec   *ExecutionContext
	done chan struct{}
}

// Engine executes workflow definitions. It owns no workflow state beyond the
// executions currently in flight; everything durable goes through the store.
type Engine struct {
	cfg        Config
	registry   *executors.Registry
	store      store.Store
	breakers   *BreakerRegistry
	conditions *expressions.ConditionEvaluator
	logger     *slog.Logger

	mu      sync.Mutex
	running map[string]*runningExecution
}

// New creates an Engine. A nil store gets an in-memory one; a nil logger gets
// slog.Default().
func New(cfg Config, registry *executors.Registry, st store.Store, logger *slog.Logger) (*Engine, error) {
	if registry == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "executor registry is required")
	}
	if cfg.MaxParallelSteps <= 0 {
		cfg.MaxParallelSteps = 10
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if st == nil {
		st = store.NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	conditions, err := expressions.NewConditionEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:        cfg,
		registry:   registry,
		store:      st,
		breakers:   NewBreakerRegistry(cfg.Breaker),
		conditions: conditions,
		logger:     logger,
		running:    make(map[string]*runningExecution),
	}, nil
}

// Breakers exposes the engine's circuit breaker registry for inspection and
// manual resets.
func (e *Engine) Breakers() *BreakerRegistry { return e.breakers }

// ExecuteWorkflow runs a workflow to completion and returns its result. The
// returned error covers rejection (invalid definition); step failures are
// reported through the result's Status and Error fields.
func (e *Engine) ExecuteWorkflow(ctx context.Context, def *schema.WorkflowDefinition, input map[string]any) (*ExecutionResult, error) {
	plan, err := planner.CreatePlan(def)
	if err != nil {
		return nil, err
	}
	executionID := uuid.NewString()
	handle := e.register(executionID, def, input)
	defer e.unregister(executionID)
	return e.run(ctx, def, plan, handle), nil
}

// StartExecution begins a workflow execution asynchronously and returns its
// ID immediately. The definition is validated (and the plan computed) before
// the goroutine is spawned, so invalid workflows are rejected synchronously.
func (e *Engine) StartExecution(ctx context.Context, def *schema.WorkflowDefinition, input map[string]any) (string, error) {
	plan, err := planner.CreatePlan(def)
	if err != nil {
		return "", err
	}
	executionID := uuid.NewString()
	handle := e.register(executionID, def, input)

	go func() {
		defer e.unregister(executionID)
		// Detached from the caller's context; the execution outlives the request.
		e.run(context.Background(), def, plan, handle)
	}()

	return executionID, nil
}

// GetExecutionStatus returns a snapshot of an execution, preferring the live
// in-memory state and falling back to the store for finished executions.
func (e *Engine) GetExecutionStatus(ctx context.Context, executionID string) (*ExecutionSnapshot, error) {
	e.mu.Lock()
	handle, ok := e.running[executionID]
	e.mu.Unlock()
	if ok {
		status := schema.ExecutionRunning
		if handle.ec.Cancelled() {
			status = schema.ExecutionCancelled
		}
		return &ExecutionSnapshot{
			ExecutionID:  executionID,
			WorkflowID:   handle.ec.WorkflowID(),
			Status:       status,
			StepStatuses: handle.ec.StepStatuses(),
		}, nil
	}

	rec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	states, err := e.store.ListStepStates(ctx, executionID)
	if err != nil {
		return nil, err
	}
	stepStatuses := make(map[string]schema.StepStatus, len(states))
	for _, s := range states {
		stepStatuses[s.StepID] = s.Status
	}
	return &ExecutionSnapshot{
		ExecutionID:  rec.ID,
		WorkflowID:   rec.WorkflowID,
		Status:       rec.Status,
		StepStatuses: stepStatuses,
		Output:       rec.Output,
		Error:        rec.Error,
	}, nil
}

// CancelExecution requests cooperative cancellation of a running execution.
// In-flight steps finish; no further steps are dispatched. Returns false when
// the execution is not running (unknown or already terminal).
func (e *Engine) CancelExecution(executionID string) bool {
	e.mu.Lock()
	handle, ok := e.running[executionID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	handle.ec.Cancel()
	return true
}

// WaitForExecution blocks until the execution reaches a terminal state or
// the context is cancelled. Unknown or already finished executions return
// immediately.
func (e *Engine) WaitForExecution(ctx context.Context, executionID string) error {
	e.mu.Lock()
	handle, ok := e.running[executionID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetExecutionLogs returns an execution's append-only log entries with
// sequence greater than since.
func (e *Engine) GetExecutionLogs(ctx context.Context, executionID string, since int64) ([]*store.LogEntry, error) {
	return e.store.GetExecutionLogs(ctx, executionID, since)
}

func (e *Engine) register(executionID string, def *schema.WorkflowDefinition, input map[string]any) *runningExecution {
	handle := &runningExecution{
		ec:   NewExecutionContext(executionID, def.ID, input),
		done: make(chan struct{}),
	}
	e.mu.Lock()
	e.running[executionID] = handle
	e.mu.Unlock()
	return handle
}

func (e *Engine) unregister(executionID string) {
	e.mu.Lock()
	handle, ok := e.running[executionID]
	delete(e.running, executionID)
	e.mu.Unlock()
	if ok {
		close(handle.done)
	}
}

// run drives one execution to a terminal state. It never returns an error:
// every outcome, including infrastructure trouble, is folded into the result.
func (e *Engine) run(ctx context.Context, def *schema.WorkflowDefinition, plan *planner.ExecutionPlan, handle *runningExecution) *ExecutionResult {
	ec := handle.ec
	ctx = logging.WithIDs(ctx, ec.ExecutionID(), def.ID, "")

	// Workflow deadline: definition override first, then the engine default.
	var timedOut bool
	deadline := e.cfg.WorkflowTimeout
	if def.Timeout != "" {
		if d, err := time.ParseDuration(def.Timeout); err == nil && d > 0 {
			deadline = d
		}
	}
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	now := time.Now()
	e.persistCreate(ctx, &store.ExecutionRecord{
		ID:         ec.ExecutionID(),
		WorkflowID: def.ID,
		Status:     schema.ExecutionPending,
		Input:      ec.Input(),
		CreatedAt:  now,
	})
	e.transitionExecution(ctx, ec.ExecutionID(), schema.ExecutionPending, schema.ExecutionRunning, nil, nil)
	e.appendLog(ctx, &store.LogEntry{
		ExecutionID: ec.ExecutionID(),
		Event:       schema.EventExecutionStarted,
		Timestamp:   time.Now(),
	})
	e.logger.InfoContext(ctx, "execution started",
		slog.String("workflow", def.Name),
		slog.Int("steps", plan.StepCount()),
		slog.Int("waves", len(plan.Waves)))

	pool := NewWorkerPool(e.cfg.MaxParallelSteps)
	defer pool.Close()

	var failMu sync.Mutex
	var firstFailure *schema.EngineError

	recordFailure := func(err *schema.EngineError) {
		failMu.Lock()
		if firstFailure == nil {
			firstFailure = err
		}
		failMu.Unlock()
	}
	failed := func() *schema.EngineError {
		failMu.Lock()
		defer failMu.Unlock()
		return firstFailure
	}

	for _, wave := range plan.Waves {
		if ec.Cancelled() || failed() != nil {
			break
		}
		if ctx.Err() != nil {
			timedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
			break
		}

		tasks := make([]Task, 0, len(wave))
		for _, stepID := range wave {
			step := def.Steps[stepID]
			if step.ID == "" {
				// The map key is the step's ID; normalize into a copy so the
				// caller's definition stays untouched.
				normalized := *step
				normalized.ID = stepID
				step = &normalized
			}
			tasks = append(tasks, func(stepCtx context.Context) error {
				if err := e.runStep(stepCtx, def, ec, step); err != nil {
					var engErr *schema.EngineError
					if !errors.As(err, &engErr) {
						engErr = schema.NewError(schema.ErrCodeStepFailed, err.Error()).WithStep(step.ID)
					}
					recordFailure(engErr)
					return err
				}
				return nil
			})
		}
		// Wave barrier: every step of the wave reaches a terminal state
		// before the next wave is considered. Dispatch fails only on
		// shutdown or context expiry.
		if err := pool.RunWave(ctx, tasks); err != nil && errors.Is(err, context.DeadlineExceeded) {
			timedOut = true
		}
	}

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		timedOut = true
	}

	CancelRemainingSteps(ec, def.StepIDs())

	status := schema.ExecutionCompleted
	finalErr := failed()
	switch {
	case ec.Cancelled():
		status = schema.ExecutionCancelled
		if finalErr == nil {
			finalErr = schema.NewError(schema.ErrCodeCancelled, "execution cancelled")
		}
	case timedOut:
		status = schema.ExecutionTimedOut
		if finalErr == nil {
			finalErr = schema.NewErrorf(schema.ErrCodeTimeout, "workflow deadline exceeded after %s", deadline)
		}
	case finalErr != nil:
		status = schema.ExecutionFailed
	}

	var output json.RawMessage
	if status == schema.ExecutionCompleted {
		output = e.aggregateOutput(def, ec)
	}

	var errJSON json.RawMessage
	if finalErr != nil {
		errJSON, _ = json.Marshal(finalErr)
	}
	e.transitionExecution(ctx, ec.ExecutionID(), schema.ExecutionRunning, status, output, errJSON)
	e.appendLog(ctx, &store.LogEntry{
		ExecutionID: ec.ExecutionID(),
		Event:       executionEvent(status),
		Output:      output,
		Error:       errString(finalErr),
		Timestamp:   time.Now(),
	})
	e.logger.InfoContext(ctx, "execution finished", slog.String("status", string(status)))

	return &ExecutionResult{
		ExecutionID:  ec.ExecutionID(),
		WorkflowID:   def.ID,
		Status:       status,
		Output:       output,
		Error:        finalErr,
		StepStatuses: ec.StepStatuses(),
		Trace:        ec.Trace(),
	}
}

// runStep takes one step from waiting to a terminal state: condition check,
// input interpolation, then the retry loop around the breaker-wrapped
// executor call.
func (e *Engine) runStep(ctx context.Context, def *schema.WorkflowDefinition, ec *ExecutionContext, step *schema.StepSpec) error {
	ctx = logging.WithStepID(ctx, step.ID)

	if ec.Cancelled() {
		e.skipStep(ctx, ec, step, "execution cancelled")
		return nil
	}

	// Condition gate.
	if step.Condition != "" {
		ok, err := e.conditions.Evaluate(ctx, step.Condition, ec.ConditionScope())
		if err != nil {
			return e.failStep(ctx, def, ec, step, 0, schema.AsEngineError(err).WithStep(step.ID))
		}
		if !ok {
			e.skipStep(ctx, ec, step, "condition evaluated to false")
			return nil
		}
	}

	// Resolve the executor before spending any attempts.
	exec, err := e.registry.Resolve(step.Type)
	if err != nil {
		return e.failStep(ctx, def, ec, step, 0, schema.AsEngineError(err).WithStep(step.ID))
	}

	// Interpolate the input once; the variable scope is frozen for this step
	// because all of its dependencies completed in earlier waves.
	input := step.Input
	if expressions.HasPlaceholders(input) {
		input, err = expressions.Interpolate(input, ec.Variables())
		if err != nil {
			return e.failStep(ctx, def, ec, step, 0, schema.AsEngineError(err).WithStep(step.ID))
		}
	}

	retryCfg := RetryConfigFromPolicy(step.Retry, e.cfg.Retry)
	stepTimeout := e.cfg.StepTimeout
	if step.Timeout != "" {
		if d, perr := time.ParseDuration(step.Timeout); perr == nil && d > 0 {
			stepTimeout = d
		}
	}
	target := step.Target
	if target == "" {
		target = step.Type
	}

	started := time.Now()
	e.upsertStepState(ctx, &store.StepState{
		ExecutionID: ec.ExecutionID(),
		StepID:      step.ID,
		Status:      schema.StepExecuting,
		StartedAt:   &started,
	})
	e.appendLog(ctx, &store.LogEntry{
		ExecutionID: ec.ExecutionID(),
		StepID:      step.ID,
		StepType:    step.Type,
		Event:       schema.EventStepStarted,
		Input:       input,
		Timestamp:   started,
	})

	var lastErr error
	attemptsMade := 0
	for attempt := 1; attempt <= retryCfg.MaxAttempts; attempt++ {
		attemptsMade = attempt
		ec.SetStepStatus(step.ID, schema.StepExecuting)

		attemptStart := time.Now()
		output, execErr := e.breakers.Call(ctx, target, func(callCtx context.Context) (json.RawMessage, error) {
			attemptCtx, cancel := context.WithTimeout(callCtx, stepTimeout)
			defer cancel()
			out, err := exec.Execute(attemptCtx, input, ec)
			if err != nil && errors.Is(err, context.DeadlineExceeded) {
				return out, schema.NewErrorf(schema.ErrCodeStepTimeout,
					"step timed out after %s", stepTimeout).WithStep(step.ID).WithCause(err)
			}
			return out, err
		})
		duration := time.Since(attemptStart)

		if execErr == nil {
			ec.MergeStepOutput(step.ID, output)
			ec.SetStepStatus(step.ID, schema.StepCompleted)
			ec.AppendTrace(schema.TraceEntry{
				StepID:     step.ID,
				Status:     schema.StepCompleted,
				Attempt:    attempt,
				DurationMs: duration.Milliseconds(),
			})
			completed := time.Now()
			e.upsertStepState(ctx, &store.StepState{
				ExecutionID: ec.ExecutionID(),
				StepID:      step.ID,
				Status:      schema.StepCompleted,
				Output:      output,
				RetryCount:  attempt - 1,
				StartedAt:   &started,
				CompletedAt: &completed,
				DurationMs:  completed.Sub(started).Milliseconds(),
			})
			e.appendLog(ctx, &store.LogEntry{
				ExecutionID: ec.ExecutionID(),
				StepID:      step.ID,
				StepType:    step.Type,
				Event:       schema.EventStepCompleted,
				Output:      output,
				DurationMs:  duration.Milliseconds(),
				Timestamp:   completed,
			})
			e.logger.InfoContext(ctx, "step completed",
				slog.Int("attempt", attempt),
				slog.Duration("duration", duration))
			return nil
		}

		lastErr = execErr
		ec.AppendTrace(schema.TraceEntry{
			StepID:     step.ID,
			Status:     schema.StepFailed,
			Attempt:    attempt,
			DurationMs: duration.Milliseconds(),
			Error:      execErr.Error(),
		})

		var engErr *schema.EngineError
		if errors.As(execErr, &engErr) && engErr.Code == schema.ErrCodeCircuitOpen {
			e.appendLog(ctx, &store.LogEntry{
				ExecutionID: ec.ExecutionID(),
				StepID:      step.ID,
				StepType:    step.Type,
				Event:       schema.EventCircuitOpen,
				Error:       execErr.Error(),
				Timestamp:   time.Now(),
			})
		}

		if !ShouldRetry(execErr, attempt, retryCfg) {
			break
		}
		if ec.Cancelled() {
			break
		}

		delay := NextDelay(attempt, retryCfg)
		ec.SetStepStatus(step.ID, schema.StepRetrying)
		e.upsertStepState(ctx, &store.StepState{
			ExecutionID: ec.ExecutionID(),
			StepID:      step.ID,
			Status:      schema.StepRetrying,
			RetryCount:  attempt,
			StartedAt:   &started,
		})
		e.appendLog(ctx, &store.LogEntry{
			ExecutionID: ec.ExecutionID(),
			StepID:      step.ID,
			StepType:    step.Type,
			Event:       schema.EventStepRetryAttempt,
			Error:       execErr.Error(),
			Timestamp:   time.Now(),
		})
		e.logger.WarnContext(ctx, "step failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", execErr.Error()))

		if err := WaitForBackoff(ctx, delay); err != nil {
			break
		}
	}

	finalErr := schema.AsEngineError(lastErr).WithStep(step.ID)
	if attemptsMade >= retryCfg.MaxAttempts && finalErr.IsRetryable() {
		// Attempts ran out on a retryable error.
		finalErr = schema.NewErrorf(schema.ErrCodeRetryExhausted,
			"step failed after %d attempts: %s", attemptsMade, lastErr.Error()).
			WithStep(step.ID).
			WithCause(lastErr)
	}
	return e.failStep(ctx, def, ec, step, started.UnixMilli(), finalErr)
}

func (e *Engine) skipStep(ctx context.Context, ec *ExecutionContext, step *schema.StepSpec, reason string) {
	ec.SetStepStatus(step.ID, schema.StepSkipped)
	// A skipped step contributes an empty object so downstream references to
	// the namespace resolve instead of failing interpolation.
	ec.MergeStepOutput(step.ID, json.RawMessage(`{}`))
	ec.AppendTrace(schema.TraceEntry{StepID: step.ID, Status: schema.StepSkipped})
	e.upsertStepState(ctx, &store.StepState{
		ExecutionID: ec.ExecutionID(),
		StepID:      step.ID,
		Status:      schema.StepSkipped,
	})
	e.appendLog(ctx, &store.LogEntry{
		ExecutionID: ec.ExecutionID(),
		StepID:      step.ID,
		StepType:    step.Type,
		Event:       schema.EventStepSkipped,
		Error:       reason,
		Timestamp:   time.Now(),
	})
	e.logger.InfoContext(ctx, "step skipped", slog.String("reason", reason))
}

func (e *Engine) failStep(ctx context.Context, def *schema.WorkflowDefinition, ec *ExecutionContext, step *schema.StepSpec, startedMs int64, engErr *schema.EngineError) error {
	ec.SetStepStatus(step.ID, schema.StepFailed)
	if startedMs == 0 {
		// Failures before the first attempt still produce a trace entry.
		ec.AppendTrace(schema.TraceEntry{
			StepID: step.ID,
			Status: schema.StepFailed,
			Error:  engErr.Error(),
		})
	}
	errJSON, _ := json.Marshal(engErr)
	completed := time.Now()
	e.upsertStepState(ctx, &store.StepState{
		ExecutionID: ec.ExecutionID(),
		StepID:      step.ID,
		Status:      schema.StepFailed,
		Error:       errJSON,
		CompletedAt: &completed,
	})
	e.appendLog(ctx, &store.LogEntry{
		ExecutionID: ec.ExecutionID(),
		StepID:      step.ID,
		StepType:    step.Type,
		Event:       schema.EventStepFailed,
		Error:       engErr.Error(),
		Timestamp:   completed,
	})
	e.logger.ErrorContext(ctx, "step failed", slog.String("error", engErr.Error()))

	e.compensate(ctx, ec, step)
	return engErr
}

// compensate runs a permanently failed step's compensation, if declared.
// Compensation is best-effort: its errors are logged and never mask the
// original failure.
func (e *Engine) compensate(ctx context.Context, ec *ExecutionContext, step *schema.StepSpec) {
	comp := step.Compensation
	if comp == nil {
		return
	}
	e.appendLog(ctx, &store.LogEntry{
		ExecutionID: ec.ExecutionID(),
		StepID:      step.ID,
		StepType:    comp.Type,
		Event:       schema.EventCompensationStarted,
		Timestamp:   time.Now(),
	})

	exec, err := e.registry.Resolve(comp.Type)
	if err == nil {
		input := comp.Input
		if expressions.HasPlaceholders(input) {
			input, err = expressions.Interpolate(input, ec.Variables())
		}
		if err == nil {
			compCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
			_, err = exec.Execute(compCtx, input, ec)
			cancel()
		}
	}
	if err != nil {
		e.appendLog(ctx, &store.LogEntry{
			ExecutionID: ec.ExecutionID(),
			StepID:      step.ID,
			StepType:    comp.Type,
			Event:       schema.EventCompensationFailed,
			Error:       err.Error(),
			Timestamp:   time.Now(),
		})
		e.logger.WarnContext(ctx, "compensation failed", slog.String("error", err.Error()))
	}
}

// aggregateOutput builds the execution's output data. Workflows with
// terminal "output" steps use those steps' merged results; otherwise the
// output maps every completed step ID to its result.
func (e *Engine) aggregateOutput(def *schema.WorkflowDefinition, ec *ExecutionContext) json.RawMessage {
	merged := make(map[string]any)
	sawOutputStep := false
	for id, step := range def.Steps {
		if step.Type != "output" || ec.StepStatus(id) != schema.StepCompleted {
			continue
		}
		raw, ok := ec.StepResult(id)
		if !ok {
			continue
		}
		sawOutputStep = true
		var decoded map[string]any
		if json.Unmarshal(raw, &decoded) == nil {
			for k, v := range decoded {
				merged[k] = v
			}
		} else {
			merged[id] = json.RawMessage(raw)
		}
	}
	if !sawOutputStep {
		for id := range def.Steps {
			if ec.StepStatus(id) != schema.StepCompleted {
				continue
			}
			if raw, ok := ec.StepResult(id); ok {
				merged[id] = json.RawMessage(raw)
			}
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil
	}
	return out
}

// --- persistence helpers (log-and-continue) ---
//
// Store writes run on a context detached from the workflow deadline: a timed
// out or cancelled execution must still be able to persist its terminal state,
// otherwise the record stays "running" forever.

func (e *Engine) persistCreate(ctx context.Context, rec *store.ExecutionRecord) {
	ctx = context.WithoutCancel(ctx)
	if err := e.store.CreateExecution(ctx, rec); err != nil {
		e.logger.ErrorContext(ctx, "persist execution create failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) transitionExecution(ctx context.Context, executionID string, from, to schema.ExecutionStatus, output, errJSON json.RawMessage) {
	ctx = context.WithoutCancel(ctx)
	if err := ValidateExecutionTransition(from, to); err != nil {
		e.logger.ErrorContext(ctx, "rejected execution transition", slog.String("error", err.Error()))
		return
	}
	now := time.Now()
	update := store.ExecutionUpdate{Status: &to, Output: output, Error: errJSON}
	if to == schema.ExecutionRunning {
		update.StartedAt = &now
	}
	if to.IsTerminal() {
		update.CompletedAt = &now
	}
	if err := e.store.UpdateExecution(ctx, executionID, update); err != nil {
		e.logger.ErrorContext(ctx, "persist execution update failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) upsertStepState(ctx context.Context, state *store.StepState) {
	ctx = context.WithoutCancel(ctx)
	if err := e.store.UpsertStepState(ctx, state); err != nil {
		e.logger.ErrorContext(ctx, "persist step state failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) appendLog(ctx context.Context, entry *store.LogEntry) {
	ctx = context.WithoutCancel(ctx)
	if err := e.store.AppendExecutionLog(ctx, entry); err != nil {
		e.logger.ErrorContext(ctx, "append execution log failed", slog.String("error", err.Error()))
	}
}

func executionEvent(status schema.ExecutionStatus) string {
	switch status {
	case schema.ExecutionCompleted:
		return schema.EventExecutionCompleted
	case schema.ExecutionFailed:
		return schema.EventExecutionFailed
	case schema.ExecutionCancelled:
		return schema.EventExecutionCancelled
	case schema.ExecutionTimedOut:
		return schema.EventExecutionTimedOut
	default:
		return schema.EventExecutionCompleted
	}
}

func errString(err *schema.EngineError) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
