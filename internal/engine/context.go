package engine

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cadenzahq/cadenza/internal/expressions"
	"github.com/cadenzahq/cadenza/pkg/schema"
)

// ExecutionContext is the mutable shared state of one workflow execution:
// variables, per-step results and statuses, the ordered trace, and the
// cooperative cancellation flag. All methods are safe for concurrent use by
// the steps of a wave.
type ExecutionContext struct {
	executionID string
	workflowID  string

	mu        sync.RWMutex
	input     map[string]any
	variables map[string]any
	results   map[string]json.RawMessage
	statuses  map[string]schema.StepStatus
	trace     []schema.TraceEntry
	cancelled bool
}

// NewExecutionContext creates the context for a fresh execution. The initial
// input is copied into both the input snapshot and the variable scope, so
// step inputs can interpolate {{key}} directly.
func NewExecutionContext(executionID, workflowID string, input map[string]any) *ExecutionContext {
	vars := make(map[string]any, len(input))
	in := make(map[string]any, len(input))
	for k, v := range input {
		vars[k] = v
		in[k] = v
	}
	return &ExecutionContext{
		executionID: executionID,
		workflowID:  workflowID,
		input:       in,
		variables:   vars,
		results:     make(map[string]json.RawMessage),
		statuses:    make(map[string]schema.StepStatus),
	}
}

func (c *ExecutionContext) ExecutionID() string { return c.executionID }
func (c *ExecutionContext) WorkflowID() string  { return c.workflowID }

// Input returns a copy of the execution's initial input.
func (c *ExecutionContext) Input() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.input))
	for k, v := range c.input {
		out[k] = v
	}
	return out
}

// Variables returns a copy of the current variable scope.
func (c *ExecutionContext) Variables() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// StepResult returns the recorded output of a completed step.
func (c *ExecutionContext) StepResult(stepID string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.results[stepID]
	return out, ok
}

// MergeStepOutput records a step's output and exposes it to later waves under
// the step's ID in the variable scope. Recording the same step twice is
// idempotent: the later write simply overwrites the earlier identical one.
func (c *ExecutionContext) MergeStepOutput(stepID string, output json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[stepID] = output

	var decoded any
	if len(output) > 0 && json.Unmarshal(output, &decoded) == nil {
		c.variables[stepID] = decoded
	} else {
		c.variables[stepID] = nil
	}
}

// SetStepStatus records a step's current lifecycle state.
func (c *ExecutionContext) SetStepStatus(stepID string, status schema.StepStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[stepID] = status
}

// StepStatus returns a step's current lifecycle state, defaulting to waiting.
func (c *ExecutionContext) StepStatus(stepID string) schema.StepStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.statuses[stepID]; ok {
		return s
	}
	return schema.StepWaiting
}

// StepStatuses returns a snapshot of all recorded step statuses.
func (c *ExecutionContext) StepStatuses() map[string]schema.StepStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]schema.StepStatus, len(c.statuses))
	for k, v := range c.statuses {
		out[k] = v
	}
	return out
}

// AppendTrace appends one entry to the ordered execution trace.
func (c *ExecutionContext) AppendTrace(entry schema.TraceEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trace = append(c.trace, entry)
}

// Trace returns a copy of the execution trace in append order.
func (c *ExecutionContext) Trace() []schema.TraceEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]schema.TraceEntry, len(c.trace))
	copy(out, c.trace)
	return out
}

// Cancel sets the cooperative cancellation flag. In-flight steps finish;
// the engine dispatches no further steps.
func (c *ExecutionContext) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
}

// Cancelled reports whether cancellation has been requested.
func (c *ExecutionContext) Cancelled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cancelled
}

// ConditionScope builds the evaluation scope for step conditions from the
// current state.
func (c *ExecutionContext) ConditionScope() expressions.ConditionScope {
	c.mu.RLock()
	defer c.mu.RUnlock()

	steps := make(map[string]any, len(c.results))
	for id, raw := range c.results {
		var decoded any
		if len(raw) > 0 && json.Unmarshal(raw, &decoded) == nil {
			steps[id] = decoded
		} else {
			steps[id] = nil
		}
	}
	vars := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		vars[k] = v
	}
	input := make(map[string]any, len(c.input))
	for k, v := range c.input {
		input[k] = v
	}
	return expressions.ConditionScope{Vars: vars, Steps: steps, Input: input}
}
