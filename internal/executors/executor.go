// Package executors defines the step executor capability and the registry
// that maps a step's declared type to an implementation. Concrete executors
// are registered by type string at startup; side effects are entirely the
// executor's responsibility.
package executors

import (
	"context"
	"encoding/json"
)

// ExecutionState is the read-only view of the running execution that an
// executor receives. Implemented by the engine's execution context.
type ExecutionState interface {
	ExecutionID() string
	WorkflowID() string
	// Variables returns a snapshot of the current variable bindings,
	// including step outputs namespaced by step ID.
	Variables() map[string]any
	// Input returns the execution's initial input data.
	Input() map[string]any
	// StepResult returns the raw output of a completed step.
	StepResult(stepID string) (json.RawMessage, bool)
}

// StepExecutor is an executable unit of work for one step type.
// Execute receives the step's input with all {{...}} placeholders already
// resolved. Implementations must be safe for concurrent use; the engine
// guarantees at most one concurrent invocation per step instance.
type StepExecutor interface {
	Type() string
	Execute(ctx context.Context, input json.RawMessage, state ExecutionState) (json.RawMessage, error)
}
