package engine

import (
	"github.com/cadenzahq/cadenza/pkg/schema"
)

// ValidExecutionTransitions defines the allowed lifecycle transitions for a
// workflow execution.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionPending:   {schema.ExecutionRunning, schema.ExecutionCancelled},
	schema.ExecutionRunning:   {schema.ExecutionCompleted, schema.ExecutionFailed, schema.ExecutionCancelled, schema.ExecutionTimedOut},
	schema.ExecutionCompleted: {},
	schema.ExecutionFailed:    {},
	schema.ExecutionCancelled: {},
	schema.ExecutionTimedOut:  {},
}

// ValidStepTransitions defines the allowed lifecycle transitions for a step.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepWaiting:   {schema.StepExecuting, schema.StepSkipped},
	schema.StepExecuting: {schema.StepCompleted, schema.StepFailed, schema.StepRetrying},
	schema.StepRetrying:  {schema.StepExecuting, schema.StepFailed},
	schema.StepCompleted: {},
	schema.StepFailed:    {},
	schema.StepSkipped:   {},
}

// ValidateExecutionTransition returns an INVALID_TRANSITION error when the
// move is not in the execution transition table.
func ValidateExecutionTransition(from, to schema.ExecutionStatus) error {
	for _, a := range ValidExecutionTransitions[from] {
		if a == to {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid execution transition: %s -> %s", from, to).
		WithDetails(map[string]any{"from": string(from), "to": string(to)})
}

// ValidateStepTransition returns an INVALID_TRANSITION error when the move is
// not in the step transition table.
func ValidateStepTransition(stepID string, from, to schema.StepStatus) error {
	for _, a := range ValidStepTransitions[from] {
		if a == to {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid step transition: %s -> %s", from, to).
		WithStep(stepID).
		WithDetails(map[string]any{"from": string(from), "to": string(to)})
}

// CancelRemainingSteps marks every non-terminal step in the context as
// skipped. In-flight steps (executing or retrying) are left alone; they
// finish on their own and record their real outcome.
func CancelRemainingSteps(ec *ExecutionContext, stepIDs []string) {
	for _, id := range stepIDs {
		status := ec.StepStatus(id)
		if status == schema.StepWaiting {
			ec.SetStepStatus(id, schema.StepSkipped)
		}
	}
}
