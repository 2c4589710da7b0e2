package schema

import "time"

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionTimedOut  ExecutionStatus = "timeout"
)

// IsTerminal reports whether the status is one of the four terminal outcomes.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTimedOut:
		return true
	}
	return false
}

// StepStatus represents the lifecycle state of a step within an execution.
type StepStatus string

const (
	StepWaiting   StepStatus = "waiting"
	StepExecuting StepStatus = "executing"
	StepRetrying  StepStatus = "retrying"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// IsTerminal reports whether a step has reached a terminal state.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// TraceEntry is one record in an execution's ordered, append-only trace.
// Failed retry attempts each produce their own entry.
type TraceEntry struct {
	StepID     string     `json:"step_id"`
	Status     StepStatus `json:"status"`
	Attempt    int        `json:"attempt,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	DurationMs int64      `json:"duration_ms,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Log event names recorded through the persistence collaborator.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionCancelled = "execution_cancelled"
	EventExecutionTimedOut  = "execution_timed_out"

	EventStepStarted      = "step_started"
	EventStepCompleted    = "step_completed"
	EventStepFailed       = "step_failed"
	EventStepSkipped      = "step_skipped"
	EventStepRetryAttempt = "step_retry_attempt"

	EventCircuitOpen         = "circuit_breaker_open"
	EventCompensationStarted = "compensation_started"
	EventCompensationFailed  = "compensation_failed"
)
