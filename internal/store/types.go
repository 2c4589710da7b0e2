package store

import (
	"encoding/json"
	"time"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

// ExecutionRecord is the persisted representation of one workflow execution.
type ExecutionRecord struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      schema.ExecutionStatus `json:"status"`
	Input       map[string]any         `json:"input_data,omitempty"`
	Output      json.RawMessage        `json:"output_data,omitempty"`
	Error       json.RawMessage        `json:"error_details,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// StepState is the materialized view of a step's current execution state.
type StepState struct {
	ExecutionID string            `json:"execution_id"`
	StepID      string            `json:"step_id"`
	Status      schema.StepStatus `json:"status"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	RetryCount  int               `json:"retry_count"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// LogEntry is one record in an execution's append-only log. Sequence is
// monotonically increasing per execution.
type LogEntry struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id,omitempty"`
	StepType    string          `json:"step_type,omitempty"`
	Event       string          `json:"event"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// ExecutionUpdate specifies mutable fields of an execution record.
type ExecutionUpdate struct {
	Status      *schema.ExecutionStatus `json:"status,omitempty"`
	Output      json.RawMessage         `json:"output,omitempty"`
	Error       json.RawMessage         `json:"error,omitempty"`
	StartedAt   *time.Time              `json:"started_at,omitempty"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Since      *time.Time              `json:"since,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
	Offset     int                     `json:"offset,omitempty"`
}
