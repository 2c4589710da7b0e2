package schema

import "encoding/json"

// WorkflowDefinition is the declarative workflow format submitted to the engine.
// Steps are keyed by step ID; dependency edges come from each step's depends_on.
type WorkflowDefinition struct {
	ID       string               `json:"id,omitempty"`
	Name     string               `json:"name,omitempty"`
	Steps    map[string]*StepSpec `json:"steps"`
	Timeout  string               `json:"timeout,omitempty"` // workflow-level deadline (e.g. "5m")
	Metadata map[string]any       `json:"metadata,omitempty"`
}

// StepSpec describes a single step in a workflow.
// Immutable once the workflow begins executing.
type StepSpec struct {
	ID           string            `json:"id,omitempty"` // defaults to the map key
	Type         string            `json:"type"`         // selects the executor (e.g. "http", "transform", "ai_process")
	Input        json.RawMessage   `json:"input,omitempty"`
	DependsOn    []string          `json:"depends_on,omitempty"`
	Condition    string            `json:"condition,omitempty"` // CEL expression over vars/steps/input
	Retry        *RetryPolicy      `json:"retry,omitempty"`
	Timeout      string            `json:"timeout,omitempty"` // step-level timeout (e.g. "30s")
	Target       string            `json:"target,omitempty"`  // circuit breaker key; defaults to the step type
	Compensation *CompensationSpec `json:"compensation,omitempty"`
}

// RetryPolicy configures retry behavior for a step. Absent fields fall back
// to the engine defaults (3 attempts, 1s base, 60s cap, exponential, jitter).
// Bool fields are pointers so "absent" and "false" stay distinguishable.
type RetryPolicy struct {
	MaxAttempts       int      `json:"max_attempts,omitempty"`
	BaseDelay         string   `json:"base_delay,omitempty"`
	MaxDelay          string   `json:"max_delay,omitempty"`
	Exponential       *bool    `json:"exponential_backoff,omitempty"`
	Jitter            *bool    `json:"jitter,omitempty"`
	RetryableKinds    []string `json:"retryable_error_kinds,omitempty"`
	NonRetryableKinds []string `json:"non_retryable_error_kinds,omitempty"`
}

// CompensationSpec is a best-effort undo action invoked after a step fails
// permanently. Its errors are logged, never propagated.
type CompensationSpec struct {
	Type  string          `json:"type"`
	Input json.RawMessage `json:"input,omitempty"`
}

// StepIDs returns the IDs of all steps, in map order (unordered).
func (d *WorkflowDefinition) StepIDs() []string {
	ids := make([]string, 0, len(d.Steps))
	for id := range d.Steps {
		ids = append(ids, id)
	}
	return ids
}
