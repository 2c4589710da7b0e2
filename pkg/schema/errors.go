package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting. Codes double as the "error
// kinds" matched by retry allow/deny lists and circuit breakers.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeUnknownDependency = "UNKNOWN_DEPENDENCY"
	ErrCodeUnsupportedStep   = "UNSUPPORTED_STEP_TYPE"
	ErrCodeStepFailed        = "STEP_FAILED"
	ErrCodeStepTimeout       = "STEP_TIMEOUT"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeMissingVariable   = "MISSING_VARIABLE"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeNonRetryable      = "NON_RETRYABLE"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeWorkflowFailed    = "WORKFLOW_FAILED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeStore             = "STORE_ERROR"
)

// nonRetryableCodes are configuration or permanent-state errors that a retry
// can never fix. Everything else defaults to retryable; the retry policy
// limits attempts.
var nonRetryableCodes = map[string]bool{
	ErrCodeValidation:        true,
	ErrCodeCycleDetected:     true,
	ErrCodeUnknownDependency: true,
	ErrCodeUnsupportedStep:   true,
	ErrCodeMissingVariable:   true,
	ErrCodeNonRetryable:      true,
	ErrCodeCancelled:         true,
	ErrCodeInvalidTransition: true,
	ErrCodeNotFound:          true,
	ErrCodeConflict:          true,
	ErrCodeRetryExhausted:    true,
	ErrCodeWorkflowFailed:    true,
}

// EngineError is the structured error type for all engine operations.
type EngineError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	StepID    string         `json:"step_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable *bool          `json:"retryable,omitempty"` // explicit override of the code-based default
	Cause     error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether this error may be retried. An explicit
// retryable flag wins; otherwise the code decides.
func (e *EngineError) IsRetryable() bool {
	if e.Retryable != nil {
		return *e.Retryable
	}
	return !nonRetryableCodes[e.Code]
}

// AsEngineError returns err as an *EngineError, wrapping untyped errors under
// EXECUTION_ERROR. A nil err yields nil.
func AsEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr
	}
	return &EngineError{Code: ErrCodeExecution, Message: err.Error(), Cause: err}
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *EngineError) WithStep(stepID string) *EngineError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	e.Details = details
	return e
}

// WithRetryable overrides the code-based retryability default.
func (e *EngineError) WithRetryable(retryable bool) *EngineError {
	e.Retryable = &retryable
	return e
}
