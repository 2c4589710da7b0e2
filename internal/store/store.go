// Package store is the persistence collaborator consumed by the engine.
// The engine calls it at state transitions and tolerates failures without
// corrupting in-memory execution progress (log-and-continue).
package store

import "context"

// Store defines the persistence contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Executions
	CreateExecution(ctx context.Context, rec *ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*ExecutionRecord, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)

	// Step state (materialized view)
	UpsertStepState(ctx context.Context, state *StepState) error
	GetStepState(ctx context.Context, executionID, stepID string) (*StepState, error)
	ListStepStates(ctx context.Context, executionID string) ([]*StepState, error)

	// Execution log (append-only)
	AppendExecutionLog(ctx context.Context, entry *LogEntry) error
	GetExecutionLogs(ctx context.Context, executionID string, since int64) ([]*LogEntry, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
