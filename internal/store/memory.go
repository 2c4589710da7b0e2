package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

// MemoryStore is an in-memory Store used by tests and by deployments that opt
// out of durability. Safe for concurrent use.
type MemoryStore struct {
	mu         sync.Mutex
	executions map[string]*ExecutionRecord
	steps      map[string]map[string]*StepState // executionID -> stepID -> state
	logs       map[string][]*LogEntry           // executionID -> entries
	nextLogID  int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*ExecutionRecord),
		steps:      make(map[string]map[string]*StepState),
		logs:       make(map[string][]*LogEntry),
	}
}

func (s *MemoryStore) CreateExecution(ctx context.Context, rec *ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution id is empty")
	}
	if _, exists := s.executions[rec.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %s already exists", rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = rec.CreatedAt
	if rec.Status == "" {
		rec.Status = schema.ExecutionPending
	}
	cp := *rec
	s.executions[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.executions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution not found: %s", id)
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.executions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution not found: %s", id)
	}
	if update.Status != nil {
		rec.Status = *update.Status
	}
	if update.Output != nil {
		rec.Output = update.Output
	}
	if update.Error != nil {
		rec.Error = update.Error
	}
	if update.StartedAt != nil {
		rec.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		rec.CompletedAt = update.CompletedAt
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ExecutionRecord
	for _, rec := range s.executions {
		if filter.WorkflowID != "" && rec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		if filter.Since != nil && rec.CreatedAt.Before(*filter.Since) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) UpsertStepState(ctx context.Context, state *StepState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byStep, ok := s.steps[state.ExecutionID]
	if !ok {
		byStep = make(map[string]*StepState)
		s.steps[state.ExecutionID] = byStep
	}
	cp := *state
	byStep[state.StepID] = &cp
	return nil
}

func (s *MemoryStore) GetStepState(ctx context.Context, executionID, stepID string) (*StepState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss, ok := s.steps[executionID][stepID]
	if !ok {
		return nil, nil
	}
	cp := *ss
	return &cp, nil
}

func (s *MemoryStore) ListStepStates(ctx context.Context, executionID string) ([]*StepState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*StepState
	for _, ss := range s.steps[executionID] {
		cp := *ss
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepID < out[j].StepID })
	return out, nil
}

func (s *MemoryStore) AppendExecutionLog(ctx context.Context, entry *LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLogID++
	cp := *entry
	cp.ID = s.nextLogID
	cp.Sequence = int64(len(s.logs[entry.ExecutionID]) + 1)
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	entry.ID = cp.ID
	entry.Sequence = cp.Sequence
	s.logs[entry.ExecutionID] = append(s.logs[entry.ExecutionID], &cp)
	return nil
}

func (s *MemoryStore) GetExecutionLogs(ctx context.Context, executionID string, since int64) ([]*LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*LogEntry
	for _, e := range s.logs[executionID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
