// Package scheduler triggers workflow executions on cron schedules.
// Schedules live in memory; re-register them on startup.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

// WorkflowSubmitter starts workflow executions on behalf of the scheduler
// and reports when they finish. Satisfied by the engine.
type WorkflowSubmitter interface {
	StartExecution(ctx context.Context, def *schema.WorkflowDefinition, input map[string]any) (string, error)
	// WaitForExecution blocks until the execution reaches a terminal state
	// or ctx is cancelled.
	WaitForExecution(ctx context.Context, executionID string) error
}

// Schedule binds a cron expression to a workflow definition and its input.
type Schedule struct {
	ID         string
	CronExpr   string
	Definition *schema.WorkflowDefinition
	Input      map[string]any
	Enabled    bool

	schedule  cron.Schedule
	nextRunAt time.Time
	lastRunAt time.Time
}

// Scheduler ticks once a minute and submits each due schedule. A schedule
// whose previous run is still in flight is skipped, not queued.
type Scheduler struct {
	submitter WorkflowSubmitter
	parser    cron.Parser
	logger    *slog.Logger

	mu        sync.Mutex
	schedules map[string]*Schedule
	cancel    context.CancelFunc
	done      chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// New creates a Scheduler submitting to the given engine.
func New(submitter WorkflowSubmitter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		submitter: submitter,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:    logger,
		schedules: make(map[string]*Schedule),
		inflight:  make(map[string]struct{}),
	}
}

// Add registers a schedule. The cron expression is validated up front.
func (s *Scheduler) Add(id, cronExpr string, def *schema.WorkflowDefinition, input map[string]any) error {
	if id == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule id is required")
	}
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "schedule workflow definition is required")
	}
	parsed, err := s.parser.Parse(cronExpr)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"invalid cron expression %q: %s", cronExpr, err.Error()).WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "schedule %q already registered", id)
	}
	s.schedules[id] = &Schedule{
		ID:         id,
		CronExpr:   cronExpr,
		Definition: def,
		Input:      input,
		Enabled:    true,
		schedule:   parsed,
		nextRunAt:  parsed.Next(time.Now().UTC()),
	}
	return nil
}

// Remove unregisters a schedule. Returns false if it was unknown.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return false
	}
	delete(s.schedules, id)
	return true
}

// SetEnabled toggles a schedule without removing it.
func (s *Scheduler) SetEnabled(id string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return false
	}
	sched.Enabled = enabled
	return true
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick submits every enabled schedule whose next run is due.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	var due []*Schedule
	for _, sched := range s.schedules {
		if sched.Enabled && !sched.nextRunAt.After(now) {
			due = append(due, sched)
			sched.lastRunAt = now
			sched.nextRunAt = sched.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, sched := range due {
		if !s.tryAcquire(sched.ID) {
			s.logger.Warn("schedule still in flight, skipping run", slog.String("schedule_id", sched.ID))
			continue
		}
		go s.runSchedule(ctx, sched)
	}
}

// runSchedule holds the schedule's in-flight slot for the full lifetime of
// the execution, not just submission: StartExecution returns immediately, so
// releasing on return would let a long run overlap the next tick.
func (s *Scheduler) runSchedule(ctx context.Context, sched *Schedule) {
	defer s.release(sched.ID)

	executionID, err := s.submitter.StartExecution(ctx, sched.Definition, sched.Input)
	if err != nil {
		s.logger.Error("scheduled execution failed to start",
			slog.String("schedule_id", sched.ID),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Info("scheduled execution started",
		slog.String("schedule_id", sched.ID),
		slog.String("execution_id", executionID))

	if err := s.submitter.WaitForExecution(ctx, executionID); err != nil {
		s.logger.Warn("stopped waiting on scheduled execution",
			slog.String("schedule_id", sched.ID),
			slog.String("execution_id", executionID),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Info("scheduled execution finished",
		slog.String("schedule_id", sched.ID),
		slog.String("execution_id", executionID))
}

// NextRun returns the next run time for a schedule, or zero if unknown.
func (s *Scheduler) NextRun(id string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sched, ok := s.schedules[id]; ok {
		return sched.nextRunAt
	}
	return time.Time{}
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}
