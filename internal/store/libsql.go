package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/cadenza.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some PRAGMAs return rows, so QueryRow is used.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution id is empty")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = rec.CreatedAt
	if rec.Status == "" {
		rec.Status = schema.ExecutionPending
	}

	var input any
	if rec.Input != nil {
		b, err := json.Marshal(rec.Input)
		if err != nil {
			return fmt.Errorf("marshal execution input: %w", err)
		}
		input = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, status, input_data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorkflowID, string(rec.Status), input, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, status, input_data, output_data, error_details,
		        created_at, started_at, completed_at, updated_at
		 FROM executions WHERE id = ?`, id)
	rec, err := scanExecution(row)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution not found: %s", id)
	}
	return rec, nil
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Output != nil {
		sets = append(sets, "output_data = ?")
		args = append(args, string(update.Output))
	}
	if update.Error != nil {
		sets = append(sets, "error_details = ?")
		args = append(args, string(update.Error))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE executions SET %s WHERE id = ?`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution not found: %s", id)
	}
	return nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	query := `SELECT id, workflow_id, status, input_data, output_data, error_details,
	                 created_at, started_at, completed_at, updated_at
	          FROM executions`
	var conds []string
	var args []any

	if filter.WorkflowID != "" {
		conds = append(conds, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, *filter.Since)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Step state ---

func (s *LibSQLStore) UpsertStepState(ctx context.Context, state *StepState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_states (execution_id, step_id, status, output, error, retry_count, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (execution_id, step_id) DO UPDATE SET
		   status = excluded.status,
		   output = excluded.output,
		   error = excluded.error,
		   retry_count = excluded.retry_count,
		   started_at = excluded.started_at,
		   completed_at = excluded.completed_at,
		   duration_ms = excluded.duration_ms`,
		state.ExecutionID, state.StepID, string(state.Status),
		nullRaw(state.Output), nullRaw(state.Error), state.RetryCount,
		state.StartedAt, state.CompletedAt, state.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("upsert step state: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetStepState(ctx context.Context, executionID, stepID string) (*StepState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT execution_id, step_id, status, output, error, retry_count, started_at, completed_at, duration_ms
		 FROM step_states WHERE execution_id = ? AND step_id = ?`, executionID, stepID)
	ss, err := scanStepState(row)
	if err != nil {
		return nil, err
	}
	if ss == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "step state not found: %s/%s", executionID, stepID)
	}
	return ss, nil
}

func (s *LibSQLStore) ListStepStates(ctx context.Context, executionID string) ([]*StepState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT execution_id, step_id, status, output, error, retry_count, started_at, completed_at, duration_ms
		 FROM step_states WHERE execution_id = ? ORDER BY step_id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list step states: %w", err)
	}
	defer rows.Close()

	var out []*StepState
	for rows.Next() {
		ss, err := scanStepState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// --- Execution log ---

// AppendExecutionLog appends an entry with a monotonically increasing
// per-execution sequence.
func (s *LibSQLStore) AppendExecutionLog(ctx context.Context, entry *LogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin log tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM execution_logs WHERE execution_id = ?`,
		entry.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next log sequence: %w", err)
	}
	entry.Sequence = seq

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO execution_logs (execution_id, step_id, step_type, event, input, output, error, duration_ms, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ExecutionID, nullStr(entry.StepID), nullStr(entry.StepType), entry.Event,
		nullRaw(entry.Input), nullRaw(entry.Output), nullStr(entry.Error),
		entry.DurationMs, entry.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit log entry: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetExecutionLogs(ctx context.Context, executionID string, since int64) ([]*LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, step_id, step_type, event, input, output, error, duration_ms, timestamp, sequence
		 FROM execution_logs WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since)
	if err != nil {
		return nil, fmt.Errorf("get execution logs: %w", err)
	}
	defer rows.Close()

	var out []*LogEntry
	for rows.Next() {
		var e LogEntry
		var stepID, stepType, input, output, errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &stepID, &stepType, &e.Event,
			&input, &output, &errMsg, &e.DurationMs, &e.Timestamp, &e.Sequence); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.StepID = stepID.String
		e.StepType = stepType.String
		e.Error = errMsg.String
		if input.Valid {
			e.Input = json.RawMessage(input.String)
		}
		if output.Valid {
			e.Output = json.RawMessage(output.String)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	var status string
	var input, output, errDetails sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.WorkflowID, &status, &input, &output, &errDetails,
		&rec.CreatedAt, &startedAt, &completedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	rec.Status = schema.ExecutionStatus(status)
	if input.Valid && input.String != "" {
		if err := json.Unmarshal([]byte(input.String), &rec.Input); err != nil {
			return nil, fmt.Errorf("unmarshal execution input: %w", err)
		}
	}
	if output.Valid {
		rec.Output = json.RawMessage(output.String)
	}
	if errDetails.Valid {
		rec.Error = json.RawMessage(errDetails.String)
	}
	if startedAt.Valid {
		rec.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	return &rec, nil
}

func scanStepState(row rowScanner) (*StepState, error) {
	var ss StepState
	var status string
	var output, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&ss.ExecutionID, &ss.StepID, &status, &output, &errMsg,
		&ss.RetryCount, &startedAt, &completedAt, &ss.DurationMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan step state: %w", err)
	}

	ss.Status = schema.StepStatus(status)
	if output.Valid {
		ss.Output = json.RawMessage(output.String)
	}
	if errMsg.Valid {
		ss.Error = json.RawMessage(errMsg.String)
	}
	if startedAt.Valid {
		ss.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		ss.CompletedAt = &completedAt.Time
	}
	return &ss, nil
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
