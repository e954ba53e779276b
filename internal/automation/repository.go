package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProcessStore defines the persistence contract for processes.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
//
// Save enforces optimistic concurrency: the revision on the given
// document must match the stored one, and the returned document
// carries the incremented revision. Callers never invent revisions,
// they pass through whatever they last read.
type ProcessStore interface {
	FetchAll(ctx context.Context) ([]Process, error)
	FetchByID(ctx context.Context, id string) (*Process, error)
	Save(ctx context.Context, proc *Process) (*Process, error)
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// TaskStore defines the persistence contract for tasks, with the same
// revision discipline as ProcessStore.
type TaskStore interface {
	FetchAll(ctx context.Context) ([]Task, error)
	FetchByID(ctx context.Context, id string) (*Task, error)
	Save(ctx context.Context, task *Task) (*Task, error)
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// processColumns is the SELECT column list for process queries.
const processColumns = `id, title, steps, results, rev, created_at, updated_at`

// taskColumns is the SELECT column list for task queries.
const taskColumns = `id, ref, title, message, status, created_by, process_id, step_id, rev, created_at, updated_at`

// SQLiteProcessStore implements ProcessStore using SQLite.
//
// Steps and results are stored as JSON documents: they are nested,
// schemaless trees read and written whole, never queried by column.
type SQLiteProcessStore struct {
	db *sql.DB
}

// NewSQLiteProcessStore creates a new SQLite-backed process store.
func NewSQLiteProcessStore(db *sql.DB) *SQLiteProcessStore {
	return &SQLiteProcessStore{db: db}
}

// FetchAll retrieves all processes ordered by creation time.
func (s *SQLiteProcessStore) FetchAll(ctx context.Context) ([]Process, error) {
	query := `SELECT ` + processColumns + ` FROM processes ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying processes: %w", err)
	}
	defer rows.Close()

	var procs []Process
	for rows.Next() {
		proc, scanErr := scanProcessRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning process: %w", scanErr)
		}
		procs = append(procs, *proc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating processes: %w", err)
	}
	return procs, nil
}

// FetchByID retrieves a process by its unique identifier.
func (s *SQLiteProcessStore) FetchByID(ctx context.Context, id string) (*Process, error) {
	query := `SELECT ` + processColumns + ` FROM processes WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	proc, err := scanProcessRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProcessNotFound
		}
		return nil, fmt.Errorf("querying process by id: %w", err)
	}
	return proc, nil
}

// Save inserts or updates a process under revision control.
func (s *SQLiteProcessStore) Save(ctx context.Context, proc *Process) (*Process, error) {
	stepsJSON, err := json.Marshal(proc.Steps)
	if err != nil {
		return nil, fmt.Errorf("marshalling steps: %w", err)
	}
	resultsJSON, err := json.Marshal(proc.Results)
	if err != nil {
		return nil, fmt.Errorf("marshalling results: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)

	if proc.Rev == 0 {
		query := `
			INSERT INTO processes (id, title, steps, results, rev, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)`

		_, err := s.db.ExecContext(ctx, query,
			proc.ID, proc.Title, string(stepsJSON), string(resultsJSON), now, now)
		if err != nil {
			if isUniqueConstraintError(err) {
				return nil, ErrProcessExists
			}
			return nil, fmt.Errorf("inserting process: %w", err)
		}

		saved := proc.DeepCopy()
		saved.Rev = 1
		return saved, nil
	}

	query := `
		UPDATE processes SET title = ?, steps = ?, results = ?, rev = rev + 1, updated_at = ?
		WHERE id = ? AND rev = ?`

	result, err := s.db.ExecContext(ctx, query,
		proc.Title, string(stepsJSON), string(resultsJSON), now, proc.ID, proc.Rev)
	if err != nil {
		return nil, fmt.Errorf("updating process: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, s.saveConflict(ctx, proc.ID)
	}

	saved := proc.DeepCopy()
	saved.Rev = proc.Rev + 1
	return saved, nil
}

// saveConflict distinguishes a stale revision from a missing row.
func (s *SQLiteProcessStore) saveConflict(ctx context.Context, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processes WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrProcessNotFound
	}
	if err != nil {
		return fmt.Errorf("checking process existence: %w", err)
	}
	return ErrRevisionConflict
}

// Remove deletes a process by ID.
func (s *SQLiteProcessStore) Remove(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM processes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting process: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProcessNotFound
	}
	return nil
}

// Clear deletes all processes.
func (s *SQLiteProcessStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM processes`); err != nil {
		return fmt.Errorf("clearing processes: %w", err)
	}
	return nil
}

// SQLiteTaskStore implements TaskStore using SQLite.
type SQLiteTaskStore struct {
	db *sql.DB
}

// NewSQLiteTaskStore creates a new SQLite-backed task store.
func NewSQLiteTaskStore(db *sql.DB) *SQLiteTaskStore {
	return &SQLiteTaskStore{db: db}
}

// FetchAll retrieves all tasks ordered by creation time.
func (s *SQLiteTaskStore) FetchAll(ctx context.Context) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, scanErr := scanTaskRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning task: %w", scanErr)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}
	return tasks, nil
}

// FetchByID retrieves a task by its unique identifier.
func (s *SQLiteTaskStore) FetchByID(ctx context.Context, id string) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	task, err := scanTaskRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("querying task by id: %w", err)
	}
	return task, nil
}

// Save inserts or updates a task under revision control.
func (s *SQLiteTaskStore) Save(ctx context.Context, task *Task) (*Task, error) {
	if !validTaskStatus(task.Status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTaskStatus, task.Status)
	}

	now := time.Now().UTC().Format(time.RFC3339)

	if task.Rev == 0 {
		query := `
			INSERT INTO tasks (id, ref, title, message, status, created_by, process_id, step_id, rev, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`

		_, err := s.db.ExecContext(ctx, query,
			task.ID,
			task.Ref,
			task.Title,
			nullableStr(task.Message),
			string(task.Status),
			task.CreatedBy,
			nullableStr(task.ProcessID),
			nullableStr(task.StepID),
			now, now)
		if err != nil {
			if isUniqueConstraintError(err) {
				return nil, ErrTaskExists
			}
			return nil, fmt.Errorf("inserting task: %w", err)
		}

		saved := *task
		saved.Rev = 1
		return &saved, nil
	}

	query := `
		UPDATE tasks SET ref = ?, title = ?, message = ?, status = ?, process_id = ?, step_id = ?, rev = rev + 1, updated_at = ?
		WHERE id = ? AND rev = ?`

	result, err := s.db.ExecContext(ctx, query,
		task.Ref,
		task.Title,
		nullableStr(task.Message),
		string(task.Status),
		nullableStr(task.ProcessID),
		nullableStr(task.StepID),
		now,
		task.ID,
		task.Rev)
	if err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, s.saveConflict(ctx, task.ID)
	}

	saved := *task
	saved.Rev = task.Rev + 1
	return &saved, nil
}

func (s *SQLiteTaskStore) saveConflict(ctx context.Context, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("checking task existence: %w", err)
	}
	return ErrRevisionConflict
}

// Remove deletes a task by ID.
func (s *SQLiteTaskStore) Remove(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Clear deletes all tasks.
func (s *SQLiteTaskStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("clearing tasks: %w", err)
	}
	return nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcessRow(scanner rowScanner) (*Process, error) {
	var p Process
	var stepsJSON, resultsJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&p.ID,
		&p.Title,
		&stepsJSON,
		&resultsJSON,
		&p.Rev,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if stepsJSON != "" && stepsJSON != "null" {
		if jsonErr := json.Unmarshal([]byte(stepsJSON), &p.Steps); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling steps: %w", jsonErr)
		}
	}
	if p.Steps == nil {
		p.Steps = []Step{}
	}

	if resultsJSON != "" && resultsJSON != "null" {
		if jsonErr := json.Unmarshal([]byte(resultsJSON), &p.Results); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling results: %w", jsonErr)
		}
	}
	if p.Results == nil {
		p.Results = []StepResult{}
	}

	return &p, nil
}

func scanTaskRow(scanner rowScanner) (*Task, error) {
	var t Task
	var message, processID, stepID sql.NullString
	var status string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&t.ID,
		&t.Ref,
		&t.Title,
		&message,
		&status,
		&t.CreatedBy,
		&processID,
		&stepID,
		&t.Rev,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = TaskStatus(status)
	if message.Valid {
		t.Message = message.String
	}
	if processID.Valid {
		t.ProcessID = processID.String
	}
	if stepID.Valid {
		t.StepID = stepID.String
	}

	return &t, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func nullableStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func validTaskStatus(status TaskStatus) bool {
	for _, s := range AllTaskStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
