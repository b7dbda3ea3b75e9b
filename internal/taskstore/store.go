package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mifrun/task-runner/internal/domain"
)

// Store provides SQLite-backed task persistence. Tasks and epics share one
// table, distinguished by kind, the way a single remote database holds both.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

const taskColumns = `id, title, status, action, payload, priority, attempts, max_attempts, depends_on, logs, logs_plain, epic_id, updated_at`

// QueryReady returns Ready tasks with attempts left, ordered by priority,
// then last modification
func (s *Store) QueryReady(ctx context.Context, limit int) ([]*domain.Task, error) {
	return s.ListTasks(ctx, ListOptions{Status: domain.StatusReady, Runnable: true, Limit: limit})
}

// QueryReadyEpics returns Ready epics ordered by priority, then last modification
func (s *Store) QueryReadyEpics(ctx context.Context, limit int) ([]*domain.Epic, error) {
	query := `SELECT id, title, description, status, logs, updated_at FROM tasks
		WHERE kind = ? AND status = ? ORDER BY priority, updated_at`
	args := []interface{}{string(domain.KindEpic), string(domain.StatusReady)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var epics []*domain.Epic
	for rows.Next() {
		var e domain.Epic
		var status string
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &status, &e.Logs, &e.LastModified); err != nil {
			return nil, err
		}
		e.Status = domain.Status(status)
		epics = append(epics, &e)
	}
	return epics, rows.Err()
}

// GetTask retrieves a task by ID
func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return task, err
}

// ListOptions specifies filters for listing tasks
type ListOptions struct {
	Status domain.Status
	EpicID string
	// Runnable drops tasks that have used up their attempts
	Runnable bool
	Limit    int
}

// ListTasks returns task records matching the given options
func (s *Store) ListTasks(ctx context.Context, opts ListOptions) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE kind = ?`
	args := []interface{}{string(domain.KindTask)}

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.EpicID != "" {
		query += " AND epic_id = ?"
		args = append(args, opts.EpicID)
	}
	if opts.Runnable {
		query += " AND attempts < (CASE WHEN max_attempts > 0 THEN max_attempts ELSE ? END)"
		args = append(args, domain.DefaultMaxAttempts)
	}

	query += " ORDER BY priority, updated_at"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// UpdateStatus updates a record's status; non-empty logs are written to both
// log columns and appended to task_logs.
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.Status, logs string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now()
	snippet := domain.Truncate(logs, domain.MaxLogLen)

	var res sql.Result
	if snippet == "" {
		res, err = tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), now, id)
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE tasks SET status = ?, logs = ?, logs_plain = ?, updated_at = ? WHERE id = ?`,
			string(status), snippet, snippet, now, id)
	}
	if err != nil {
		return err
	}
	if err := checkAffected(res, id); err != nil {
		return err
	}

	if snippet != "" {
		_, err = tx.ExecContext(ctx, `INSERT INTO task_logs (task_id, timestamp, status, message) VALUES (?, ?, ?, ?)`,
			id, now, string(status), snippet)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// IncrementAttempts stores current+1 as the attempt counter
func (s *Store) IncrementAttempts(ctx context.Context, id string, current int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET attempts = ? WHERE id = ?`, current+1, id)
	if err != nil {
		return err
	}
	return checkAffected(res, id)
}

// CreateTask inserts a new task record, Draft unless stated otherwise
func (s *Store) CreateTask(ctx context.Context, t domain.NewTask) (string, error) {
	t = t.Normalize()
	depsJSON, err := json.Marshal(t.DependsOn)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := s.now()
	var epicID interface{}
	if t.EpicID != "" {
		epicID = t.EpicID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, kind, title, status, action, payload, priority, attempts, max_attempts, depends_on, epic_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)
	`,
		id,
		string(domain.KindTask),
		t.Title,
		string(t.Status),
		string(t.Action),
		t.Payload,
		t.Priority,
		t.MaxAttempts,
		string(depsJSON),
		epicID,
		now,
		now,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// CreateEpic inserts a new epic record in Ready state
func (s *Store) CreateEpic(ctx context.Context, title, description string) (string, error) {
	id := uuid.NewString()
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, kind, title, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, string(domain.KindEpic), domain.Truncate(title, domain.MaxTitleLen), description, string(domain.StatusReady), now, now)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetEpic retrieves an epic by ID
func (s *Store) GetEpic(ctx context.Context, id string) (*domain.Epic, error) {
	var e domain.Epic
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT id, title, description, status, logs, updated_at FROM tasks WHERE id = ? AND kind = ?`,
		id, string(domain.KindEpic)).Scan(&e.ID, &e.Title, &e.Description, &status, &e.Logs, &e.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("epic %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	e.Status = domain.Status(status)
	return &e, nil
}

// LogEntry is one appended log record
type LogEntry struct {
	ID        int
	TaskID    string
	Timestamp time.Time
	Status    domain.Status
	Message   string
}

// Logs returns the appended log history of a record, oldest first
func (s *Store) Logs(ctx context.Context, id string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_id, timestamp, status, message FROM task_logs WHERE task_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var status string
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Timestamp, &status, &e.Message); err != nil {
			return nil, err
		}
		e.Status = domain.Status(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (*domain.Task, error) {
	var task domain.Task
	var status, action string
	var depsJSON, epicID sql.NullString

	err := row.Scan(&task.ID, &task.Title, &status, &action, &task.Payload, &task.Priority,
		&task.Attempts, &task.MaxAttempts, &depsJSON, &task.Logs, &task.LogsPlain, &epicID, &task.LastModified)
	if err != nil {
		return nil, err
	}

	task.Status = domain.Status(status)
	task.Action = domain.Action(action)
	if epicID.Valid {
		task.EpicID = epicID.String
	}

	if depsJSON.Valid && depsJSON.String != "" && depsJSON.String != "null" {
		if err := json.Unmarshal([]byte(depsJSON.String), &task.DependsOn); err != nil {
			return nil, fmt.Errorf("task %s depends_on: %w", task.ID, err)
		}
	}

	return &task, nil
}
var _ Gateway = (*Store)(nil)
