// Package store persists tasks, session logs, and settings in SQLite.
// The database is the recovery source of truth: after a crash the
// session manager replays live tasks from here.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/overseer-cli/overseer/internal/cliadapter"
	"github.com/overseer-cli/overseer/internal/settings"
	"github.com/overseer-cli/overseer/internal/task"
	"github.com/overseer-cli/overseer/internal/terminal"
)

// ErrNotFound is returned when a task id has no row.
var ErrNotFound = errors.New("task not found")

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	project_dir TEXT NOT NULL,
	doc_path TEXT NOT NULL,
	status TEXT NOT NULL,
	cli_type TEXT NOT NULL,
	review INTEGER NOT NULL DEFAULT 0,
	callback_url TEXT NOT NULL DEFAULT '',
	last_pid INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	handle_json TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS task_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	level TEXT NOT NULL DEFAULT 'info',
	message TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (task_id) REFERENCES tasks(id)
);
CREATE INDEX IF NOT EXISTS idx_task_logs_task ON task_logs(task_id, id);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const taskColumns = `id, title, project_dir, doc_path, status, cli_type, review,
	callback_url, last_pid, last_error, handle_json, created_at, updated_at, completed_at`

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path. Use ":memory:" for
// an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single writer connection sidesteps SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTask inserts or replaces the task row. The terminal handle rides
// along so recovery can re-attach to a window by pid.
func (s *Store) SaveTask(t *task.Task, h *terminal.Handle) error {
	var handleJSON string
	if h != nil {
		raw, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("encoding terminal handle: %w", err)
		}
		handleJSON = string(raw)
	}

	_, err := s.db.Exec(
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			project_dir = excluded.project_dir,
			doc_path = excluded.doc_path,
			status = excluded.status,
			cli_type = excluded.cli_type,
			review = excluded.review,
			callback_url = excluded.callback_url,
			last_pid = excluded.last_pid,
			last_error = excluded.last_error,
			handle_json = excluded.handle_json,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`,
		t.ID, t.Title, t.ProjectDir, t.DocPath, string(t.Status), string(t.CLIType),
		int(t.Review), t.CallbackURL, t.LastPID, t.LastError, handleJSON,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("saving task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads one task and its stored terminal handle.
func (s *Store) GetTask(id string) (*task.Task, *terminal.Handle, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, h, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading task %s: %w", id, err)
	}
	return t, h, nil
}

// ListTasks returns all tasks, newest first.
func (s *Store) ListTasks() ([]*task.Task, error) {
	rows, err := s.db.Query(`SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, _, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListLive returns tasks in a live status with their handles, oldest
// first, for startup recovery.
func (s *Store) ListLive() ([]*task.Task, []*terminal.Handle, error) {
	rows, err := s.db.Query(
		`SELECT `+taskColumns+` FROM tasks WHERE status IN (?, ?) ORDER BY created_at ASC`,
		string(task.StatusInProgress), string(task.StatusInReviewing),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("listing live tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	var handles []*terminal.Handle
	for rows.Next() {
		t, h, err := scanTask(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scanning live task: %w", err)
		}
		tasks = append(tasks, t)
		handles = append(handles, h)
	}
	return tasks, handles, rows.Err()
}

// DeleteTask removes a task and its logs.
func (s *Store) DeleteTask(id string) error {
	if _, err := s.db.Exec(`DELETE FROM task_logs WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("deleting task logs: %w", err)
	}
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// LogEntry is one line of a task's activity log.
type LogEntry struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendLog records a log line for a task.
func (s *Store) AppendLog(taskID, level, message string) error {
	_, err := s.db.Exec(
		`INSERT INTO task_logs (task_id, level, message, created_at) VALUES (?, ?, ?, ?)`,
		taskID, level, message, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending log for %s: %w", taskID, err)
	}
	return nil
}

// ListLogs returns up to limit most recent log lines for a task,
// oldest first.
func (s *Store) ListLogs(taskID string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, task_id, level, message, created_at FROM (
			SELECT id, task_id, level, message, created_at
			FROM task_logs WHERE task_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		taskID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing logs for %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Level, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Settings keys persisted in the settings table.
const (
	keyTerminal      = "terminal"
	keyDefaultCLI    = "default_cli"
	keyReviewEnabled = "review_enabled"
	keyReviewCLI     = "review_cli"
	keyMaxConcurrent = "max_concurrent_sessions"
	keyLanguage      = "language"
)

// SaveSettings persists the user-facing settings fields. Implements
// settings.Persister.
func (s *Store) SaveSettings(snap settings.Snapshot) error {
	pairs := map[string]string{
		keyTerminal:      string(snap.Terminal),
		keyDefaultCLI:    string(snap.DefaultCLI),
		keyReviewEnabled: strconv.FormatBool(snap.ReviewEnabled),
		keyReviewCLI:     string(snap.ReviewCLI),
		keyMaxConcurrent: strconv.Itoa(snap.MaxConcurrent),
		keyLanguage:      snap.Language,
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	for k, v := range pairs {
		if _, err := tx.Exec(
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("saving setting %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// LoadSettings reads persisted settings over the defaults. Unknown or
// malformed values keep their defaults.
func (s *Store) LoadSettings() (settings.Snapshot, error) {
	snap := settings.Defaults()

	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return snap, fmt.Errorf("loading settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return snap, fmt.Errorf("scanning setting: %w", err)
		}
		switch k {
		case keyTerminal:
			snap.Terminal = terminal.Kind(v)
		case keyDefaultCLI:
			snap.DefaultCLI = cliadapter.Kind(v)
		case keyReviewEnabled:
			if b, err := strconv.ParseBool(v); err == nil {
				snap.ReviewEnabled = b
			}
		case keyReviewCLI:
			snap.ReviewCLI = cliadapter.Kind(v)
		case keyMaxConcurrent:
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				snap.MaxConcurrent = n
			}
		case keyLanguage:
			snap.Language = v
		}
	}
	return snap, rows.Err()
}

func scanTask(scanner interface{ Scan(...any) error }) (*task.Task, *terminal.Handle, error) {
	var (
		t          task.Task
		status     string
		cliType    string
		review     int
		handleJSON string
	)
	err := scanner.Scan(
		&t.ID, &t.Title, &t.ProjectDir, &t.DocPath, &status, &cliType, &review,
		&t.CallbackURL, &t.LastPID, &t.LastError, &handleJSON,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, nil, err
	}
	t.Status = task.Status(status)
	t.CLIType = cliadapter.Kind(cliType)
	t.Review = task.ReviewMode(review)

	var h *terminal.Handle
	if handleJSON != "" {
		h = &terminal.Handle{}
		if err := json.Unmarshal([]byte(handleJSON), h); err != nil {
			return nil, nil, fmt.Errorf("decoding terminal handle: %w", err)
		}
	}
	return &t, h, nil
}
