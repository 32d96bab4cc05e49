package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/ndc-agent/agent/internal/verifier"
)

// SQLiteStore persists verifier.Task and gold-memory entries in a single
// SQLite database. It implements verifier.TaskStorage so the verifier
// package never has to import this one.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (and, on first use, migrates) the database at path.
// WAL mode is enabled so readers never block the single writer used by the
// conversation runner.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers per-connection anyway

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'Pending',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			quality_gate TEXT,
			steps TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content_type TEXT NOT NULL,
			text TEXT NOT NULL,
			source_task TEXT,
			tags TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

// SaveTask upserts a task, overwriting any prior row with the same id.
func (s *SQLiteStore) SaveTask(ctx context.Context, task *verifier.Task) error {
	steps, err := json.Marshal(task.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, state, created_at, updated_at, quality_gate, steps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			state = excluded.state,
			updated_at = excluded.updated_at,
			quality_gate = excluded.quality_gate,
			steps = excluded.steps
	`,
		task.ID, task.Title, task.Description, string(task.State),
		task.CreatedAt.Format(time.RFC3339Nano), task.UpdatedAt.Format(time.RFC3339Nano),
		string(task.QualityGate), string(steps),
	)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// GetTask returns the task with the given id, or (nil, nil) if absent.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*verifier.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, state, created_at, updated_at, quality_gate, steps
		FROM tasks WHERE id = ?
	`, id)

	var (
		task                       verifier.Task
		state                      string
		createdAt, updatedAt       string
		qualityGate                sql.NullString
		stepsJSON                  string
	)
	if err := row.Scan(&task.ID, &task.Title, &task.Description, &state, &createdAt, &updatedAt, &qualityGate, &stepsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	task.State = verifier.TaskState(state)
	if qualityGate.Valid {
		task.QualityGate = verifier.QualityGate(qualityGate.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		task.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		task.UpdatedAt = t
	}
	if err := json.Unmarshal([]byte(stepsJSON), &task.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}

	return &task, nil
}

// ListTasks returns every task, most recently created first.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*verifier.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, state, created_at, updated_at, quality_gate, steps
		FROM tasks ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*verifier.Task
	for rows.Next() {
		var (
			task                 verifier.Task
			state                string
			createdAt, updatedAt string
			qualityGate          sql.NullString
			stepsJSON            string
		)
		if err := rows.Scan(&task.ID, &task.Title, &task.Description, &state, &createdAt, &updatedAt, &qualityGate, &stepsJSON); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		task.State = verifier.TaskState(state)
		if qualityGate.Valid {
			task.QualityGate = verifier.QualityGate(qualityGate.String)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			task.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			task.UpdatedAt = t
		}
		if err := json.Unmarshal([]byte(stepsJSON), &task.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

// SaveMemory upserts a gold-memory (or any other content-addressed) entry.
func (s *SQLiteStore) SaveMemory(ctx context.Context, entry *verifier.MemoryEntry) error {
	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = entry.UpdatedAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, content_type, text, source_task, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content_type = excluded.content_type,
			text = excluded.text,
			source_task = excluded.source_task,
			tags = excluded.tags,
			updated_at = excluded.updated_at
	`,
		entry.ID, entry.ContentType, entry.Text, entry.SourceTask, string(tags),
		createdAt.Format(time.RFC3339Nano), entry.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

// GetMemory returns the memory entry with the given id, or (nil, nil) if
// absent.
func (s *SQLiteStore) GetMemory(ctx context.Context, id string) (*verifier.MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content_type, text, source_task, tags, created_at, updated_at
		FROM memories WHERE id = ?
	`, id)

	var (
		entry                verifier.MemoryEntry
		sourceTask           sql.NullString
		tagsJSON             string
		createdAt, updatedAt string
	)
	if err := row.Scan(&entry.ID, &entry.ContentType, &entry.Text, &sourceTask, &tagsJSON, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get memory: %w", err)
	}

	entry.SourceTask = sourceTask.String
	if err := json.Unmarshal([]byte(tagsJSON), &entry.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		entry.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		entry.UpdatedAt = t
	}

	return &entry, nil
}

var _ verifier.TaskStorage = (*SQLiteStore)(nil)
