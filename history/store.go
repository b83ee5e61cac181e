// Package history persists completed agent runs to a local SQLite
// database so past conversations can be listed and inspected.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/taskpilot-ai/taskpilot/llm"
)

// Run is one completed agent run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Input      string
	Output     string
	Steps      int
	Status     string
}

// Run status values.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusExhausted = "exhausted"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	input       TEXT NOT NULL,
	output      TEXT NOT NULL,
	steps       INTEGER NOT NULL,
	status      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	thinking     TEXT NOT NULL DEFAULT '',
	tool_calls   TEXT NOT NULL DEFAULT '',
	tool_call_id TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, position)
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
`

// Store is a SQLite-backed run log. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure history database: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveRun records a run and its full message transcript atomically.
func (s *Store) SaveRun(ctx context.Context, run Run, msgs []llm.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, input, output, steps, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
		run.Input, run.Output, run.Steps, run.Status)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (run_id, position, role, content, thinking, tool_calls, tool_call_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer stmt.Close()
	for i, m := range msgs {
		calls, err := encodeToolCalls(m.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls of message %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, run.ID, i, string(m.Role), m.Content, m.Thinking, calls, m.ToolCallID); err != nil {
			return fmt.Errorf("insert message %d of run %s: %w", i, run.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, input, output, steps, status
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &started, &finished, &r.Input, &r.Output, &r.Steps, &r.Status); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun loads one run and its transcript. sql.ErrNoRows is returned
// when the id is unknown.
func (s *Store) GetRun(ctx context.Context, id string) (Run, []llm.Message, error) {
	var r Run
	var started, finished int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, input, output, steps, status
		 FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &started, &finished, &r.Input, &r.Output, &r.Steps, &r.Status)
	if err != nil {
		return Run{}, nil, fmt.Errorf("load run %s: %w", id, err)
	}
	r.StartedAt = time.UnixMilli(started)
	r.FinishedAt = time.UnixMilli(finished)

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, thinking, tool_calls, tool_call_id FROM messages
		 WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return Run{}, nil, fmt.Errorf("load messages of run %s: %w", id, err)
	}
	defer rows.Close()

	var msgs []llm.Message
	for rows.Next() {
		var role, calls string
		var m llm.Message
		if err := rows.Scan(&role, &m.Content, &m.Thinking, &calls, &m.ToolCallID); err != nil {
			return Run{}, nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = llm.Role(role)
		if m.ToolCalls, err = decodeToolCalls(calls); err != nil {
			return Run{}, nil, fmt.Errorf("decode tool calls: %w", err)
		}
		msgs = append(msgs, m)
	}
	return r, msgs, rows.Err()
}

// encodeToolCalls stores tool calls as a JSON column; the empty string
// stands for none.
func encodeToolCalls(calls []llm.ToolCall) (string, error) {
	if len(calls) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(calls)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeToolCalls(raw string) ([]llm.ToolCall, error) {
	if raw == "" {
		return nil, nil
	}
	var calls []llm.ToolCall
	if err := json.Unmarshal([]byte(raw), &calls); err != nil {
		return nil, err
	}
	return calls, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
