// Package store persists saved workflows and the prompts submitted to
// ComfyUI in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentic-research/derivata/internal/workflow"
)

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	name TEXT PRIMARY KEY,
	body JSON NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS submissions (
	prompt_id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	workflow TEXT,
	body JSON NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_created ON submissions(created_at);
`

// Store is a SQLite-backed workflow library and submission log. It is
// safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and applies the schema.
// Use ":memory:" for a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveWorkflow inserts or replaces a named workflow.
func (s *Store) SaveWorkflow(ctx context.Context, name string, body []byte) error {
	if err := workflow.ValidateName(name); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (name, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, name, string(body), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", name, err)
	}
	return nil
}

// Load returns a saved workflow. It implements workflow.Loader.
func (s *Store) Load(ctx context.Context, name string) ([]byte, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM workflows WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", name, err)
	}
	return []byte(body), nil
}

// List returns saved workflow names in order. It implements workflow.Loader.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM workflows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// DeleteWorkflow removes a saved workflow. Deleting a missing name is not
// an error.
func (s *Store) DeleteWorkflow(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE name = ?`, name)
	return err
}

// Submission is one prompt queued on ComfyUI.
type Submission struct {
	PromptID  string
	ClientID  string
	Workflow  string
	Body      []byte
	CreatedAt time.Time
}

// RecordSubmission logs a queued prompt. A repeated prompt id replaces the
// earlier row.
func (s *Store) RecordSubmission(ctx context.Context, sub Submission) error {
	if sub.PromptID == "" {
		return errors.New("record submission: empty prompt id")
	}
	created := sub.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	var wf *string
	if sub.Workflow != "" {
		wf = &sub.Workflow
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO submissions (prompt_id, client_id, workflow, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sub.PromptID, sub.ClientID, wf, string(sub.Body), created.UnixNano())
	if err != nil {
		return fmt.Errorf("record submission %s: %w", sub.PromptID, err)
	}
	return nil
}

// Submissions returns the most recent submissions first. limit <= 0
// returns them all.
func (s *Store) Submissions(ctx context.Context, limit int) ([]Submission, error) {
	q := `SELECT prompt_id, client_id, workflow, body, created_at FROM submissions
		ORDER BY created_at DESC, prompt_id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Submission
	for rows.Next() {
		var (
			sub     Submission
			wf      sql.NullString
			body    string
			created int64
		)
		if err := rows.Scan(&sub.PromptID, &sub.ClientID, &wf, &body, &created); err != nil {
			return nil, err
		}
		sub.Workflow = wf.String
		sub.Body = []byte(body)
		sub.CreatedAt = time.Unix(0, created)
		out = append(out, sub)
	}
	return out, rows.Err()
}
