// Package links persists the mapping from Todoist tasks to Beeminder goals.
// A linked task posts a datapoint to its goal when completed.
package links

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a task has no goal link.
var ErrNotFound = errors.New("task link not found")

// Store is a SQLite-backed task link store.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the SQLite database at path and ensures
// the required table exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS task_links (
  task_id    TEXT PRIMARY KEY,
  goal_slug  TEXT NOT NULL,
  created_at TEXT NOT NULL
);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Set links taskID to goalSlug, replacing any existing link.
func (s *Store) Set(ctx context.Context, taskID, goalSlug string) error {
	if taskID == "" {
		return fmt.Errorf("task_id is empty")
	}
	if goalSlug == "" {
		return fmt.Errorf("goal_slug is empty")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO task_links(task_id, goal_slug, created_at)
VALUES(?, ?, ?)
ON CONFLICT(task_id) DO UPDATE SET goal_slug = excluded.goal_slug;
`, taskID, goalSlug, now)
	if err != nil {
		return fmt.Errorf("set task link: %w", err)
	}
	return nil
}

// Get returns the goal slug linked to taskID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, taskID string) (string, error) {
	var slug string
	err := s.db.QueryRowContext(ctx,
		"SELECT goal_slug FROM task_links WHERE task_id = ?;", taskID).Scan(&slug)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read task link: %w", err)
	}
	return slug, nil
}

// Delete removes the link for taskID. Deleting an absent link is not an
// error.
func (s *Store) Delete(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM task_links WHERE task_id = ?;", taskID)
	if err != nil {
		return fmt.Errorf("delete task link: %w", err)
	}
	return nil
}
