// Package store persists submissions and generated documents in SQLite.
// Form answers and documents are kept as blobs; the schema does not know the
// questionnaire.
package store

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

var (
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a row exists but is not in the state the
	// update expects.
	ErrConflict = errors.New("store: conflicting state")
)

// fixed width so lexical order is chronological
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
		dsn = "file:" + path
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		company_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		data_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		submitted_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_owner ON submissions(owner_id);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		submission_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		fallback_used INTEGER NOT NULL DEFAULT 0,
		original_provider TEXT NOT NULL DEFAULT '',
		raw_text TEXT NOT NULL,
		html TEXT NOT NULL,
		moderator_id TEXT NOT NULL DEFAULT '',
		moderator_note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		reviewed_at TEXT,
		FOREIGN KEY (submission_id) REFERENCES submissions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_documents_submission ON documents(submission_id, kind);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(kind, status);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// rowState tells ErrNotFound and ErrConflict apart after a conditional
// update touched no rows.
func (s *Store) rowState(ctx context.Context, table, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: lookup %s: %w", table, err)
	}
	return ErrConflict
}
