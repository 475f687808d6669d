package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type DocumentKind string

const (
	KindTeaser    DocumentKind = "teaser"
	KindTermSheet DocumentKind = "term_sheet"
)

func (k DocumentKind) Valid() bool {
	return k == KindTeaser || k == KindTermSheet
}

type DocumentStatus string

const (
	// teasers wait for a moderator
	StatusPendingReview DocumentStatus = "pending_review"
	StatusPublished     DocumentStatus = "published"
	StatusRejected      DocumentStatus = "rejected"
	// term sheets are never moderated
	StatusFinal DocumentStatus = "final"
)

type Document struct {
	ID               string         `json:"id"`
	SubmissionID     string         `json:"submission_id"`
	Kind             DocumentKind   `json:"kind"`
	Status           DocumentStatus `json:"status"`
	Provider         string         `json:"provider"`
	Model            string         `json:"model"`
	FallbackUsed     bool           `json:"fallback_used"`
	OriginalProvider string         `json:"original_provider,omitempty"`
	RawText          string         `json:"raw_text"`
	HTML             string         `json:"html"`
	ModeratorID      string         `json:"moderator_id,omitempty"`
	ModeratorNote    string         `json:"moderator_note,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	ReviewedAt       *time.Time     `json:"reviewed_at,omitempty"`
}

const documentColumns = `id, submission_id, kind, status, provider, model, fallback_used,
	original_provider, raw_text, html, moderator_id, moderator_note, created_at, updated_at, reviewed_at`

// CreateDocument assigns an id and timestamps and inserts d.
func (s *Store) CreateDocument(ctx context.Context, d *Document) error {
	if !d.Kind.Valid() {
		return fmt.Errorf("store: invalid document kind %q", d.Kind)
	}
	now := s.now()
	d.ID = uuid.NewString()
	d.CreatedAt = now
	d.UpdatedAt = now

	fallback := 0
	if d.FallbackUsed {
		fallback = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		d.ID, d.SubmissionID, string(d.Kind), string(d.Status), d.Provider, d.Model, fallback,
		d.OriginalProvider, d.RawText, d.HTML, d.ModeratorID, d.ModeratorNote,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("store: insert document: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get document: %w", err)
	}
	return d, nil
}

// ListDocuments returns every document of a submission, newest first.
func (s *Store) ListDocuments(ctx context.Context, submissionID string) ([]*Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE submission_id = ? ORDER BY created_at DESC, rowid DESC`,
		submissionID)
}

// ListByStatus returns documents of kind in status. oldestFirst suits work
// queues, newest first suits public listings.
func (s *Store) ListByStatus(ctx context.Context, kind DocumentKind, status DocumentStatus, oldestFirst bool, limit int) ([]*Document, error) {
	order := "DESC"
	if oldestFirst {
		order = "ASC"
	}
	if limit <= 0 {
		limit = 100
	}
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE kind = ? AND status = ?
		 ORDER BY created_at `+order+`, rowid `+order+` LIMIT ?`,
		string(kind), string(status), limit)
}

// Transition moves a document from one status to another in a single
// conditional update and records who did it. A document that exists but is
// not in from yields ErrConflict.
func (s *Store) Transition(
	ctx context.Context,
	id string,
	from, to DocumentStatus,
	moderatorID, note string,
) (*Document, error) {
	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, moderator_id = ?, moderator_note = ?, updated_at = ?, reviewed_at = ?
		WHERE id = ? AND status = ?`,
		string(to), moderatorID, note, now, now, id, string(from),
	)
	if err != nil {
		return nil, fmt.Errorf("store: transition document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: transition document: %w", err)
	}
	if n == 0 {
		return nil, s.rowState(ctx, "documents", id)
	}
	return s.GetDocument(ctx, id)
}

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDocument(row scanner) (*Document, error) {
	var (
		d                    Document
		kind, status         string
		fallback             int
		createdAt, updatedAt string
		reviewedAt           sql.NullString
	)
	if err := row.Scan(&d.ID, &d.SubmissionID, &kind, &status, &d.Provider, &d.Model, &fallback,
		&d.OriginalProvider, &d.RawText, &d.HTML, &d.ModeratorID, &d.ModeratorNote,
		&createdAt, &updatedAt, &reviewedAt); err != nil {
		return nil, err
	}
	d.Kind = DocumentKind(kind)
	d.Status = DocumentStatus(status)
	d.FallbackUsed = fallback != 0

	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if d.ReviewedAt, err = parseNullTime(reviewedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
