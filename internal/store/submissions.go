package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SubmissionStatus string

const (
	SubmissionDraft     SubmissionStatus = "draft"
	SubmissionSubmitted SubmissionStatus = "submitted"
)

type Submission struct {
	ID          string           `json:"id"`
	OwnerID     string           `json:"owner_id"`
	CompanyName string           `json:"company_name"`
	Status      SubmissionStatus `json:"status"`
	Data        map[string]any   `json:"data"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	SubmittedAt *time.Time       `json:"submitted_at,omitempty"`
}

const submissionColumns = `id, owner_id, company_name, status, data_json, created_at, updated_at, submitted_at`

// CreateSubmission stores a new draft.
func (s *Store) CreateSubmission(ctx context.Context, ownerID, companyName string, data map[string]any) (*Submission, error) {
	if data == nil {
		data = map[string]any{}
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("store: encode submission data: %w", err)
	}

	now := s.now()
	sub := &Submission{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		CompanyName: companyName,
		Status:      SubmissionDraft,
		Data:        data,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (`+submissionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		sub.ID, sub.OwnerID, sub.CompanyName, string(sub.Status), string(blob),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert submission: %w", err)
	}
	return sub, nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get submission: %w", err)
	}
	return sub, nil
}

// ListSubmissions returns the owner's submissions, most recently updated first.
func (s *Store) ListSubmissions(ctx context.Context, ownerID string) ([]*Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE owner_id = ? ORDER BY updated_at DESC, rowid DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: list submissions: %w", err)
	}
	defer rows.Close()

	var out []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan submission: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// UpdateDraft replaces the answers of a draft owned by ownerID.
func (s *Store) UpdateDraft(ctx context.Context, id, ownerID, companyName string, data map[string]any) (*Submission, error) {
	return s.writeSubmission(ctx, id, ownerID, companyName, data, SubmissionDraft)
}

// Submit stores the final answers and moves the draft to submitted.
func (s *Store) Submit(ctx context.Context, id, ownerID, companyName string, data map[string]any) (*Submission, error) {
	return s.writeSubmission(ctx, id, ownerID, companyName, data, SubmissionSubmitted)
}

func (s *Store) writeSubmission(
	ctx context.Context,
	id, ownerID, companyName string,
	data map[string]any,
	to SubmissionStatus,
) (*Submission, error) {
	if data == nil {
		data = map[string]any{}
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("store: encode submission data: %w", err)
	}

	now := formatTime(s.now())
	var submittedAt any
	if to == SubmissionSubmitted {
		submittedAt = now
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE submissions
		SET company_name = ?, data_json = ?, status = ?, updated_at = ?, submitted_at = ?
		WHERE id = ? AND owner_id = ? AND status = ?`,
		companyName, string(blob), string(to), now, submittedAt,
		id, ownerID, string(SubmissionDraft),
	)
	if err != nil {
		return nil, fmt.Errorf("store: update submission: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("store: update submission: %w", err)
	} else if n == 0 {
		existing, err := s.GetSubmission(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing.OwnerID != ownerID {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	return s.GetSubmission(ctx, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (*Submission, error) {
	var (
		sub                  Submission
		status, blob         string
		createdAt, updatedAt string
		submittedAt          sql.NullString
	)
	if err := row.Scan(&sub.ID, &sub.OwnerID, &sub.CompanyName, &status, &blob,
		&createdAt, &updatedAt, &submittedAt); err != nil {
		return nil, err
	}
	sub.Status = SubmissionStatus(status)

	if err := json.Unmarshal([]byte(blob), &sub.Data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}

	var err error
	if sub.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sub.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if sub.SubmittedAt, err = parseNullTime(submittedAt); err != nil {
		return nil, err
	}
	return &sub, nil
}
