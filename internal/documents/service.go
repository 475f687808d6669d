// Package documents generates teasers and term sheets from submitted
// questionnaires and keeps the results.
package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"brokerdesk/internal/completion"
	"brokerdesk/internal/forms"
	"brokerdesk/internal/metrics"
	"brokerdesk/internal/store"
	"brokerdesk/pkg/logging/logging"
)

var (
	ErrUnknownKind   = errors.New("documents: unknown document kind")
	ErrNotSubmitted  = errors.New("documents: submission has not been submitted")
	ErrEmptyDocument = errors.New("documents: generated text is empty")
)

// Repository is the part of the store the service needs.
type Repository interface {
	GetSubmission(ctx context.Context, id string) (*store.Submission, error)
	CreateDocument(ctx context.Context, d *store.Document) error
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	ListDocuments(ctx context.Context, submissionID string) ([]*store.Document, error)
}

type Service struct {
	repo          Repository
	completer     completion.Completer
	questionnaire *forms.Questionnaire
	maxRetries    int
}

func NewService(repo Repository, completer completion.Completer, q *forms.Questionnaire, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{
		repo:          repo,
		completer:     completer,
		questionnaire: q,
		maxRetries:    maxRetries,
	}
}

// Generate produces a document of kind for a submitted submission owned by
// ownerID using the given provider. Teasers start pending review; term
// sheets are final immediately.
func (s *Service) Generate(
	ctx context.Context,
	submissionID, ownerID string,
	kind store.DocumentKind,
	provider completion.Provider,
) (*store.Document, error) {
	logger := logging.L(ctx)

	if !kind.Valid() {
		return nil, ErrUnknownKind
	}

	sub, err := s.ownedSubmission(ctx, submissionID, ownerID)
	if err != nil {
		return nil, err
	}
	if sub.Status != store.SubmissionSubmitted {
		return nil, ErrNotSubmitted
	}

	start := time.Now()
	req := BuildRequest(s.questionnaire, kind, forms.Data(sub.Data))
	res, err := s.completer.Complete(ctx, req, provider, s.maxRetries)
	if err != nil {
		metrics.DocumentsGeneratedTotal.WithLabelValues(string(kind), "failed").Inc()
		logger.Warn("document generation failed",
			zap.String("submission_id", submissionID),
			zap.String("kind", string(kind)),
			zap.String("provider", string(provider)),
			zap.String("error_kind", completion.KindOf(err).String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("documents: generate %s: %w", kind, err)
	}

	sections := Process(res.Text)
	if len(sections) == 0 {
		metrics.DocumentsGeneratedTotal.WithLabelValues(string(kind), "empty").Inc()
		return nil, ErrEmptyDocument
	}

	doc := &store.Document{
		SubmissionID:     sub.ID,
		Kind:             kind,
		Status:           initialStatus(kind),
		Provider:         string(res.Provider),
		Model:            res.Model,
		FallbackUsed:     res.FallbackUsed,
		OriginalProvider: string(res.OriginalProvider),
		RawText:          res.Text,
		HTML:             RenderHTML(sections),
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		metrics.DocumentsGeneratedTotal.WithLabelValues(string(kind), "failed").Inc()
		return nil, err
	}

	metrics.DocumentsGeneratedTotal.WithLabelValues(string(kind), "ok").Inc()
	logger.Info("document generated",
		zap.String("document_id", doc.ID),
		zap.String("submission_id", sub.ID),
		zap.String("kind", string(kind)),
		zap.String("provider", doc.Provider),
		zap.Bool("fallback_used", doc.FallbackUsed),
		zap.Int("attempts", res.Attempts),
		zap.Int("sections", len(sections)),
		zap.Duration("latency", time.Since(start)),
	)
	return doc, nil
}

func initialStatus(kind store.DocumentKind) store.DocumentStatus {
	if kind == store.KindTeaser {
		return store.StatusPendingReview
	}
	return store.StatusFinal
}

// Get returns a document to a viewer. Owners see all documents of their
// submissions, moderators see everything and anyone else only published
// teasers. Documents the viewer may not see are reported as not found.
func (s *Service) Get(ctx context.Context, id, viewerID string, moderator bool) (*store.Document, error) {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if moderator || (doc.Kind == store.KindTeaser && doc.Status == store.StatusPublished) {
		return doc, nil
	}
	if _, err := s.ownedSubmission(ctx, doc.SubmissionID, viewerID); err != nil {
		return nil, err
	}
	return doc, nil
}

// List returns the documents of an owned submission, newest first. An empty
// kind lists every kind.
func (s *Service) List(ctx context.Context, submissionID, ownerID string, kind store.DocumentKind) ([]*store.Document, error) {
	if kind != "" && !kind.Valid() {
		return nil, ErrUnknownKind
	}
	if _, err := s.ownedSubmission(ctx, submissionID, ownerID); err != nil {
		return nil, err
	}
	docs, err := s.repo.ListDocuments(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return docs, nil
	}
	out := docs[:0]
	for _, d := range docs {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out, nil
}

// Latest returns the newest document of kind for an owned submission.
func (s *Service) Latest(ctx context.Context, submissionID, ownerID string, kind store.DocumentKind) (*store.Document, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	docs, err := s.List(ctx, submissionID, ownerID, kind)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return docs[0], nil
}

func (s *Service) ownedSubmission(ctx context.Context, id, ownerID string) (*store.Submission, error) {
	sub, err := s.repo.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if ownerID == "" || sub.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return sub, nil
}
