// Package moderation reviews generated teasers before they are published.
//
// A teaser moves from pending_review to published or rejected exactly once.
// Each decision is a single conditional update, so two moderators acting on
// the same teaser cannot both win.
package moderation

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"brokerdesk/internal/metrics"
	"brokerdesk/internal/store"
	"brokerdesk/pkg/logging/logging"
)

var (
	ErrModeratorRequired = errors.New("moderation: moderator id is required")
	ErrReasonRequired    = errors.New("moderation: a rejection reason is required")
	ErrNotTeaser         = errors.New("moderation: only teasers are moderated")
)

const maxNoteLen = 2000

type Repository interface {
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	ListByStatus(ctx context.Context, kind store.DocumentKind, status store.DocumentStatus, oldestFirst bool, limit int) ([]*store.Document, error)
	Transition(ctx context.Context, id string, from, to store.DocumentStatus, moderatorID, note string) (*store.Document, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Approve publishes a pending teaser. note is optional.
func (s *Service) Approve(ctx context.Context, id, moderatorID, note string) (*store.Document, error) {
	return s.decide(ctx, id, moderatorID, note, store.StatusPublished)
}

// Reject closes a pending teaser. The reason is kept on the document.
func (s *Service) Reject(ctx context.Context, id, moderatorID, reason string) (*store.Document, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonRequired
	}
	return s.decide(ctx, id, moderatorID, reason, store.StatusRejected)
}

func (s *Service) decide(ctx context.Context, id, moderatorID, note string, to store.DocumentStatus) (*store.Document, error) {
	moderatorID = strings.TrimSpace(moderatorID)
	if moderatorID == "" {
		return nil, ErrModeratorRequired
	}
	note = strings.TrimSpace(note)
	note = truncateNote(note, maxNoteLen)

	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Kind != store.KindTeaser {
		return nil, ErrNotTeaser
	}

	doc, err = s.repo.Transition(ctx, id, store.StatusPendingReview, to, moderatorID, note)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			metrics.ModerationDecisionsTotal.WithLabelValues("conflict").Inc()
		}
		return nil, err
	}

	metrics.ModerationDecisionsTotal.WithLabelValues(string(to)).Inc()
	logging.L(ctx).Info("teaser moderated",
		zap.String("document_id", id),
		zap.String("moderator_id", moderatorID),
		zap.String("decision", string(to)),
	)
	return doc, nil
}

// Queue lists teasers waiting for review, oldest first.
func (s *Service) Queue(ctx context.Context, limit int) ([]*store.Document, error) {
	return s.repo.ListByStatus(ctx, store.KindTeaser, store.StatusPendingReview, true, limit)
}

// Published lists published teasers, newest first.
func (s *Service) Published(ctx context.Context, limit int) ([]*store.Document, error) {
	return s.repo.ListByStatus(ctx, store.KindTeaser, store.StatusPublished, false, limit)
}

// truncateNote cuts s to at most n bytes without splitting a rune.
func truncateNote(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
