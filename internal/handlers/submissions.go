package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"brokerdesk/internal/forms"
	"brokerdesk/internal/store"
	"brokerdesk/pkg/logging/logging"
)

// SubmissionStore is implemented by *store.Store.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, ownerID, companyName string, data map[string]any) (*store.Submission, error)
	GetSubmission(ctx context.Context, id string) (*store.Submission, error)
	ListSubmissions(ctx context.Context, ownerID string) ([]*store.Submission, error)
	UpdateDraft(ctx context.Context, id, ownerID, companyName string, data map[string]any) (*store.Submission, error)
	Submit(ctx context.Context, id, ownerID, companyName string, data map[string]any) (*store.Submission, error)
}

// SubmissionHandler serves the seller questionnaire and its answers.
type SubmissionHandler struct {
	Store         SubmissionStore
	Questionnaire *forms.Questionnaire
}

func NewSubmissionHandler(s SubmissionStore, q *forms.Questionnaire) *SubmissionHandler {
	return &SubmissionHandler{Store: s, Questionnaire: q}
}

type submissionRequest struct {
	Data forms.Data `json:"data"`
}

// GetQuestionnaire handles GET /v1/questionnaire.
func (h *SubmissionHandler) GetQuestionnaire(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Questionnaire)
}

// Create handles POST /v1/submissions. Drafts may be incomplete but every
// answer given must have the right shape.
func (h *SubmissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}

	var req submissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}

	data := h.Questionnaire.Clean(req.Data)
	if err := h.Questionnaire.Validate(data, false); err != nil {
		writeServiceError(w, r, err)
		return
	}

	sub, err := h.Store.CreateSubmission(r.Context(), owner, data.Text("company_name"), data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	logging.L(r.Context()).Info("submission created", zap.String("submission_id", sub.ID))
	writeJSON(w, http.StatusCreated, sub)
}

// List handles GET /v1/submissions.
func (h *SubmissionHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	subs, err := h.Store.ListSubmissions(r.Context(), owner)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if subs == nil {
		subs = []*store.Submission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}

// Get handles GET /v1/submissions/{id}. Other owners' submissions are
// reported as missing.
func (h *SubmissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	sub, err := h.Store.GetSubmission(r.Context(), chi.URLParam(r, "id"))
	if err == nil && sub.OwnerID != owner {
		err = store.ErrNotFound
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// Update handles PUT /v1/submissions/{id}. The answers replace the stored
// ones entirely.
func (h *SubmissionHandler) Update(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}

	var req submissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}

	data := h.Questionnaire.Clean(req.Data)
	if err := h.Questionnaire.Validate(data, false); err != nil {
		writeServiceError(w, r, err)
		return
	}

	sub, err := h.Store.UpdateDraft(r.Context(), chi.URLParam(r, "id"), owner, data.Text("company_name"), data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// Submit handles POST /v1/submissions/{id}/submit. A body with data replaces
// the draft answers first; without one the stored draft is submitted. All
// visible required fields must be answered.
func (h *SubmissionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var req submissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}

	data := req.Data
	if data == nil {
		existing, err := h.Store.GetSubmission(r.Context(), id)
		if err == nil && existing.OwnerID != owner {
			err = store.ErrNotFound
		}
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		data = existing.Data
	}

	data = h.Questionnaire.Clean(data)
	if err := h.Questionnaire.Validate(data, true); err != nil {
		writeServiceError(w, r, err)
		return
	}

	sub, err := h.Store.Submit(r.Context(), id, owner, data.Text("company_name"), data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	logging.L(r.Context()).Info("submission submitted", zap.String("submission_id", sub.ID))
	writeJSON(w, http.StatusOK, sub)
}
