package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"brokerdesk/internal/moderation"
	"brokerdesk/internal/store"
)

// ModerationHandler exposes the teaser review queue and the public teaser
// listing.
type ModerationHandler struct {
	Moderation *moderation.Service
}

func NewModerationHandler(m *moderation.Service) *ModerationHandler {
	return &ModerationHandler{Moderation: m}
}

type decisionRequest struct {
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

// Queue handles GET /v1/moderation/queue.
func (h *ModerationHandler) Queue(w http.ResponseWriter, r *http.Request) {
	if _, ok := moderatorID(w, r); !ok {
		return
	}
	docs, err := h.Moderation.Queue(r.Context(), limitParam(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeDocuments(w, docs)
}

// Approve handles POST /v1/moderation/{id}/approve.
func (h *ModerationHandler) Approve(w http.ResponseWriter, r *http.Request) {
	mod, ok := moderatorID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}

	doc, err := h.Moderation.Approve(r.Context(), chi.URLParam(r, "id"), mod, req.Note)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Reject handles POST /v1/moderation/{id}/reject. A reason is required.
func (h *ModerationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	mod, ok := moderatorID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}

	doc, err := h.Moderation.Reject(r.Context(), chi.URLParam(r, "id"), mod, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Published handles GET /v1/teasers.
func (h *ModerationHandler) Published(w http.ResponseWriter, r *http.Request) {
	docs, err := h.Moderation.Published(r.Context(), limitParam(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeDocuments(w, docs)
}

func moderatorID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(ModeratorHeader))
	if id == "" {
		writeError(w, http.StatusForbidden, "forbidden", "missing "+ModeratorHeader+" header")
		return "", false
	}
	return id, true
}

// limitParam reads ?limit=, capped at 100.
func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > 100 {
		return 100
	}
	return n
}

func writeDocuments(w http.ResponseWriter, docs []*store.Document) {
	if docs == nil {
		docs = []*store.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}
