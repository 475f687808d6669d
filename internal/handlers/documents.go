package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"brokerdesk/internal/documents"
	"brokerdesk/internal/preference"
	"brokerdesk/internal/store"
)

// DocumentHandler generates and serves teasers and term sheets.
type DocumentHandler struct {
	Documents   *documents.Service
	Preferences *preference.Store
}

func NewDocumentHandler(d *documents.Service, p *preference.Store) *DocumentHandler {
	return &DocumentHandler{Documents: d, Preferences: p}
}

// Generate handles POST /v1/submissions/{id}/documents/{kind}. The caller's
// provider preference is resolved here and passed down explicitly.
func (h *DocumentHandler) Generate(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	kind := store.DocumentKind(chi.URLParam(r, "kind"))
	provider := h.Preferences.Resolve(r.Context(), owner)

	doc, err := h.Documents.Generate(r.Context(), chi.URLParam(r, "id"), owner, kind, provider)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// List handles GET /v1/submissions/{id}/documents with an optional ?kind=.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	kind := store.DocumentKind(r.URL.Query().Get("kind"))

	docs, err := h.Documents.List(r.Context(), chi.URLParam(r, "id"), owner, kind)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*store.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// Latest handles GET /v1/submissions/{id}/documents/{kind}/latest.
func (h *DocumentHandler) Latest(w http.ResponseWriter, r *http.Request) {
	owner, ok := userID(w, r)
	if !ok {
		return
	}
	kind := store.DocumentKind(chi.URLParam(r, "kind"))

	doc, err := h.Documents.Latest(r.Context(), chi.URLParam(r, "id"), owner, kind)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Get handles GET /v1/documents/{id}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.visible(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// HTML handles GET /v1/documents/{id}/html and serves the sanitized body.
func (h *DocumentHandler) HTML(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.visible(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc.HTML))
}

// visible loads a document for the caller. Published teasers are public, so
// no identity header is required here.
func (h *DocumentHandler) visible(w http.ResponseWriter, r *http.Request) (*store.Document, bool) {
	viewer := strings.TrimSpace(r.Header.Get(UserHeader))
	moderator := strings.TrimSpace(r.Header.Get(ModeratorHeader)) != ""

	doc, err := h.Documents.Get(r.Context(), chi.URLParam(r, "id"), viewer, moderator)
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	return doc, true
}
