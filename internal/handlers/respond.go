package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"brokerdesk/internal/completion"
	"brokerdesk/internal/documents"
	"brokerdesk/internal/forms"
	"brokerdesk/internal/middleware"
	"brokerdesk/internal/moderation"
	"brokerdesk/internal/store"
	"brokerdesk/pkg/logging/logging"
)

const (
	UserHeader      = middleware.UserHeader
	ModeratorHeader = "X-Moderator-ID"
)

const generationUnavailable = "document generation is unavailable, try again later"

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// userID returns the acting user, writing a 401 when the header is missing.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(UserHeader))
	if id == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing "+UserHeader+" header")
		return "", false
	}
	return id, true
}

// writeServiceError maps domain errors to HTTP responses. Completion
// failures are logged with their detail and answered with a generic 503.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *forms.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_answers", Fields: verr.Fields})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "the resource is not in a state that allows this change")
	case errors.Is(err, documents.ErrNotSubmitted):
		writeError(w, http.StatusConflict, "not_submitted", "submit the questionnaire before generating documents")
	case errors.Is(err, documents.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, "unknown_kind", "kind must be teaser or term_sheet")
	case errors.Is(err, moderation.ErrReasonRequired),
		errors.Is(err, moderation.ErrModeratorRequired),
		errors.Is(err, moderation.ErrNotTeaser):
		writeError(w, http.StatusBadRequest, "invalid_decision", err.Error())
	case completion.KindOf(err) != 0, errors.Is(err, documents.ErrEmptyDocument):
		logging.L(r.Context()).Warn("generation unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "generation_unavailable", generationUnavailable)
	default:
		logging.L(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_server_error", "")
	}
}
