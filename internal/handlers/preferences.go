package handlers

import (
	"net/http"

	"brokerdesk/internal/completion"
	"brokerdesk/internal/preference"
)

// PreferenceHandler reads and sets the caller's completion provider.
type PreferenceHandler struct {
	Preferences *preference.Store
}

func NewPreferenceHandler(p *preference.Store) *PreferenceHandler {
	return &PreferenceHandler{Preferences: p}
}

type providerBody struct {
	Provider string `json:"provider"`
}

// Get handles GET /v1/preferences/provider.
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	p := h.Preferences.Resolve(r.Context(), user)
	writeJSON(w, http.StatusOK, providerBody{Provider: string(p)})
}

// Put handles PUT /v1/preferences/provider.
func (h *PreferenceHandler) Put(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	var body providerBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}
	p, err := completion.ParseProvider(body.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_provider", "provider must be openai or deepseek")
		return
	}

	if err := h.Preferences.Set(r.Context(), user, p); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, providerBody{Provider: string(p)})
}

// Delete handles DELETE /v1/preferences/provider; the default applies again.
func (h *PreferenceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	if err := h.Preferences.Clear(r.Context(), user); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, providerBody{Provider: string(h.Preferences.Default())})
}
