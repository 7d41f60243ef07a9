package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/praxisllmlab/copydesk/internal/model"
)

// GetConfig handles GET /v1/config: the config the caller's next batch will use.
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session(r).Config())
}

// PutConfig handles PUT /v1/config. A running batch keeps its own config.
func (h *Handlers) PutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg model.GenerationConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}
	s := h.session(r)
	if err := s.SetConfig(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}
	writeJSON(w, http.StatusOK, s.Config())
}

type languagesBody struct {
	Languages []string `json:"languages"`
}

// GetLanguages handles GET /v1/config/languages.
func (h *Handlers) GetLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, languagesBody{Languages: h.session(r).Config().Languages()})
}

// PutLanguages handles PUT /v1/config/languages, replacing the whole set.
func (h *Handlers) PutLanguages(w http.ResponseWriter, r *http.Request) {
	var body languagesBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}
	s := h.session(r)
	cur := s.Config()
	cfg, err := model.NewGenerationConfig(cur.ContentType, cur.Style, body.Languages)
	if err == nil {
		err = s.SetConfig(cfg)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}
	writeJSON(w, http.StatusOK, languagesBody{Languages: s.Config().Languages()})
}

// ToggleLanguage handles POST /v1/config/languages/{code}/toggle.
func (h *Handlers) ToggleLanguage(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "language code is required", "invalid_request_error")
		return
	}
	s := h.session(r)
	if !s.ToggleLanguage(code) {
		writeError(w, http.StatusConflict, "at least one language must stay selected", "conflict")
		return
	}
	writeJSON(w, http.StatusOK, languagesBody{Languages: s.Config().Languages()})
}
