package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/prompt"
)

// Prompts is the dialog broker seen by the UI.
type Prompts interface {
	Pending() []prompt.Prompt
	Answer(id string, a prompt.Answer) error
}

// PromptHandler serves outstanding dialogs.
type PromptHandler struct {
	prompts Prompts
}

// NewPromptHandler creates a new PromptHandler.
func NewPromptHandler(p Prompts) *PromptHandler {
	return &PromptHandler{prompts: p}
}

// List handles GET /api/prompts.
func (h *PromptHandler) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"prompts": h.prompts.Pending()})
}

// Answer handles POST /api/prompts/{id}.
func (h *PromptHandler) Answer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req AnswerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.prompts.Answer(id, prompt.Answer{
		Path:      req.Path,
		Choice:    prompt.Choice(req.Choice),
		Cancelled: req.Cancelled,
	})
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("prompt not found"))
	default:
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	}
}
