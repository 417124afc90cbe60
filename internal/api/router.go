package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/quire/internal/session"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(sess *session.Session, prompts Prompts, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(sess)
	ph := NewPromptHandler(prompts)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/documents", func(r chi.Router) {
		r.Get("/", h.ListDocuments)
		r.Post("/", h.Create)
		r.Get("/current", h.Current)
		r.Put("/current/content", h.UpdateContent)
		r.Get("/unsaved", h.Unsaved)
		r.Post("/open", h.Open)
		r.Post("/save", h.Save)
		r.Post("/switch", h.Switch)
		r.Post("/close", h.Close)
		r.Post("/rename", h.Rename)
		r.Post("/line-ending", h.SetLineEnding)
		r.Post("/refresh", h.Refresh)
	})

	r.Get("/dir", h.ListDir)

	r.Get("/prompts", ph.List)
	r.Post("/prompts/{id}", ph.Answer)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
