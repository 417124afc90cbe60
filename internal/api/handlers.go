package api

import (
	"net/http"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/lineending"
	"github.com/starford/quire/internal/parser"
	"github.com/starford/quire/internal/session"
)

// Handler holds document route handlers.
type Handler struct {
	sess *session.Session
}

// NewHandler creates a new Handler.
func NewHandler(sess *session.Session) *Handler {
	return &Handler{sess: sess}
}

// ListDocuments handles GET /api/documents.
func (h *Handler) ListDocuments(w http.ResponseWriter, _ *http.Request) {
	current := h.sess.CurrentPath()
	docs := h.sess.Documents()
	items := make([]DocumentListItem, len(docs))
	for i, d := range docs {
		items[i] = DocumentListItem{
			Path:       d.Path,
			Name:       d.Name,
			Kind:       d.Kind,
			Modified:   d.Modified,
			Encoding:   d.Encoding,
			LineEnding: d.LineEnding,
			Current:    d.Path == current,
			Summary:    parser.Summarize(d.Name, d.Content),
		}
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: items, Current: current})
}

// Unsaved handles GET /api/documents/unsaved.
func (h *Handler) Unsaved(w http.ResponseWriter, _ *http.Request) {
	docs := h.sess.Unsaved()
	if docs == nil {
		docs = []session.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// Current handles GET /api/documents/current.
func (h *Handler) Current(w http.ResponseWriter, _ *http.Request) {
	d, ok := h.sess.Current()
	if !ok {
		writeError(w, "current", apperr.ErrNoDocument)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Open handles POST /api/documents/open.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var (
		d   session.Document
		err error
	)
	if req.Path == "" {
		d, err = h.sess.OpenPrompted(r.Context())
	} else {
		d, err = h.sess.Open(r.Context(), req.Path)
	}
	if err != nil {
		writeError(w, "open", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Create handles POST /api/documents.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := h.sess.Create(req.Name, req.Content)
	if err != nil {
		writeError(w, "create", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// UpdateContent handles PUT /api/documents/current/content.
func (h *Handler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	var req UpdateContentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	changed, err := h.sess.UpdateCode(*req.Content)
	if err != nil {
		writeError(w, "update", err)
		return
	}
	d, _ := h.sess.Current()
	writeJSON(w, http.StatusOK, UpdateContentResponse{Changed: changed, Document: d})
}

// Save handles POST /api/documents/save.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := h.sess.Save(r.Context(), session.SaveOptions{
		Document: req.Path,
		Target:   req.Target,
		SaveAs:   req.SaveAs,
	})
	if err != nil {
		writeError(w, "save", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Switch handles POST /api/documents/switch.
func (h *Handler) Switch(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.sess.Switch(req.Path); err != nil {
		writeError(w, "switch", err)
		return
	}
	d, _ := h.sess.Current()
	writeJSON(w, http.StatusOK, d)
}

// Close handles POST /api/documents/close.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.sess.Close(req.Path); err != nil {
		writeError(w, "close", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Rename handles POST /api/documents/rename.
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := h.sess.Rename(r.Context(), req.Path, req.Name)
	if err != nil {
		writeError(w, "rename", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// SetLineEnding handles POST /api/documents/line-ending.
func (h *Handler) SetLineEnding(w http.ResponseWriter, r *http.Request) {
	var req LineEndingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	style, err := lineending.Parse(req.LineEnding)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
		return
	}
	d, err := h.sess.SetLineEnding(r.Context(), req.Path, style)
	if err != nil {
		writeError(w, "line ending", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Refresh handles POST /api/documents/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := h.sess.Refresh(r.Context(), req.Path)
	if err != nil {
		writeError(w, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListDir handles GET /api/dir?path=.
func (h *Handler) ListDir(w http.ResponseWriter, r *http.Request) {
	entries, err := h.sess.ListDir(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, "list dir", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
