package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/quire/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps registry errors to HTTP statuses. Error kinds are shown
// to the user, so their message is passed through.
func writeError(w http.ResponseWriter, op string, err error) {
	kind := string(apperr.KindOf(err))
	body := errResponse{Error: err.Error(), Kind: kind}

	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusUnprocessableEntity, body)
	case errors.Is(err, apperr.UnsupportedFileType):
		writeJSON(w, http.StatusUnsupportedMediaType, body)
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrNoDocument), errors.Is(err, os.ErrNotExist):
		writeJSON(w, http.StatusNotFound, body)
	case errors.Is(err, apperr.ErrAlreadyExists), errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrCancelled):
		writeJSON(w, http.StatusConflict, body)
	default:
		slog.Error("api: "+op+" failed", slog.String("error", err.Error()))
		if kind == "" {
			body.Error = "internal error"
		}
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

// decodeJSON reads a validated request body into dst. It writes the error
// response and returns false when the body is unusable.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst validation.Validatable) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 32<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	if err := dst.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
		return false
	}
	return true
}
