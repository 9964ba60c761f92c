package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/memoranda/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps an error kind to its status. Messages of known kinds name
// the memo id or field and are passed through; anything else is logged and
// reported as an internal error.
func writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch apperr.Kind(err) {
	case apperr.ErrNotFound:
		status = http.StatusNotFound
	case apperr.ErrValidation:
		status = http.StatusBadRequest
	case apperr.ErrConflict:
		status = http.StatusConflict
	case apperr.ErrEncoding:
		status = http.StatusUnprocessableEntity
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("error", msg))
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			msg = "internal error"
		}
	}
	writeJSON(w, status, errorBody(msg))
}
