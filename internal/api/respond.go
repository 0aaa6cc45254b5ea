package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/echotrain/internal/chat"
	"github.com/kalambet/echotrain/internal/ingest"
	"github.com/kalambet/echotrain/internal/storage"
	"github.com/kalambet/echotrain/internal/training"
)

const maxRequestBodySize = 1 << 20 // 1MB

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeError maps a service error onto a status code.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, training.ErrPreconditionFailed), errors.Is(err, storage.ErrConflict):
		httpError(w, http.StatusConflict, "precondition_failed", "%v", err)
	case errors.Is(err, training.ErrInvalidReport),
		errors.Is(err, ingest.ErrInvalidUpload),
		errors.Is(err, ingest.ErrInvalidAnnotation),
		errors.Is(err, chat.ErrEmptyMessage):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
