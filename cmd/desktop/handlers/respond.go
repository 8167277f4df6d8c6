// Package handlers provides REST API handlers for the local status surface:
// sync state, the mutation queue, backups, the profile and every local
// collection.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/eodiceanne-star/heard-app-beta/internal/errors"
	"github.com/eodiceanne-star/heard-app-beta/internal/logging"
)

// maxRequestBytes bounds request bodies, including imports.
const maxRequestBytes = 10 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err)
	}
}

// writeError maps an error code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := apperrors.CodeOf(err)
	switch code {
	case apperrors.ErrInvalid, apperrors.ErrSerialization, apperrors.ErrImportFailed:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrOffline:
		status = http.StatusServiceUnavailable
	case apperrors.ErrAuthFailed:
		status = http.StatusUnauthorized
	}
	if status == http.StatusInternalServerError {
		logging.Error("Request failed", err)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  string(code),
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err)
	}
	return nil
}
