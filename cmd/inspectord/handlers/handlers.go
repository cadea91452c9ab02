// Package handlers provides the local REST API the inspector UI talks to.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/propcare/inspector/internal/errors"
	"github.com/propcare/inspector/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Failed to encode response", err)
	}
}

// writeError maps the error taxonomy onto HTTP statuses and emits a
// {"error", "code"} body the UI can act on.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.Code(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrValidation, apperrors.ErrInvalid, apperrors.ErrInvalidImage:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCapacity, apperrors.ErrCaptureInProgress, apperrors.ErrSyncInProgress:
		status = http.StatusConflict
	case apperrors.ErrOffline:
		status = http.StatusServiceUnavailable
	case apperrors.ErrNetwork, apperrors.ErrServer:
		status = http.StatusBadGateway
	case apperrors.ErrAuthFailed:
		status = http.StatusUnauthorized
	}

	message := err.Error()
	if appErr, ok := err.(*apperrors.AppError); ok && appErr.Message != "" {
		message = appErr.Message
	}

	writeJSON(w, status, map[string]interface{}{
		"error": message,
		"code":  string(code),
	})
}
