// Package api exposes the HTTP/SSE/WebSocket surface of the gateway.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rustyclaw/rustyclaw/internal/storage"
)

// errorEnvelope is the wire shape of every API error.
type errorEnvelope struct {
	Error      string `json:"error"`
	ErrorCode  int    `json:"error_code"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// apiError maps an internal failure onto an HTTP status and a safe,
// user-visible message.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

func badRequest(message string) *apiError {
	return &apiError{status: http.StatusBadRequest, message: message}
}

func unauthorized() *apiError {
	// Never reveal which check failed.
	return &apiError{status: http.StatusUnauthorized, message: "Invalid token"}
}

func notFound(message string) *apiError {
	return &apiError{status: http.StatusNotFound, message: message}
}

func conflict(message string) *apiError {
	return &apiError{status: http.StatusConflict, message: message}
}

func unavailable(message string) *apiError {
	return &apiError{status: http.StatusServiceUnavailable, message: message}
}

func internal() *apiError {
	// Detail stays in the logs.
	return &apiError{status: http.StatusInternalServerError, message: "Internal error"}
}

// fromStoreErr maps storage sentinels onto API errors.
func fromStoreErr(err error) *apiError {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return notFound("Not found")
	case errors.Is(err, storage.ErrAlreadyExists):
		return conflict("Already exists")
	default:
		return internal()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err *apiError) {
	writeJSON(w, err.status, errorEnvelope{Error: err.message, ErrorCode: err.status})
}
