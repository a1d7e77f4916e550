package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"creator-dm-backend/internal/apperrors"
)

// ErrorResponse represents an error response. Code carries the specific
// denial reason so clients can distinguish, say, a block from a paywall.
type ErrorResponse struct {
	Error string         `json:"error"`
	Code  apperrors.Code `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// respondError maps an application error to its HTTP status.
func respondError(w http.ResponseWriter, err error) {
	message := "internal server error"
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	respondJSON(w, apperrors.HTTPStatus(err), ErrorResponse{Error: message, Code: apperrors.CodeOf(err)})
}

// respondErrorMsg sends a plain error with an explicit status.
func respondErrorMsg(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
