// internal/api/respond.go
package api

import (
	"encoding/json"
	"net/http"

	stderrors "funding-engine/internal/common/errors"
)

type errorResponse struct {
	Error *stderrors.StandardError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err *stderrors.StandardError) {
	writeJSON(w, status, errorResponse{Error: err})
}

// statusForError maps a StandardError code to the HTTP status a caller sees.
func statusForError(err *stderrors.StandardError) int {
	switch err.Code {
	case stderrors.ErrCodeValidationFailed, stderrors.ErrCodeWebhookPayloadInvalid:
		return http.StatusBadRequest
	case stderrors.ErrCodeWebhookUnauthorized:
		return http.StatusUnauthorized
	case stderrors.ErrCodeFundingApplicationNotFound, stderrors.ErrCodeLenderApplicationNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
