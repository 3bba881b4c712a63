package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/appmgt/pkg/appmgt"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteServiceError writes err with the status code of its class.
// Persistence failures are reported without their cause.
func WriteServiceError(w http.ResponseWriter, err error) {
	var ve *appmgt.ValidationError
	switch {
	case errors.As(err, &ve):
		details := map[string]string{"rule": string(ve.Rule)}
		if ve.Field != "" {
			details["field"] = ve.Field
		}
		_ = WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: ve.Error(), Details: details})
	case appmgt.IsValidation(err):
		WriteBadRequest(w, err.Error())
	case appmgt.IsNotFound(err):
		WriteErrorMessage(w, http.StatusNotFound, err.Error())
	default:
		WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data any) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data any) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
