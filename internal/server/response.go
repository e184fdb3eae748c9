package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/Zyle0001/foundry-local-runtime/internal/audio/faults"
)

// ErrorResponse is the standard JSON error envelope returned by all HTTP error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response with the given HTTP status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		log.Printf("[APIServer] failed to write error response: %v", err)
	}
}

// writeJSON writes a JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[APIServer] failed to write response: %v", err)
	}
}

// writeFault maps the error taxonomy onto HTTP status codes: validation
// faults are 400, missing targets 404, policy rejections 409, and runtime
// faults 500.
func writeFault(w http.ResponseWriter, err error) {
	switch {
	case faults.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case faults.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case faults.IsPolicyViolation(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
