// Package handlers implements the HTTP API: session lifecycle, frame
// ingestion, enrollment and reporting.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kozaktomas/facetrack/internal/attendance"
	"github.com/kozaktomas/facetrack/internal/database"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps sentinel errors from the stores and the attendance
// pipeline onto HTTP status codes. Anything unrecognized becomes a 500.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrSessionInactive):
		respondError(w, http.StatusConflict, "session missing or already ended")
	case errors.Is(err, database.ErrStudentExists):
		respondError(w, http.StatusConflict, "student number already enrolled")
	case errors.Is(err, database.ErrStudentNotFound):
		respondError(w, http.StatusNotFound, "student not found")
	case errors.Is(err, database.ErrDimensionMismatch):
		respondError(w, http.StatusBadRequest, "embedding dimensionality mismatch")
	case errors.Is(err, attendance.ErrDetectorUnavailable):
		respondError(w, http.StatusBadGateway, "face detector unavailable")
	case errors.Is(err, attendance.ErrEnrollmentRejected):
		respondError(w, http.StatusUnprocessableEntity, "no usable face found in submitted images")
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
