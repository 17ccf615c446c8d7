package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/kozaktomas/facetrack/internal/attendance"
	"github.com/kozaktomas/facetrack/internal/constants"
	"github.com/kozaktomas/facetrack/internal/web/middleware"
)

// FramesHandler handles frame ingestion.
type FramesHandler struct {
	pipeline *attendance.Pipeline
	hub      *EventHub
}

// NewFramesHandler creates a new frames handler.
func NewFramesHandler(pipeline *attendance.Pipeline, hub *EventHub) *FramesHandler {
	return &FramesHandler{
		pipeline: pipeline,
		hub:      hub,
	}
}

// Ingest runs one captured frame through the attendance pipeline. The frame
// arrives as the multipart field "frame". An undecodable frame is a 200 with
// the error inside the result; a missing or ended session is a conflict.
func (h *FramesHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	publicID, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if p := middleware.GetPrincipal(r.Context()); p != nil && !p.AllowsSession(publicID) {
		respondError(w, http.StatusForbidden, "capture token does not match session")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "frame exceeds upload limit")
			return
		}
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, _, err := r.FormFile("frame")
	if err != nil {
		respondError(w, http.StatusBadRequest, "frame file is required")
		return
	}
	defer file.Close()

	frame, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read frame")
		return
	}

	result, err := h.pipeline.IngestFrame(r.Context(), publicID, frame)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	h.hub.Publish(publicID, SessionEvent{Type: "frame", Frame: result})
	respondJSON(w, http.StatusOK, result)
}
