package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/facetrack/internal/attendance"
	"github.com/kozaktomas/facetrack/internal/constants"
	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/web/middleware"
)

// SessionsHandler handles session lifecycle endpoints.
type SessionsHandler struct {
	sessions database.SessionStore
	ledger   database.AttendanceStore
	pipeline *attendance.Pipeline
	captures *middleware.CaptureTokens
	hub      *EventHub
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(sessions database.SessionStore, ledger database.AttendanceStore, pipeline *attendance.Pipeline, captures *middleware.CaptureTokens, hub *EventHub) *SessionsHandler {
	return &SessionsHandler{
		sessions: sessions,
		ledger:   ledger,
		pipeline: pipeline,
		captures: captures,
		hub:      hub,
	}
}

// SessionResponse is the wire form of a session.
type SessionResponse struct {
	SessionID    string     `json:"session_id"`
	TeacherID    string     `json:"teacher_id,omitempty"`
	CourseName   string     `json:"course_name"`
	Active       bool       `json:"active"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	FrameCounter int64      `json:"frame_counter"`
	LastFrameAt  *time.Time `json:"last_frame_at,omitempty"`
}

func sessionResponse(s *database.Session) SessionResponse {
	return SessionResponse{
		SessionID:    s.PublicID.String(),
		TeacherID:    s.TeacherID,
		CourseName:   s.CourseName,
		Active:       s.Active,
		StartedAt:    s.StartedAt,
		EndedAt:      s.EndedAt,
		FrameCounter: s.FrameCounter,
		LastFrameAt:  s.LastFrameAt,
	}
}

// sessionIDParam parses the sessionID URL parameter.
func sessionIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "sessionID"))
}

type startSessionRequest struct {
	TeacherID  string `json:"teacher_id"`
	CourseName string `json:"course_name"`
}

type startSessionResponse struct {
	SessionResponse

	// CaptureToken authorizes a capture device for this session only. Absent
	// when capture tokens are not configured.
	CaptureToken string `json:"capture_token,omitempty"`
}

// Start creates a new attendance session.
func (h *SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.CourseName == "" {
		respondError(w, http.StatusBadRequest, "course_name is required")
		return
	}

	session, err := h.sessions.Start(r.Context(), req.TeacherID, req.CourseName)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := startSessionResponse{SessionResponse: sessionResponse(session)}
	if h.captures.Enabled() {
		resp.CaptureToken = h.captures.Issue(session.PublicID)
	}
	respondJSON(w, http.StatusCreated, resp)
}

// Get returns one session.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	publicID, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	session, err := h.sessions.GetByPublicID(r.Context(), publicID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse(session))
}

// List returns the most recently started sessions.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := constants.DefaultSessionListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	sessions, err := h.sessions.List(r.Context(), limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := make([]SessionResponse, len(sessions))
	for i := range sessions {
		resp[i] = sessionResponse(&sessions[i])
	}
	respondJSON(w, http.StatusOK, resp)
}

type endSessionResponse struct {
	Session      SessionResponse `json:"session"`
	TotalPresent int             `json:"total_present"`
}

// End closes a session and returns its summary. Ending is terminal: a second
// call gets a conflict.
func (h *SessionsHandler) End(w http.ResponseWriter, r *http.Request) {
	publicID, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	summary, err := h.pipeline.EndSession(r.Context(), publicID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	snapshot := sessionResponse(summary.Session)
	h.hub.Publish(publicID, SessionEvent{Type: "ended", Session: &snapshot})
	respondJSON(w, http.StatusOK, endSessionResponse{
		Session:      snapshot,
		TotalPresent: summary.TotalPresent,
	})
}

// Report returns the attendance rows of a session, ordered by mark time.
func (h *SessionsHandler) Report(w http.ResponseWriter, r *http.Request) {
	publicID, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	session, err := h.sessions.GetByPublicID(r.Context(), publicID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if session == nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	rows, err := h.ledger.Report(r.Context(), session.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if rows == nil {
		rows = []database.ReportRow{}
	}
	respondJSON(w, http.StatusOK, rows)
}
