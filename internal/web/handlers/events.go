package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/kozaktomas/facetrack/internal/attendance"
	"github.com/kozaktomas/facetrack/internal/constants"
	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/web/middleware"
)

// SessionEvent is one entry on a session's live feed.
type SessionEvent struct {
	Type    string                  `json:"type"`
	Session *SessionResponse        `json:"session,omitempty"`
	Frame   *attendance.FrameResult `json:"frame,omitempty"`
}

// EventHub fans out session events to SSE subscribers, keyed by session
// public id.
type EventHub struct {
	mu        sync.RWMutex
	listeners map[uuid.UUID][]chan SessionEvent
}

// NewEventHub creates an empty event hub.
func NewEventHub() *EventHub {
	return &EventHub{
		listeners: make(map[uuid.UUID][]chan SessionEvent),
	}
}

// Subscribe registers a listener for one session's events. Publishing never
// blocks; a subscriber that falls a full buffer behind starts losing events.
func (h *EventHub) Subscribe(sessionID uuid.UUID) chan SessionEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan SessionEvent, constants.EventChannelBuffer)
	h.listeners[sessionID] = append(h.listeners[sessionID], ch)
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (h *EventHub) Unsubscribe(sessionID uuid.UUID, ch chan SessionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	chans := h.listeners[sessionID]
	for i, listener := range chans {
		if listener == ch {
			h.listeners[sessionID] = append(chans[:i], chans[i+1:]...)
			close(ch)
			break
		}
	}
	if len(h.listeners[sessionID]) == 0 {
		delete(h.listeners, sessionID)
	}
}

// Publish sends an event to every subscriber of a session.
func (h *EventHub) Publish(sessionID uuid.UUID, event SessionEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, listener := range h.listeners[sessionID] {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Subscribers returns the number of listeners on a session's feed.
func (h *EventHub) Subscribers(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[sessionID])
}

// EventsHandler streams session events over SSE.
type EventsHandler struct {
	sessions database.SessionStore
	hub      *EventHub
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(sessions database.SessionStore, hub *EventHub) *EventsHandler {
	return &EventsHandler{
		sessions: sessions,
		hub:      hub,
	}
}

// Stream serves the live feed for a session: an initial status event with the
// session snapshot, then one event per ingested frame until the session ends
// or the client disconnects.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	publicID, err := sessionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if p := middleware.GetPrincipal(r.Context()); p != nil && !p.AllowsSession(publicID) {
		respondError(w, http.StatusForbidden, "capture token does not match session")
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

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := h.hub.Subscribe(publicID)
	defer h.hub.Unsubscribe(publicID, ch)

	snapshot := sessionResponse(session)
	sendSSEEvent(w, flusher, "status", SessionEvent{Type: "status", Session: &snapshot})

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if event.Type == "ended" {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
