package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/facetrack/internal/constants"
	"github.com/kozaktomas/facetrack/internal/web/middleware"
)

func TestEventHub_PublishReachesSubscriber(t *testing.T) {
	hub := NewEventHub()
	sessionID := uuid.New()
	ch := hub.Subscribe(sessionID)

	hub.Publish(sessionID, SessionEvent{Type: "frame"})

	select {
	case event := <-ch:
		if event.Type != "frame" {
			t.Errorf("event type = %q, want frame", event.Type)
		}
	default:
		t.Fatal("expected buffered event")
	}
}

func TestEventHub_PublishIgnoresOtherSessions(t *testing.T) {
	hub := NewEventHub()
	ch := hub.Subscribe(uuid.New())

	hub.Publish(uuid.New(), SessionEvent{Type: "frame"})

	select {
	case event := <-ch:
		t.Fatalf("unexpected event %q for unrelated session", event.Type)
	default:
	}
}

func TestEventHub_Unsubscribe(t *testing.T) {
	hub := NewEventHub()
	sessionID := uuid.New()
	ch := hub.Subscribe(sessionID)

	if got := hub.Subscribers(sessionID); got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}

	hub.Unsubscribe(sessionID, ch)

	if got := hub.Subscribers(sessionID); got != 0 {
		t.Errorf("subscribers after unsubscribe = %d, want 0", got)
	}
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed")
	}

	// Publishing after the last unsubscribe must not panic.
	hub.Publish(sessionID, SessionEvent{Type: "frame"})
}

func TestEventHub_FullBufferDropsEvents(t *testing.T) {
	hub := NewEventHub()
	sessionID := uuid.New()
	ch := hub.Subscribe(sessionID)

	// One more than the buffer holds; Publish must not block.
	for i := 0; i < constants.EventChannelBuffer+1; i++ {
		hub.Publish(sessionID, SessionEvent{Type: "frame"})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received != constants.EventChannelBuffer {
				t.Errorf("received %d events, want %d", received, constants.EventChannelBuffer)
			}
			return
		}
	}
}

// waitForSubscriber blocks until the session has one listener, failing the
// test if the streaming goroutine never subscribes.
func waitForSubscriber(t *testing.T, hub *EventHub, sessionID uuid.UUID) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Subscribers(sessionID) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("stream never subscribed to the session feed")
}

func TestEventsHandler_Stream(t *testing.T) {
	f := newFixture(t)
	session := f.startSession(t)

	req := httptest.NewRequest("GET", "/api/v1/sessions/"+session.PublicID.String()+"/events", nil)
	req = requestWithChiParams(req, map[string]string{"sessionID": session.PublicID.String()})
	recorder := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.eventsHandler.Stream(recorder, req)
	}()

	waitForSubscriber(t, f.hub, session.PublicID)
	f.hub.Publish(session.PublicID, SessionEvent{Type: "frame"})
	f.hub.Publish(session.PublicID, SessionEvent{Type: "ended"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not terminate on the ended event")
	}

	if ct := recorder.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	body := recorder.Body.String()
	for _, want := range []string{"event: status", "event: frame", "event: ended"} {
		if !strings.Contains(body, want) {
			t.Errorf("stream body missing %q\nBody: %s", want, body)
		}
	}
	if !strings.Contains(body, session.PublicID.String()) {
		t.Error("status snapshot missing session id")
	}
}

func TestEventsHandler_Stream_ClientDisconnect(t *testing.T) {
	f := newFixture(t)
	session := f.startSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/v1/sessions/"+session.PublicID.String()+"/events", nil)
	req = requestWithChiParams(req.WithContext(ctx), map[string]string{"sessionID": session.PublicID.String()})
	recorder := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.eventsHandler.Stream(recorder, req)
	}()

	waitForSubscriber(t, f.hub, session.PublicID)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not terminate on client disconnect")
	}
	if got := f.hub.Subscribers(session.PublicID); got != 0 {
		t.Errorf("subscribers after disconnect = %d, want 0", got)
	}
}

func TestEventsHandler_Stream_NotFound(t *testing.T) {
	f := newFixture(t)

	unknown := uuid.New()
	req := httptest.NewRequest("GET", "/api/v1/sessions/"+unknown.String()+"/events", nil)
	req = requestWithChiParams(req, map[string]string{"sessionID": unknown.String()})
	recorder := httptest.NewRecorder()

	f.eventsHandler.Stream(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "session not found")
}

func TestEventsHandler_Stream_InvalidID(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest("GET", "/api/v1/sessions/nope/events", nil)
	req = requestWithChiParams(req, map[string]string{"sessionID": "nope"})
	recorder := httptest.NewRecorder()

	f.eventsHandler.Stream(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "invalid session id")
}

func TestEventsHandler_Stream_CaptureTokenScope(t *testing.T) {
	f := newFixture(t)
	session := f.startSession(t)

	principal := &middleware.Principal{Role: middleware.RoleCapture, SessionID: uuid.New()}
	req := httptest.NewRequest("GET", "/api/v1/sessions/"+session.PublicID.String()+"/events", nil)
	req = requestWithChiParams(req, map[string]string{"sessionID": session.PublicID.String()})
	req = req.WithContext(middleware.WithPrincipal(req.Context(), principal))
	recorder := httptest.NewRecorder()

	f.eventsHandler.Stream(recorder, req)

	assertStatusCode(t, recorder, http.StatusForbidden)
	assertJSONError(t, recorder, "capture token does not match session")
}
