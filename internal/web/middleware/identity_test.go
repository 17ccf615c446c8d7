package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

// principalRecorder is a handler that remembers the principal it saw.
type principalRecorder struct {
	called    bool
	principal *Principal
}

func (h *principalRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.principal = GetPrincipal(r.Context())
	w.WriteHeader(http.StatusOK)
}

func TestAuthenticate_DisabledRunsAsAdmin(t *testing.T) {
	auth := NewAuthenticator("", NewCaptureTokens(""))
	final := &principalRecorder{}
	handler := auth.Authenticate(final)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if final.principal == nil {
		t.Fatal("principal not found in context")
	}
	if final.principal.Role != RoleAdmin {
		t.Errorf("Role = %s, want %s", final.principal.Role, RoleAdmin)
	}
}

func TestAuthenticate_APIToken(t *testing.T) {
	auth := NewAuthenticator("api-token", NewCaptureTokens("capture-secret"))
	final := &principalRecorder{}
	handler := auth.Authenticate(final)

	t.Run("valid token", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
		req.Header.Set("Authorization", "Bearer api-token")
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
		}
		if final.principal == nil || final.principal.Role != RoleTeacher {
			t.Errorf("principal = %+v, want teacher role", final.principal)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		final.called = false
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if final.called {
			t.Error("handler should not be called for unauthorized request")
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		final.called = false
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
		req.Header.Set("Authorization", "Bearer wrong-token")
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if final.called {
			t.Error("handler should not be called for unauthorized request")
		}
	})

	t.Run("non-bearer scheme", func(t *testing.T) {
		final.called = false
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestAuthenticate_CaptureToken(t *testing.T) {
	captures := NewCaptureTokens("capture-secret")
	auth := NewAuthenticator("api-token", captures)
	final := &principalRecorder{}
	handler := auth.Authenticate(final)

	sessionID := uuid.New()
	token := captures.Issue(sessionID)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/sessions/x/frames", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if final.principal == nil {
		t.Fatal("principal not found in context")
	}
	if final.principal.Role != RoleCapture {
		t.Errorf("Role = %s, want %s", final.principal.Role, RoleCapture)
	}
	if final.principal.SessionID != sessionID {
		t.Errorf("SessionID = %s, want %s", final.principal.SessionID, sessionID)
	}
}

func TestRequireTeacher(t *testing.T) {
	final := &principalRecorder{}
	handler := RequireTeacher(final)

	tests := []struct {
		name       string
		principal  *Principal
		wantStatus int
	}{
		{"teacher allowed", &Principal{Role: RoleTeacher}, http.StatusOK},
		{"admin allowed", &Principal{Role: RoleAdmin}, http.StatusOK},
		{"capture rejected", &Principal{Role: RoleCapture, SessionID: uuid.New()}, http.StatusForbidden},
		{"no principal rejected", nil, http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/api/v1/students", nil)
			if tc.principal != nil {
				req = req.WithContext(WithPrincipal(req.Context(), tc.principal))
			}
			handler.ServeHTTP(w, req)

			if w.Code != tc.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tc.wantStatus)
			}
		})
	}
}

func TestPrincipal_AllowsSession(t *testing.T) {
	own := uuid.New()
	other := uuid.New()

	tests := []struct {
		name      string
		principal Principal
		session   uuid.UUID
		want      bool
	}{
		{"teacher any session", Principal{Role: RoleTeacher}, other, true},
		{"admin any session", Principal{Role: RoleAdmin}, other, true},
		{"capture own session", Principal{Role: RoleCapture, SessionID: own}, own, true},
		{"capture other session", Principal{Role: RoleCapture, SessionID: own}, other, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.principal.AllowsSession(tc.session); got != tc.want {
				t.Errorf("AllowsSession() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestGetPrincipal_EmptyContext(t *testing.T) {
	if p := GetPrincipal(context.Background()); p != nil {
		t.Errorf("GetPrincipal() = %+v, want nil for empty context", p)
	}
}
