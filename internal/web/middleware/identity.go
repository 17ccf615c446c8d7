package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Role classifies what a request may do.
type Role string

// Roles, from broadest to narrowest.
const (
	// RoleAdmin has full access. Requests run as admin when no API token is
	// configured, which is the single-machine classroom deployment.
	RoleAdmin Role = "admin"
	// RoleTeacher is the API token holder: session lifecycle, enrollment,
	// reports.
	RoleTeacher Role = "teacher"
	// RoleCapture is a capture device: it may post frames and watch the live
	// feed of the one session its token was issued for.
	RoleCapture Role = "capture"
)

// Principal is the resolved identity of a request.
type Principal struct {
	Role Role

	// SessionID restricts capture principals to a single session. It is the
	// zero UUID for other roles.
	SessionID uuid.UUID
}

// AllowsSession reports whether the principal may touch the given session.
// Only capture principals are restricted.
func (p *Principal) AllowsSession(publicID uuid.UUID) bool {
	if p.Role != RoleCapture {
		return true
	}
	return p.SessionID == publicID
}

type contextKey string

const principalContextKey contextKey = "principal"

// Authenticator resolves bearer credentials into principals.
type Authenticator struct {
	apiToken string
	captures *CaptureTokens
}

// NewAuthenticator creates an authenticator. An empty apiToken disables
// authentication entirely.
func NewAuthenticator(apiToken string, captures *CaptureTokens) *Authenticator {
	return &Authenticator{
		apiToken: apiToken,
		captures: captures,
	}
}

// Authenticate is middleware that resolves the Authorization header into a
// Principal and stores it in the request context. The API token yields the
// teacher role, a valid capture token yields the capture role bound to its
// session, anything else is rejected with 401. With no API token configured
// every request runs as admin.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.apiToken == "" {
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), &Principal{Role: RoleAdmin})))
			return
		}

		token := bearerToken(r)
		if token == "" {
			respondUnauthorized(w)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.apiToken)) == 1 {
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), &Principal{Role: RoleTeacher})))
			return
		}
		if a.captures != nil {
			if sessionID, ok := a.captures.Verify(token); ok {
				p := &Principal{Role: RoleCapture, SessionID: sessionID}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
				return
			}
		}
		respondUnauthorized(w)
	})
}

// RequireTeacher is middleware that rejects capture principals. It must run
// after Authenticate.
func RequireTeacher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		if p == nil {
			respondUnauthorized(w)
			return
		}
		if p.Role == RoleCapture {
			http.Error(w, `{"error": "forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetPrincipal retrieves the principal from the request context.
func GetPrincipal(ctx context.Context) *Principal {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok {
		return nil
	}
	return p
}

// WithPrincipal adds a principal to the context. Handler tests use this
// directly; production requests go through Authenticate.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// bearerToken extracts the bearer credential from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

func respondUnauthorized(w http.ResponseWriter) {
	http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
}
