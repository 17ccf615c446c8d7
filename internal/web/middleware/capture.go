package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

// CaptureTokens issues and verifies per-session capture tokens. A capture
// device in a classroom holds a token that authorizes posting frames to
// exactly one session, never the API token. Tokens are the session public id
// signed with an HMAC secret, so they carry no state and need no storage.
type CaptureTokens struct {
	secret []byte
}

// NewCaptureTokens creates a token issuer. An empty secret disables capture
// tokens: Issue returns an empty string and Verify rejects everything.
func NewCaptureTokens(secret string) *CaptureTokens {
	return &CaptureTokens{secret: []byte(secret)}
}

// Enabled reports whether capture tokens are configured.
func (c *CaptureTokens) Enabled() bool {
	return len(c.secret) > 0
}

// Issue returns the capture token for a session.
func (c *CaptureTokens) Issue(publicID uuid.UUID) string {
	if !c.Enabled() {
		return ""
	}
	return publicID.String() + "." + c.sign(publicID.String())
}

// Verify checks a capture token and returns the session it authorizes.
func (c *CaptureTokens) Verify(token string) (uuid.UUID, bool) {
	if !c.Enabled() {
		return uuid.Nil, false
	}

	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return uuid.Nil, false
	}
	publicID, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, false
	}
	if !hmac.Equal([]byte(parts[1]), []byte(c.sign(parts[0]))) {
		return uuid.Nil, false
	}
	return publicID, true
}

// sign creates an HMAC signature for data.
func (c *CaptureTokens) sign(data string) string {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(data))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}
