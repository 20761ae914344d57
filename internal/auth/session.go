// Package auth holds the relay's two session checks and the profile lookup.
//
// HasSessionEvidence is the edge check: it only looks for a non-empty session
// cookie and gates every non-public route. VerifySessionStrict also checks the
// token signature and expiry. It always runs for /api/tts, and for /api/chat,
// /api/upload and /ws when gateway.authMode is "strict".
package auth

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrNoSession      = errors.New("no session")
	ErrInvalidSession = errors.New("invalid session")
	ErrExpiredSession = errors.New("session expired")
	ErrRevokedSession = errors.New("session revoked")
)

// Identity is the caller resolved from a session token.
type Identity struct {
	UID      string
	Verified bool
}

// Verifier checks a session token.
type Verifier interface {
	VerifySession(ctx context.Context, token string) (Identity, error)
}

// SessionToken returns the session cookie value, or "".
func SessionToken(r *http.Request, cookieName string) string {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// HasSessionEvidence reports whether the request carries a session cookie.
// The token is not verified.
func HasSessionEvidence(r *http.Request, cookieName string) bool {
	return SessionToken(r, cookieName) != ""
}

// VerifySessionStrict verifies the session cookie with v.
func VerifySessionStrict(ctx context.Context, r *http.Request, cookieName string, v Verifier) (Identity, error) {
	token := SessionToken(r, cookieName)
	if token == "" {
		return Identity{}, ErrNoSession
	}
	return v.VerifySession(ctx, token)
}

type identityKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// CurrentUserID returns the verified user id on ctx, or "".
func CurrentUserID(ctx context.Context) string {
	if id, ok := IdentityFrom(ctx); ok && id.Verified {
		return id.UID
	}
	return ""
}
