package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// expirySkew mirrors the server's validation window so a token the server
// would refuse is caught before the request leaves the client.
const expirySkew = time.Minute

// ErrTokenExpired is returned when the configured bearer token is past (or
// within a minute of) its expiry.
var ErrTokenExpired = errors.New("bearer token expired")

// TokenSource issues the bearer token for outgoing requests. The token is
// parsed once, unverified, to learn its subject and expiry; signature
// verification is the server's job.
type TokenSource struct {
	raw       string
	subject   string
	expiresAt time.Time
}

// NewTokenSource parses the raw JWT and screens it for basic well-formedness.
func NewTokenSource(raw string) (*TokenSource, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("parse bearer token: %w", err)
	}
	ts := &TokenSource{raw: raw}
	if sub, ok := claims["sub"].(string); ok {
		ts.subject = sub
	}
	if exp, ok := claims["exp"].(float64); ok {
		ts.expiresAt = time.Unix(int64(exp), 0)
	}
	return ts, nil
}

// Token returns the bearer token, refusing to issue one that is already
// expired so the failure surfaces before a doomed network call.
func (t *TokenSource) Token() (string, error) {
	if !t.expiresAt.IsZero() && time.Now().Add(expirySkew).After(t.expiresAt) {
		return "", fmt.Errorf("%w at %s", ErrTokenExpired, t.expiresAt.UTC().Format(time.RFC3339))
	}
	return t.raw, nil
}

// Subject returns the token's sub claim, used to partition cached data.
func (t *TokenSource) Subject() string {
	return t.subject
}
