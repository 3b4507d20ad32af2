package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry is returned for tokens without an exp claim.
var ErrNoExpiry = errors.New("token has no expiry")

// Credential is the session material owned by the Coordinator.
type Credential struct {
	AccessToken  string
	RefreshToken string          // empty for temporary (guest) sessions
	ExpiresAt    time.Time       // zero when the access token carries no readable exp
	User         json.RawMessage // serialized user, may be empty
}

// NewCredential builds a Credential and reads the access token expiry.
func NewCredential(accessToken, refreshToken string, user json.RawMessage) Credential {
	c := Credential{
		AccessToken:  strings.TrimSpace(accessToken),
		RefreshToken: strings.TrimSpace(refreshToken),
		User:         user,
	}
	if exp, err := TokenExpiry(c.AccessToken); err == nil {
		c.ExpiresAt = exp
	}
	return c
}

// IsTemporary reports whether the credential cannot be refreshed.
func (c Credential) IsTemporary() bool {
	return c.RefreshToken == ""
}

// Expired reports whether the access token expires within buffer of now.
// A token without a readable expiry counts as expired.
func (c Credential) Expired(now time.Time, buffer time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return !now.Add(buffer).Before(c.ExpiresAt)
}

// TokenExpiry returns the exp claim of a JWT without verifying its
// signature. The server verifies tokens; the client only needs to know
// when to refresh.
func TokenExpiry(token string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}
