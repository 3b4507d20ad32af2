package api

import (
	"context"
	"errors"
	"fmt"
)

// ErrMissingTokens is returned when a successful response lacks tokens.
var ErrMissingTokens = errors.New("response missing tokens")

// Login exchanges an email (or username) and password for a session.
func (c *Client) Login(ctx context.Context, identifier, password string) (*Session, error) {
	var s Session
	if err := c.post(ctx, "/auth/login", loginRequest{Email: identifier, Password: password}, &s); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if s.AccessToken == "" || s.RefreshToken == "" {
		return nil, fmt.Errorf("login: %w", ErrMissingTokens)
	}
	return &s, nil
}

// Refresh exchanges a refresh token for a new token pair. It is never
// retried: the server rotates the refresh token, so a retry after a lost
// response would present a spent token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var tp TokenPair
	if err := c.postOnce(ctx, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, &tp); err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if tp.AccessToken == "" {
		return nil, fmt.Errorf("refresh: %w", ErrMissingTokens)
	}
	return &tp, nil
}

// Logout revokes a refresh token on the server.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	if err := c.post(ctx, "/auth/logout", refreshRequest{RefreshToken: refreshToken}, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Profile returns the user the access token belongs to.
func (c *Client) Profile(ctx context.Context, accessToken string) (*User, error) {
	var u User
	if err := c.get(ctx, "/auth/perfil", accessToken, &u); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	return &u, nil
}
