// Package store defines where session credentials are persisted.
//
// Backends live in subpackages: memory, file, redis and postgres.
package store

import (
	"context"
	"errors"
	"strings"
)

// Keys used for the persisted session.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

// SessionKeys lists every key cleared on logout.
var SessionKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser}

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("store: key not found")

// CredentialStore is an asynchronous key/value store for session material.
type CredentialStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Lookup reads key and maps absent or corrupt values to ok=false.
// "undefined" and "null" are left behind by clients that persisted a
// missing value as a string.
func Lookup(ctx context.Context, s CredentialStore, key string) (value string, ok bool, err error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	v = strings.TrimSpace(v)
	switch v {
	case "", "undefined", "null":
		return "", false, nil
	}
	return v, true, nil
}

// RemoveAll removes every key, returning the first error.
func RemoveAll(ctx context.Context, s CredentialStore, keys ...string) error {
	var first error
	for _, k := range keys {
		if err := s.Remove(ctx, k); err != nil && first == nil {
			first = err
		}
	}
	return first
}
