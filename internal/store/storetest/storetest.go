// Package storetest checks the store.CredentialStore contract.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/rickgao/inventory-live/internal/store"
)

// Run exercises s. The store must start empty.
func Run(t *testing.T, s store.CredentialStore) {
	t.Helper()

	t.Run("SetAndGet", func(t *testing.T) {
		testSetAndGet(t, s)
	})

	t.Run("GetNonExistent", func(t *testing.T) {
		testGetNonExistent(t, s)
	})

	t.Run("Overwrite", func(t *testing.T) {
		testOverwrite(t, s)
	})

	t.Run("Remove", func(t *testing.T) {
		testRemove(t, s)
	})

	t.Run("Lookup", func(t *testing.T) {
		testLookup(t, s)
	})
}

func testSetAndGet(t *testing.T, s store.CredentialStore) {
	ctx := context.Background()

	if err := s.Set(ctx, store.KeyAccessToken, "eyJhbGciOi.access"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get(ctx, store.KeyAccessToken)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "eyJhbGciOi.access" {
		t.Errorf("Get = %q, want %q", got, "eyJhbGciOi.access")
	}
}

func testGetNonExistent(t *testing.T, s store.CredentialStore) {
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testOverwrite(t *testing.T, s store.CredentialStore) {
	ctx := context.Background()

	if err := s.Set(ctx, store.KeyRefreshToken, "first"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, store.KeyRefreshToken, "second"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get(ctx, store.KeyRefreshToken)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "second" {
		t.Errorf("Get = %q, want second", got)
	}
}

func testRemove(t *testing.T, s store.CredentialStore) {
	ctx := context.Background()

	if err := s.Set(ctx, store.KeyUser, `{"id":1}`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Remove(ctx, store.KeyUser); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := s.Get(ctx, store.KeyUser); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after Remove, got %v", err)
	}
	if err := s.Remove(ctx, store.KeyUser); err != nil {
		t.Errorf("Remove of absent key failed: %v", err)
	}
}

func testLookup(t *testing.T, s store.CredentialStore) {
	ctx := context.Background()

	if err := s.Set(ctx, store.KeyRefreshToken, "undefined"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok, err := store.Lookup(ctx, s, store.KeyRefreshToken); err != nil || ok {
		t.Errorf("Lookup(undefined) = ok %v, err %v", ok, err)
	}

	if err := store.RemoveAll(ctx, s, store.SessionKeys...); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if _, ok, err := store.Lookup(ctx, s, store.KeyAccessToken); err != nil || ok {
		t.Errorf("Lookup after RemoveAll = ok %v, err %v", ok, err)
	}
}
