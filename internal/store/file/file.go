// Package file persists credentials in a YAML file, optionally sealed
// with NaCl secretbox under a key derived from a passphrase.
package file

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
	"gopkg.in/yaml.v3"

	"github.com/rickgao/inventory-live/internal/store"
)

const nonceSize = 24

// ErrDecrypt is returned when the file cannot be opened with the passphrase.
var ErrDecrypt = errors.New("file store: decryption failed")

var _ store.CredentialStore = (*Store)(nil)

// Store is a file-backed credential store. Every write rewrites the whole
// file through a temporary file and rename.
type Store struct {
	path string
	key  *[32]byte // nil = plaintext

	mu sync.Mutex
}

// New creates a Store at path. A non-empty passphrase enables encryption.
func New(path, passphrase string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("file store: path is required")
	}

	s := &Store{path: path}
	if passphrase != "" {
		key, err := deriveKey(passphrase)
		if err != nil {
			return nil, err
		}
		s.key = key
	}
	return s, nil
}

func deriveKey(passphrase string) (*[32]byte, error) {
	h := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("livesync-credentials"))
	var key [32]byte
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &key, nil
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := data[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	data[key] = value
	return s.save(data)
}

func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	return s.save(data)
}

func (s *Store) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	if s.key != nil {
		raw, err = s.open(raw)
		if err != nil {
			return nil, err
		}
	}

	data := make(map[string]string)
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	return data, nil
}

func (s *Store) save(data map[string]string) error {
	raw, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	if s.key != nil {
		raw, err = s.seal(raw)
		if err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credentials: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace credentials file: %w", err)
	}
	return nil
}

func (s *Store) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, s.key), nil
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, s.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}
