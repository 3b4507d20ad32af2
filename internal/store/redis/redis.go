// Package redis provides a Redis-backed credential store, for deployments
// where several processes share one session.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/inventory-live/internal/store"
)

var _ store.CredentialStore = (*Store)(nil)

// Config contains configuration options for the Redis store
type Config struct {
	// Client is the Redis client instance
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys
	// Default: "livesync:credentials:"
	KeyPrefix string

	// TTL expires stored values. Zero keeps them forever.
	TTL time.Duration
}

// Store implements store.CredentialStore using Redis strings.
type Store struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// New creates a new Redis-backed store.
func New(config Config) (*Store, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "livesync:credentials:"
	}

	return &Store{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
		ttl:       config.TTL,
	}, nil
}

// Dial connects to addr and pings the server.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.keyPrefix+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
