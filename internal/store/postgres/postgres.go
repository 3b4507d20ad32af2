// Package postgres stores credentials in a PostgreSQL table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/inventory-live/internal/store"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "livesync_credentials"

var validTable = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var _ store.CredentialStore = (*Store)(nil)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config configures the store.
type Config struct {
	Table   string
	Profile string // separates sessions sharing one table
}

// Store implements store.CredentialStore on a (profile, key) table.
type Store struct {
	db      DB
	table   string
	profile string
}

// New creates a Store. The table name is validated because it is
// interpolated into SQL.
func New(db DB, cfg Config) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres store: db is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !validTable.MatchString(cfg.Table) {
		return nil, fmt.Errorf("postgres store: invalid table name %q", cfg.Table)
	}
	if cfg.Profile == "" {
		cfg.Profile = "default"
	}
	return &Store{db: db, table: cfg.Table, profile: cfg.Profile}, nil
}

// EnsureSchema creates the credentials table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			profile    TEXT        NOT NULL,
			key        TEXT        NOT NULL,
			value      TEXT        NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (profile, key)
		)
	`, s.table))
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE profile = $1 AND key = $2`, s.table),
		s.profile, key,
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (profile, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (profile, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, s.table), s.profile, key, value)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE profile = $1 AND key = $2`, s.table),
		s.profile, key,
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
