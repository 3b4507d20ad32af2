package journal

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultTable is used when the sink table is empty.
const DefaultTable = "livesync_events"

var validTable = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var _ Sink = (*PostgresSink)(nil)

// DB is the subset of *pgxpool.Pool the sink needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresSink appends entries to a table keyed by entry ID.
type PostgresSink struct {
	db    DB
	table string
}

// NewPostgresSink creates a sink. The table name is validated because it
// is interpolated into SQL.
func NewPostgresSink(db DB, table string) (*PostgresSink, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: db is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTable.MatchString(table) {
		return nil, fmt.Errorf("journal: invalid table name %q", table)
	}
	return &PostgresSink{db: db, table: table}, nil
}

// EnsureSchema creates the events table and its index if they do not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          UUID        PRIMARY KEY,
			kind        TEXT        NOT NULL,
			name        TEXT        NOT NULL,
			payload     JSONB       NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)
	`, s.table)); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}

	if _, err := s.db.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %[1]s_name_recorded_at_idx ON %[1]s (name, recorded_at)`, s.table,
	)); err != nil {
		return fmt.Errorf("create index on %s: %w", s.table, err)
	}
	return nil
}

// Write inserts entries using pgx.Batch with ON CONFLICT DO NOTHING.
func (s *PostgresSink) Write(ctx context.Context, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, kind, name, payload, recorded_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		ON CONFLICT (id) DO NOTHING
	`, s.table)

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query, e.ID, e.Kind, e.Name, string(e.Payload), e.RecordedAt)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	written := 0
	for range entries {
		ct, err := results.Exec()
		if err != nil {
			return written, fmt.Errorf("insert into %s: %w", s.table, err)
		}
		written += int(ct.RowsAffected())
	}
	return written, nil
}
