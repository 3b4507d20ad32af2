package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/inventory-live/internal/config"
	"github.com/rickgao/inventory-live/internal/database"
	"github.com/rickgao/inventory-live/internal/events"
	"github.com/rickgao/inventory-live/internal/journal"
)

// startJournal connects the event journal to its database and to bus.
// The returned stop function detaches, flushes and closes the pool.
func startJournal(ctx context.Context, cfg config.JournalConfig, bus *events.Bus, logger *slog.Logger) (func(), error) {
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect journal database: %w", err)
	}

	sink, err := journal.NewPostgresSink(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := sink.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	j := journal.New(journal.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		MaxQueue:      cfg.MaxQueue,
		Lifecycle:     cfg.Lifecycle,
	}, sink, journal.WithLogger(logger))

	// The journal outlives ctx so that Stop can still flush after a signal.
	if err := j.Start(context.WithoutCancel(ctx)); err != nil {
		pool.Close()
		return nil, err
	}
	detach := j.Attach(bus)

	return func() {
		detach()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := j.Stop(stopCtx); err != nil {
			logger.Warn("journal did not stop cleanly", "error", err)
		}
		stats := j.Stats()
		logger.Info("journal closed",
			"written", stats.Written,
			"dropped", stats.Queue.Dropped,
			"errors", stats.Errors,
		)
		pool.Close()
	}, nil
}
