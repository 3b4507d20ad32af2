package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rickgao/inventory-live/internal/config"
	"github.com/rickgao/inventory-live/internal/database"
	"github.com/rickgao/inventory-live/internal/store"
	"github.com/rickgao/inventory-live/internal/store/file"
	"github.com/rickgao/inventory-live/internal/store/memory"
	"github.com/rickgao/inventory-live/internal/store/postgres"
	redisstore "github.com/rickgao/inventory-live/internal/store/redis"
)

// openStore builds the configured credential store. The returned close
// function releases backend connections.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.CredentialStore, func(), error) {
	noop := func() {}

	switch cfg.Driver {
	case config.StoreMemory:
		logger.Warn("using in-memory credential store, the session will not survive a restart")
		return memory.New(), noop, nil

	case config.StoreFile:
		s, err := file.New(cfg.File.Path, cfg.File.Passphrase)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		logger.Info("using file credential store", "path", cfg.File.Path)
		return s, noop, nil

	case config.StoreRedis:
		client, err := redisstore.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		s, err := redisstore.New(redisstore.Config{
			Client:    client,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		logger.Info("using redis credential store", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		return s, func() { s.Close() }, nil

	case config.StorePostgres:
		logger.Info("connecting to database",
			"host", cfg.Postgres.Host,
			"port", cfg.Postgres.Port,
			"database", cfg.Postgres.Name,
		)
		pool, err := database.Connect(ctx, cfg.Postgres.DBConfig)
		if err != nil {
			return nil, nil, err
		}
		s, err := postgres.New(pool, postgres.Config{Table: cfg.Postgres.Table, Profile: cfg.Postgres.Profile})
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("using postgres credential store", "table", cfg.Postgres.Table)
		return s, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
