package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Connection.URL == "" {
		return errors.New("connection.url is required")
	}
	if err := validateURL("connection.url", c.Connection.URL, "ws", "wss", "http", "https"); err != nil {
		return err
	}
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if err := validateURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	conn := c.Connection
	if conn.ReconnectBaseDelay <= 0 {
		return errors.New("connection.reconnect_base_delay must be > 0")
	}
	if conn.ReconnectMaxDelay < conn.ReconnectBaseDelay {
		return fmt.Errorf("connection.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			conn.ReconnectMaxDelay, conn.ReconnectBaseDelay)
	}
	if conn.ReconnectMultiplier < 1 {
		return fmt.Errorf("connection.reconnect_multiplier must be >= 1, got %g", conn.ReconnectMultiplier)
	}
	if conn.AuthBlockThreshold < 1 {
		return errors.New("connection.auth_block_threshold must be >= 1")
	}

	if c.Auth.WatchdogInterval <= 0 {
		return errors.New("auth.watchdog_interval must be > 0")
	}
	if c.Auth.ExpiryBuffer < 0 {
		return errors.New("auth.expiry_buffer must be >= 0")
	}

	if c.Auth.ProfileInterval < 0 {
		return errors.New("auth.profile_interval must be >= 0")
	}

	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Journal.validate(); err != nil {
		return err
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func (s *StoreConfig) validate() error {
	switch s.Driver {
	case StoreMemory:
	case StoreFile:
		if s.File.Path == "" {
			return errors.New("store.file.path is required")
		}
		if s.File.Passphrase == "" {
			return errors.New("store.file.passphrase is required")
		}
	case StoreRedis:
		if s.Redis.Addr == "" {
			return errors.New("store.redis.addr is required")
		}
		if s.Redis.DB < 0 {
			return errors.New("store.redis.db must be >= 0")
		}
	case StorePostgres:
		return s.Postgres.DBConfig.validate("store.postgres")
	default:
		return fmt.Errorf("store.driver must be one of memory, file, redis, postgres, got %q", s.Driver)
	}
	return nil
}

func (j *JournalConfig) validate() error {
	if !j.Enabled {
		return nil
	}
	if j.BatchSize < 1 {
		return errors.New("journal.batch_size must be >= 1")
	}
	if j.FlushInterval <= 0 {
		return errors.New("journal.flush_interval must be > 0")
	}
	if j.MaxQueue < j.BatchSize {
		return fmt.Errorf("journal.max_queue (%d) cannot be less than batch_size (%d)", j.MaxQueue, j.BatchSize)
	}
	return j.Database.validate("journal.database")
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %s, got %q", field, strings.Join(schemes, ", "), u.Scheme)
}
