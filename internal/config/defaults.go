package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAPIURL      = "http://localhost:3001/api"
	DefaultAPITimeout  = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultClientType  = "cli"
	DefaultDialTimeout = 20 * time.Second

	DefaultReconnectBaseDelay   = 2 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultReconnectMultiplier  = 2.0
	DefaultMaxReconnectAttempts = 5

	DefaultAuthBlockThreshold = 2
	DefaultAuthBlockWindow    = 30 * time.Second
	DefaultAuthBlockCooldown  = 60 * time.Second
	DefaultAuthSignalDebounce = 10 * time.Second

	DefaultExpiryBuffer     = 60 * time.Second
	DefaultFailureDebounce  = 10 * time.Second
	DefaultWatchdogInterval = 5 * time.Second
	DefaultRefreshTimeout   = 15 * time.Second
	DefaultProfileTimeout   = 10 * time.Second

	DefaultStoreDriver   = StoreMemory
	DefaultStoreFilePath = "livesync-credentials.enc"
	DefaultRedisAddr     = "localhost:6379"
	DefaultDBPort        = 5432
	DefaultDBSSLMode     = "prefer"
	DefaultMaxConns      = 4
	DefaultMinConns      = 1

	DefaultJournalTable         = "livesync_events"
	DefaultJournalBatchSize     = 100
	DefaultJournalFlushInterval = 2 * time.Second
	DefaultJournalMaxQueue      = 10000

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultAPIURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Connection defaults
	conn := &c.Connection
	if conn.ClientType == "" {
		conn.ClientType = DefaultClientType
	}
	if conn.DialTimeout == 0 {
		conn.DialTimeout = DefaultDialTimeout
	}
	if conn.ReconnectBaseDelay == 0 {
		conn.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if conn.ReconnectMaxDelay == 0 {
		conn.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if conn.ReconnectMultiplier == 0 {
		conn.ReconnectMultiplier = DefaultReconnectMultiplier
	}
	if conn.MaxReconnectAttempts == 0 {
		conn.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if conn.AuthBlockThreshold == 0 {
		conn.AuthBlockThreshold = DefaultAuthBlockThreshold
	}
	if conn.AuthBlockWindow == 0 {
		conn.AuthBlockWindow = DefaultAuthBlockWindow
	}
	if conn.AuthBlockCooldown == 0 {
		conn.AuthBlockCooldown = DefaultAuthBlockCooldown
	}
	if conn.AuthSignalDebounce == 0 {
		conn.AuthSignalDebounce = DefaultAuthSignalDebounce
	}

	// Auth defaults
	if c.Auth.ExpiryBuffer == 0 {
		c.Auth.ExpiryBuffer = DefaultExpiryBuffer
	}
	if c.Auth.FailureDebounce == 0 {
		c.Auth.FailureDebounce = DefaultFailureDebounce
	}
	if c.Auth.WatchdogInterval == 0 {
		c.Auth.WatchdogInterval = DefaultWatchdogInterval
	}
	if c.Auth.RefreshTimeout == 0 {
		c.Auth.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.Auth.ProfileInterval > 0 && c.Auth.ProfileTimeout == 0 {
		c.Auth.ProfileTimeout = DefaultProfileTimeout
	}

	// Store defaults
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	switch c.Store.Driver {
	case StoreFile:
		if c.Store.File.Path == "" {
			c.Store.File.Path = DefaultStoreFilePath
		}
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			c.Store.Redis.Addr = DefaultRedisAddr
		}
	case StorePostgres:
		applyDBDefaults(&c.Store.Postgres.DBConfig)
	}

	// Journal defaults
	if c.Journal.Enabled {
		j := &c.Journal
		if j.Table == "" {
			j.Table = DefaultJournalTable
		}
		if j.BatchSize == 0 {
			j.BatchSize = DefaultJournalBatchSize
		}
		if j.FlushInterval == 0 {
			j.FlushInterval = DefaultJournalFlushInterval
		}
		if j.MaxQueue == 0 {
			j.MaxQueue = DefaultJournalMaxQueue
		}
		applyDBDefaults(&j.Database)
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
