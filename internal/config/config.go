package config

import "time"

// Config is the root configuration for a livesync client.
type Config struct {
	API        APIConfig        `yaml:"api"`
	Connection ConnectionConfig `yaml:"connection"`
	Auth       AuthConfig       `yaml:"auth"`
	Store      StoreConfig      `yaml:"store"`
	Journal    JournalConfig    `yaml:"journal"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"` // e.g. https://inventario.example.com/api
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ConnectionConfig holds real-time channel settings.
type ConnectionConfig struct {
	URL          string        `yaml:"url"`
	ClientType   string        `yaml:"client_type"`
	Path         string        `yaml:"path"`
	Namespace    string        `yaml:"namespace"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMultiplier  float64       `yaml:"reconnect_multiplier"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // negative = unlimited

	AuthBlockThreshold int           `yaml:"auth_block_threshold"`
	AuthBlockWindow    time.Duration `yaml:"auth_block_window"`
	AuthBlockCooldown  time.Duration `yaml:"auth_block_cooldown"`
	AuthSignalDebounce time.Duration `yaml:"auth_signal_debounce"`
}

// AuthConfig holds credential lifecycle settings.
type AuthConfig struct {
	ExpiryBuffer     time.Duration `yaml:"expiry_buffer"`
	FailureDebounce  time.Duration `yaml:"failure_debounce"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	RefreshTimeout   time.Duration `yaml:"refresh_timeout"`
	ProfileInterval  time.Duration `yaml:"profile_interval"` // 0 disables the profile check
	ProfileTimeout   time.Duration `yaml:"profile_timeout"`
}

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// StoreConfig selects and configures the credential store.
type StoreConfig struct {
	Driver   string              `yaml:"driver"`
	File     FileStoreConfig     `yaml:"file"`
	Redis    RedisStoreConfig    `yaml:"redis"`
	Postgres PostgresStoreConfig `yaml:"postgres"`
}

// FileStoreConfig configures the encrypted file store.
type FileStoreConfig struct {
	Path       string `yaml:"path"`
	Passphrase string `yaml:"passphrase"`
}

// RedisStoreConfig configures the Redis store.
type RedisStoreConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// PostgresStoreConfig configures the Postgres store.
type PostgresStoreConfig struct {
	DBConfig `yaml:",inline"`
	Table    string `yaml:"table"`
	Profile  string `yaml:"profile"`
}

// JournalConfig configures the optional event journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Lifecycle     bool          `yaml:"lifecycle"` // also record connection and session events
	Table         string        `yaml:"table"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxQueue      int           `yaml:"max_queue"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
