package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expands environment variables and applies
// the LIVESYNC_* overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a config from defaults and LIVESYNC_* variables only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// envOverrides are the variables that win over the file.
type envOverrides struct {
	WSURL           string `env:"LIVESYNC_WS_URL"`
	APIURL          string `env:"LIVESYNC_API_URL"`
	ClientType      string `env:"LIVESYNC_CLIENT_TYPE"`
	StoreDriver     string `env:"LIVESYNC_STORE_DRIVER"`
	StorePassphrase string `env:"LIVESYNC_STORE_PASSPHRASE"`
	RedisAddr       string `env:"LIVESYNC_REDIS_ADDR"`
	LogLevel        string `env:"LIVESYNC_LOG_LEVEL"`
	LogFormat       string `env:"LIVESYNC_LOG_FORMAT"`
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return fmt.Errorf("decode environment: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Connection.URL, env.WSURL)
	set(&c.API.BaseURL, env.APIURL)
	set(&c.Connection.ClientType, env.ClientType)
	set(&c.Store.Driver, env.StoreDriver)
	set(&c.Store.File.Passphrase, env.StorePassphrase)
	set(&c.Store.Redis.Addr, env.RedisAddr)
	set(&c.Logging.Level, env.LogLevel)
	set(&c.Logging.Format, env.LogFormat)
	return nil
}
