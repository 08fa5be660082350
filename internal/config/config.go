package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Backend names accepted in KV_BACKEND.
const (
	BackendAuto   = "auto"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config holds the service configuration. Environment variables are
// parsed with the BOTFORGE_ prefix, e.g. BOTFORGE_PORT, BOTFORGE_REDIS_URL.
type Config struct {
	Port int `envconfig:"PORT" default:"8088"`

	// Persistence backend: redis in production, sqlite for single-node
	// setups, memory for tests. "auto" derives from the URLs below.
	KVBackend  string `envconfig:"KV_BACKEND" default:"auto"`
	RedisURL   string `envconfig:"REDIS_URL" default:""`
	SQLitePath string `envconfig:"SQLITE_PATH" default:""`

	// Key for encrypting bot tokens and other stored secrets at rest.
	SecretsEncryptionKey string `envconfig:"SECRETS_ENCRYPTION_KEY" required:"true"`
	SecretsPerOwner      int    `envconfig:"SECRETS_PER_OWNER" default:"10"`

	Auth           string `envconfig:"AUTH" default:"no_auth"`
	NoAuthUsername string `envconfig:"NO_AUTH_USERNAME" default:"no-auth"`

	// JSON S3 credentials; when empty, media is stored in the KV backend.
	MediaStoreS3Credentials string `envconfig:"MEDIA_STORE_S3_CREDENTIALS" default:""`

	MaxCachedTelegramFiles int `envconfig:"MAX_CACHED_TELEGRAM_FILES" default:"1024"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// ResolveDefaults derives the KV backend from the configured URLs when
// set to "auto" and validates the final choice.
func (c *Config) ResolveDefaults() error {
	if c.KVBackend == "" || c.KVBackend == BackendAuto {
		switch {
		case c.RedisURL != "":
			c.KVBackend = BackendRedis
		case c.SQLitePath != "":
			c.KVBackend = BackendSQLite
		default:
			c.KVBackend = BackendMemory
		}
	}
	switch c.KVBackend {
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis backend requires REDIS_URL")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite backend requires SQLITE_PATH")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unsupported KV_BACKEND: %s", c.KVBackend)
	}
	if c.Auth != "no_auth" {
		return fmt.Errorf("unsupported AUTH: %s", c.Auth)
	}
	return nil
}

// New parses the configuration from BOTFORGE_-prefixed environment
// variables.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("BOTFORGE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewForTesting returns an in-memory configuration for tests.
func NewForTesting() *Config {
	return &Config{
		Port:                   8088,
		KVBackend:              BackendMemory,
		SecretsEncryptionKey:   "testing-key",
		SecretsPerOwner:        10,
		Auth:                   "no_auth",
		NoAuthUsername:         "no-auth",
		MaxCachedTelegramFiles: 16,
		LogLevel:               "debug",
	}
}
