package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port     string `env:"PORT,      default=8081"`
	Env      string `env:"ENV,       default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	Backend BackendConfig
	Session SessionConfig
	Audit   AuditConfig
	Mongo   MongoConfig
	Redis   RedisConfig
}

// BackendConfig points at the upstream MedTrack REST API. BaseURL includes the
// /api prefix.
type BackendConfig struct {
	BaseURL  string        `env:"BACKEND_URL,       default=http://localhost:8080/api"`
	Timeout  time.Duration `env:"BACKEND_TIMEOUT,   default=10s"`
	RetryMax int           `env:"BACKEND_RETRY_MAX, default=2"`
}

type SessionConfig struct {
	KeyPrefix     string        `env:"SESSION_KEY_PREFIX, default=medtrack"`
	StartGuardTTL time.Duration `env:"START_GUARD_TTL,    default=15s"`
}

type AuditConfig struct {
	Workers int `env:"AUDIT_WORKERS, default=4"`
}

type MongoConfig struct {
	URI      string        `env:"MONGO_URI,     default=mongodb://localhost:27017"`
	Database string        `env:"MONGO_DB,      default=medtrack_gateway"`
	Timeout  time.Duration `env:"MONGO_TIMEOUT, default=10s"`
}

type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR,    default=localhost:6379"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB,      default=0"`
	Timeout  time.Duration `env:"REDIS_TIMEOUT, default=5s"`
}

// Load reads configuration from environment variables using go-envconfig.
func Load() *Config {
	cfg, err := load(context.Background(), envconfig.OsLookuper())
	if err != nil {
		panic(fmt.Sprintf("config: failed to load configuration: %v", err))
	}
	return cfg
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, err
	}
	if cfg.Backend.RetryMax < 0 {
		return nil, fmt.Errorf("BACKEND_RETRY_MAX must not be negative")
	}
	if cfg.Audit.Workers <= 0 {
		return nil, fmt.Errorf("AUDIT_WORKERS must be positive")
	}
	return &cfg, nil
}

// IsProduction reports whether the gateway runs behind production TLS.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
