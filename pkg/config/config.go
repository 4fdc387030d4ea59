// Package config loads engine settings from an optional file and PEBBLE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/marshallshelly/pebble-integrity/pkg/persistence"
	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
)

// Backend drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config aggregates engine settings.
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Log      LogConfig      `mapstructure:"log"`
}

type BackendConfig struct {
	Driver string `mapstructure:"driver"`
}

// PostgresConfig contains connection options for PostgreSQL. URL wins over the discrete fields.
type PostgresConfig struct {
	URL              string        `mapstructure:"url"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Database         string        `mapstructure:"database"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	SSLMode          string        `mapstructure:"sslmode"`
	MaxConns         int32         `mapstructure:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// NATSConfig enables the change feed when URL is set.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type RetryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxElapsed      time.Duration `mapstructure:"max_elapsed"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// DB converts the Postgres section to a runtime.Config.
func (p PostgresConfig) DB() *runtime.Config {
	return &runtime.Config{
		URL:              p.URL,
		Host:             p.Host,
		Port:             p.Port,
		Database:         p.Database,
		User:             p.User,
		Password:         p.Password,
		SSLMode:          p.SSLMode,
		MaxConns:         p.MaxConns,
		MinConns:         p.MinConns,
		StatementTimeout: p.StatementTimeout,
	}
}

// Options converts the Redis section to persistence options.
func (r RedisConfig) Options() persistence.RedisOptions {
	return persistence.RedisOptions{Addr: r.Addr, Password: r.Password, DB: r.DB, Prefix: r.Prefix}
}

// Policy converts the retry section to a backoff policy.
func (r RetryConfig) Policy() persistence.RetryConfig {
	return persistence.RetryConfig{
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		MaxElapsedTime:  r.MaxElapsed,
	}
}

// Load reads configuration from path (YAML, TOML or JSON; optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	// A variable set to "" clears the default instead of being ignored.
	v.AllowEmptyEnv(true)
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.driver", DriverMemory)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "postgres")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.sslmode", "prefer")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.statement_timeout", "5s")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "pebble")
	v.SetDefault("nats.subject_prefix", "pebble")
	v.SetDefault("retry.enabled", true)
	v.SetDefault("retry.initial_interval", "50ms")
	v.SetDefault("retry.max_interval", "1s")
	v.SetDefault("retry.max_elapsed", "5s")
	v.SetDefault("log.level", "info")
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"backend.driver":             "PEBBLE_BACKEND",
		"postgres.url":               "PEBBLE_POSTGRES_URL",
		"postgres.host":              "PEBBLE_POSTGRES_HOST",
		"postgres.port":              "PEBBLE_POSTGRES_PORT",
		"postgres.database":          "PEBBLE_POSTGRES_DB",
		"postgres.user":              "PEBBLE_POSTGRES_USER",
		"postgres.password":          "PEBBLE_POSTGRES_PASSWORD",
		"postgres.sslmode":           "PEBBLE_POSTGRES_SSLMODE",
		"postgres.max_conns":         "PEBBLE_POSTGRES_MAX_CONNS",
		"postgres.min_conns":         "PEBBLE_POSTGRES_MIN_CONNS",
		"postgres.statement_timeout": "PEBBLE_POSTGRES_STATEMENT_TIMEOUT",
		"redis.addr":                 "PEBBLE_REDIS_ADDR",
		"redis.password":             "PEBBLE_REDIS_PASSWORD",
		"redis.db":                   "PEBBLE_REDIS_DB",
		"redis.prefix":               "PEBBLE_REDIS_PREFIX",
		"nats.url":                   "PEBBLE_NATS_URL",
		"nats.subject_prefix":        "PEBBLE_NATS_SUBJECT_PREFIX",
		"retry.enabled":              "PEBBLE_RETRY_ENABLED",
		"retry.initial_interval":     "PEBBLE_RETRY_INITIAL_INTERVAL",
		"retry.max_interval":         "PEBBLE_RETRY_MAX_INTERVAL",
		"retry.max_elapsed":          "PEBBLE_RETRY_MAX_ELAPSED",
		"log.level":                  "PEBBLE_LOG_LEVEL",
		"log.development":            "PEBBLE_LOG_DEVELOPMENT",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}
	return nil
}

func validate(cfg Config) error {
	switch cfg.Backend.Driver {
	case DriverMemory:
	case DriverPostgres:
		if cfg.Postgres.URL == "" && cfg.Postgres.Host == "" {
			return errors.New("postgres host or url is required")
		}
		if cfg.Postgres.URL == "" && cfg.Postgres.Port <= 0 {
			return errors.New("postgres port must be positive")
		}
	case DriverRedis:
		if cfg.Redis.Addr == "" {
			return errors.New("redis addr is required")
		}
	default:
		return fmt.Errorf("unknown backend driver %q", cfg.Backend.Driver)
	}
	if cfg.Retry.Enabled && cfg.Retry.MaxElapsed < 0 {
		return errors.New("retry max_elapsed must not be negative")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", cfg.Log.Level)
	}
	return nil
}
