package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Backend.Driver)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, 5*time.Second, cfg.Postgres.StatementTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.InitialInterval)
	assert.True(t, cfg.Retry.Enabled)
	assert.Equal(t, "pebble", cfg.NATS.SubjectPrefix)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("PEBBLE_BACKEND", "redis")
	t.Setenv("PEBBLE_REDIS_ADDR", "cache:6380")
	t.Setenv("PEBBLE_RETRY_MAX_ELAPSED", "2s")
	t.Setenv("PEBBLE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverRedis, cfg.Backend.Driver)
	assert.Equal(t, "cache:6380", cfg.Redis.Options().Addr)
	assert.Equal(t, 2*time.Second, cfg.Retry.Policy().MaxElapsedTime)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pebble.yaml")
	content := `
backend:
  driver: postgres
postgres:
  host: db
  database: social
  user: app
  password: secret
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("PEBBLE_POSTGRES_PASSWORD", "from-env")
	cfg, err := Load(path)
	require.NoError(t, err)

	db := cfg.Postgres.DB()
	assert.Equal(t, "db", db.Host)
	assert.Equal(t, "social", db.Database)
	assert.Equal(t, "from-env", db.Password, "environment overrides the file")
	assert.Equal(t, int32(10), db.MaxConns)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown driver": {"PEBBLE_BACKEND": "sqlite"},
		"bad log level":  {"PEBBLE_LOG_LEVEL": "loud"},
		"redis no addr":  {"PEBBLE_BACKEND": "redis", "PEBBLE_REDIS_ADDR": ""},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_EmptyRedisAddrInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pebble.yaml")
	content := `backend:
  driver: redis
redis:
  addr: ""
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "redis addr is required")
}
