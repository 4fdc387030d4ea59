//go:build integration
// +build integration

package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marshallshelly/pebble-integrity/pkg/persistence"
	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/schema"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

// setupPostgres starts a PostgreSQL container and returns an initialized backend.
func setupPostgres(t *testing.T) *persistence.Postgres {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := runtime.Connect(ctx, &runtime.Config{URL: connStr, StatementTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	backend := persistence.NewPostgres(db)
	require.NoError(t, backend.Initialize(ctx))
	require.NoError(t, backend.Initialize(ctx), "Initialize is idempotent")
	return backend
}

// setupRedis starts a Redis container and returns a connected backend.
func setupRedis(t *testing.T) *persistence.Redis {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	backend, err := persistence.NewRedis(ctx, persistence.RedisOptions{Addr: addr, Prefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestBackends(t *testing.T) {
	backends := map[string]func(*testing.T) persistence.Backend{
		"postgres": func(t *testing.T) persistence.Backend { return setupPostgres(t) },
		"redis":    func(t *testing.T) persistence.Backend { return setupRedis(t) },
		"memory":   func(t *testing.T) persistence.Backend { return persistence.NewMemory() },
	}

	for name, setup := range backends {
		t.Run(name, func(t *testing.T) {
			exerciseBackend(t, setup(t))
		})
	}
}

func exerciseBackend(t *testing.T, backend persistence.Backend) {
	ctx := context.Background()

	user := store.Record{
		Kind:    "users",
		Key:     store.IDKey(1),
		Fields:  store.Fields{"id": int64(1), "full_name": "Ada", "phone": nil, "score": int64(9007199254740993)},
		Version: 1,
		Seq:     1,
	}
	profile := store.Record{
		Kind:    "profiles",
		Key:     store.IDKey(1),
		Fields:  store.Fields{"id": int64(1), "user_id": int64(1), "bio": "hi"},
		Version: 1,
		Seq:     1,
	}

	t.Run("apply and load", func(t *testing.T) {
		err := persistence.ApplyChanges(ctx, backend, []store.Change{
			{Action: store.ActionInsert, Kind: "users", Key: user.Key, After: &user},
			{Action: store.ActionInsert, Kind: "profiles", Key: profile.Key, After: &profile},
		})
		require.NoError(t, err)

		got, err := backend.Load(ctx, "users", user.Key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, "Ada", got.Fields["full_name"])
		assert.Nil(t, got.Fields["phone"])

		score, err := schema.Coerce(schema.IntegerType, got.Fields["score"])
		require.NoError(t, err)
		assert.Equal(t, int64(9007199254740993), score, "large integers survive encoding")
	})

	t.Run("list in insertion order", func(t *testing.T) {
		second := user
		second.Key = store.IDKey(2)
		second.Fields = store.Fields{"id": int64(2)}
		second.Seq = 2
		require.NoError(t, backend.Save(ctx, "users", second))

		list, err := backend.List(ctx, "users")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, []store.Key{"1", "2"}, []store.Key{list[0].Key, list[1].Key})
	})

	t.Run("delete cascade group", func(t *testing.T) {
		err := persistence.ApplyChanges(ctx, backend, []store.Change{
			{Action: store.ActionDelete, Kind: "profiles", Key: profile.Key, Before: &profile},
			{Action: store.ActionDelete, Kind: "users", Key: user.Key, Before: &user},
		})
		require.NoError(t, err)

		_, err = backend.Load(ctx, "profiles", profile.Key)
		assert.ErrorIs(t, err, runtime.ErrNotFound)
		_, err = backend.Load(ctx, "users", user.Key)
		assert.ErrorIs(t, err, runtime.ErrNotFound)
	})
}
