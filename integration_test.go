//go:build integration
// +build integration

package pebbleintegrity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/marshallshelly/pebble-integrity/pkg/integrity"
	"github.com/marshallshelly/pebble-integrity/pkg/models"
	"github.com/marshallshelly/pebble-integrity/pkg/persistence"
	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

// setupTestDB creates a PostgreSQL container and returns a connection to it
func setupTestDB(t *testing.T) *runtime.DB {
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

	db, err := runtime.ConnectWithURL(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func openEngine(t *testing.T, db *runtime.DB) *integrity.Engine {
	t.Helper()
	ctx := context.Background()

	reg, err := models.NewRegistry()
	require.NoError(t, err)

	pg := persistence.NewPostgres(db)
	require.NoError(t, pg.Initialize(ctx))
	backend := persistence.WithRetry(pg, persistence.DefaultRetryConfig(), zaptest.NewLogger(t))

	e, err := integrity.Open(ctx, reg, backend, integrity.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return e
}

func TestIntegration_SocialGraph(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	e := openEngine(t, db)

	ada, err := e.Insert(ctx, "users", store.Fields{"full_name": "Ada"})
	require.NoError(t, err)
	grace, err := e.Insert(ctx, "users", store.Fields{"full_name": "Grace"})
	require.NoError(t, err)
	profile, err := e.Insert(ctx, "profiles", store.Fields{"user_id": grace.Fields["id"], "bio": "compilers"})
	require.NoError(t, err)
	post, err := e.Insert(ctx, "posts", store.Fields{"author_id": ada.Fields["id"], "text": "engines"})
	require.NoError(t, err)
	cat, err := e.Insert(ctx, "categories", store.Fields{"name": "history"})
	require.NoError(t, err)
	_, err = e.Link(ctx, "posts", post.Key, "categories", cat.Key)
	require.NoError(t, err)

	t.Run("rejections leave the database untouched", func(t *testing.T) {
		_, err := e.Insert(ctx, "profiles", store.Fields{"user_id": grace.Fields["id"]})
		assert.ErrorIs(t, err, runtime.ErrCardinalityViolation)
		_, err = e.Insert(ctx, "posts", store.Fields{"author_id": int64(404)})
		assert.ErrorIs(t, err, runtime.ErrDanglingReference)
		_, err = e.Link(ctx, "categories", cat.Key, "posts", post.Key)
		assert.ErrorIs(t, err, runtime.ErrDuplicateLink)
		_, err = e.Delete(ctx, "users", ada.Key)
		assert.ErrorIs(t, err, runtime.ErrRestrictedDeletion)

		rep, err := e.Verify(ctx)
		require.NoError(t, err)
		assert.Empty(t, rep.Drift)
		assert.Equal(t, 6, rep.Checked)
	})

	t.Run("cascade reaches the database", func(t *testing.T) {
		_, err := e.Delete(ctx, "users", grace.Key)
		require.NoError(t, err)
		_, err = e.Get(ctx, "profiles", profile.Key)
		assert.ErrorIs(t, err, runtime.ErrNotFound)
	})

	t.Run("restart hydrates the same graph", func(t *testing.T) {
		reopened := openEngine(t, db)

		assert.Equal(t, e.Stats(), reopened.Stats())
		seq, err := reopened.RelatedOf(ctx, "posts", post.Key, "categories")
		require.NoError(t, err)
		var names []any
		for rec := range seq {
			names = append(names, rec.Fields["name"])
		}
		assert.Equal(t, []any{"history"}, names)

		rep, err := reopened.Verify(ctx)
		require.NoError(t, err)
		assert.Empty(t, rep.Drift)

		_, err = reopened.Insert(ctx, "posts", store.Fields{"author_id": grace.Fields["id"]})
		assert.ErrorIs(t, err, runtime.ErrDanglingReference, "deleted parent stays deleted after restart")

		next, err := reopened.Insert(ctx, "users", store.Fields{"full_name": "Barbara"})
		require.NoError(t, err)
		assert.Equal(t, store.Key("3"), next.Key, "deleted ids are not reissued after restart")
	})
}
