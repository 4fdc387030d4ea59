package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

func record(kind string, id int64, seq int64) store.Record {
	return store.Record{
		Kind:    kind,
		Key:     store.IDKey(id),
		Fields:  store.Fields{"id": id, "name": "n"},
		Version: 1,
		Seq:     seq,
	}
}

func insertChange(rec store.Record) store.Change {
	return store.Change{Action: store.ActionInsert, Kind: rec.Kind, Key: rec.Key, After: &rec}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Save(ctx, "users", record("users", 2, 2)))
	require.NoError(t, m.Save(ctx, "users", record("users", 1, 1)))

	got, err := m.Load(ctx, "users", "1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Fields["id"])

	list, err := m.List(ctx, "users")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, store.Key("1"), list[0].Key, "listed by insertion ordinal")

	require.NoError(t, m.Erase(ctx, "users", "1"))
	_, err = m.Load(ctx, "users", "1")
	assert.ErrorIs(t, err, runtime.ErrNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = m.Save(cancelled, "users", record("users", 3, 3))
	assert.ErrorIs(t, err, runtime.ErrStorageUnavailable)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"users"}, m.Kinds())
}

// flaky wraps Memory and fails the nth Save or Erase call (1-based), or every call
// while down is set. It deliberately does not implement Batcher.
type flaky struct {
	mu     sync.Mutex
	inner  *Memory
	calls  int
	failOn int
	down   int // remaining calls to fail
}

func (f *flaky) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.down > 0 {
		f.down--
		return errors.New("connection refused")
	}
	if f.calls == f.failOn {
		return errors.New("connection reset")
	}
	return nil
}

func (f *flaky) Load(ctx context.Context, kind string, key store.Key) (store.Record, error) {
	if err := f.fail(); err != nil {
		return store.Record{}, err
	}
	return f.inner.Load(ctx, kind, key)
}

func (f *flaky) Save(ctx context.Context, kind string, rec store.Record) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.inner.Save(ctx, kind, rec)
}

func (f *flaky) Erase(ctx context.Context, kind string, key store.Key) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.inner.Erase(ctx, kind, key)
}

func (f *flaky) List(ctx context.Context, kind string) ([]store.Record, error) {
	return f.inner.List(ctx, kind)
}

func TestApplyChanges(t *testing.T) {
	ctx := context.Background()

	t.Run("batcher commits all", func(t *testing.T) {
		m := NewMemory()
		err := ApplyChanges(ctx, m, []store.Change{
			insertChange(record("users", 1, 1)),
			insertChange(record("profiles", 1, 1)),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"profiles", "users"}, m.Kinds())
	})

	t.Run("sequential failure is compensated", func(t *testing.T) {
		inner := NewMemory()
		existing := record("users", 1, 1)
		require.NoError(t, inner.Save(ctx, "users", existing))

		updated := existing
		updated.Fields = store.Fields{"id": int64(1), "name": "changed"}
		updated.Version = 2

		f := &flaky{inner: inner, failOn: 3}
		err := ApplyChanges(ctx, f, []store.Change{
			{Action: store.ActionUpdate, Kind: "users", Key: "1", Before: &existing, After: &updated},
			insertChange(record("posts", 5, 1)),
			{Action: store.ActionDelete, Kind: "users", Key: "1", Before: &updated},
		})

		require.ErrorIs(t, err, runtime.ErrStorageUnavailable)
		var se *runtime.StorageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "delete", se.Op)

		got, err := inner.Load(ctx, "users", "1")
		require.NoError(t, err)
		assert.Equal(t, "n", got.Fields["name"], "update rolled back")
		_, err = inner.Load(ctx, "posts", "5")
		assert.ErrorIs(t, err, runtime.ErrNotFound, "insert rolled back")
	})

	t.Run("empty is a no-op", func(t *testing.T) {
		assert.NoError(t, ApplyChanges(ctx, &flaky{inner: NewMemory(), down: 10}, nil))
	})
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()
	fast := RetryConfig{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxElapsedTime: time.Second}

	t.Run("transient errors are retried", func(t *testing.T) {
		f := &flaky{inner: NewMemory(), down: 2}
		r := WithRetry(f, fast, nil)

		require.NoError(t, r.Save(ctx, "users", record("users", 1, 1)))
		assert.Equal(t, 3, f.calls)

		rec, err := r.Load(ctx, "users", "1")
		require.NoError(t, err)
		assert.Equal(t, store.Key("1"), rec.Key)
	})

	t.Run("not found is permanent", func(t *testing.T) {
		f := &flaky{inner: NewMemory()}
		r := WithRetry(f, fast, nil)

		_, err := r.Load(ctx, "users", "9")
		assert.ErrorIs(t, err, runtime.ErrNotFound)
		assert.Equal(t, 1, f.calls)
	})

	t.Run("gives up after max elapsed time", func(t *testing.T) {
		f := &flaky{inner: NewMemory(), down: 1 << 20}
		r := WithRetry(f, RetryConfig{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxElapsedTime: 20 * time.Millisecond}, nil)

		err := r.Apply(ctx, []store.Change{insertChange(record("users", 1, 1))})
		assert.ErrorIs(t, err, runtime.ErrStorageUnavailable)
	})
}
