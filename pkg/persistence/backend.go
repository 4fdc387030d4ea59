// Package persistence connects the engine to durable storage.
package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

// Backend stores records by kind and key.
// Load returns a *runtime.NotFoundError for missing records.
type Backend interface {
	Load(ctx context.Context, kind string, key store.Key) (store.Record, error)
	Save(ctx context.Context, kind string, rec store.Record) error
	Erase(ctx context.Context, kind string, key store.Key) error
	List(ctx context.Context, kind string) ([]store.Record, error)
}

// Batcher is implemented by backends that can commit a group of changes atomically.
type Batcher interface {
	Apply(ctx context.Context, changes []store.Change) error
}

// Closer is implemented by backends holding connections.
type Closer interface {
	Close() error
}

// ApplyChanges writes changes to b as one unit. Batchers commit them atomically;
// other backends get them call by call, and the applied prefix is compensated
// in reverse order when a later call fails.
func ApplyChanges(ctx context.Context, b Backend, changes []store.Change) error {
	if len(changes) == 0 {
		return nil
	}
	if batcher, ok := b.(Batcher); ok {
		return storageError("apply", "", batcher.Apply(ctx, changes))
	}

	for i, ch := range changes {
		if err := applyOne(ctx, b, ch); err != nil {
			for j := i - 1; j >= 0; j-- {
				// best effort; the original error is what the caller needs
				_ = revertOne(context.WithoutCancel(ctx), b, changes[j])
			}
			return storageError(string(ch.Action), ch.Kind, err)
		}
	}
	return nil
}

func applyOne(ctx context.Context, b Backend, ch store.Change) error {
	switch ch.Action {
	case store.ActionInsert, store.ActionUpdate:
		return b.Save(ctx, ch.Kind, *ch.After)
	case store.ActionDelete:
		return b.Erase(ctx, ch.Kind, ch.Key)
	}
	return fmt.Errorf("unknown action %q", ch.Action)
}

func revertOne(ctx context.Context, b Backend, ch store.Change) error {
	switch ch.Action {
	case store.ActionInsert:
		return b.Erase(ctx, ch.Kind, ch.Key)
	case store.ActionUpdate, store.ActionDelete:
		if ch.Before == nil {
			return b.Erase(ctx, ch.Kind, ch.Key)
		}
		return b.Save(ctx, ch.Kind, *ch.Before)
	}
	return nil
}

// storageError wraps err as a *runtime.StorageError unless it already is one
// or reports a missing record.
func storageError(op, kind string, err error) error {
	if err == nil {
		return nil
	}
	var se *runtime.StorageError
	if errors.As(err, &se) || errors.Is(err, runtime.ErrNotFound) {
		return err
	}
	return &runtime.StorageError{Op: op, Kind: kind, Err: err}
}
