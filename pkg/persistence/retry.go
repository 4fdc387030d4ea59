package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

// RetryConfig bounds the exponential backoff of a retrying backend.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns a short policy suitable for interactive mutations.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsedTime:  5 * time.Second,
	}
}

// Retrying retries transient backend failures with exponential backoff.
// Missing records and caller cancellation are not retried.
type Retrying struct {
	next   Backend
	config RetryConfig
	logger *zap.SugaredLogger
}

// WithRetry wraps next so its calls are retried.
func WithRetry(next Backend, config RetryConfig, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, config: config, logger: logger.Sugar()}
}

func (r *Retrying) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.config.InitialInterval > 0 {
		b.InitialInterval = r.config.InitialInterval
	}
	if r.config.MaxInterval > 0 {
		b.MaxInterval = r.config.MaxInterval
	}
	b.MaxElapsedTime = r.config.MaxElapsedTime
	return backoff.WithContext(b, ctx)
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, runtime.ErrNotFound) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, r.policy(ctx), func(err error, wait time.Duration) {
		r.logger.Warnw("backend call failed, retrying", "op", op, "attempt", attempt, "wait", wait, "error", err)
	})
}

func (r *Retrying) Load(ctx context.Context, kind string, key store.Key) (store.Record, error) {
	var rec store.Record
	err := r.do(ctx, "load", func() error {
		var err error
		rec, err = r.next.Load(ctx, kind, key)
		return err
	})
	return rec, err
}

func (r *Retrying) Save(ctx context.Context, kind string, rec store.Record) error {
	return r.do(ctx, "save", func() error { return r.next.Save(ctx, kind, rec) })
}

func (r *Retrying) Erase(ctx context.Context, kind string, key store.Key) error {
	return r.do(ctx, "erase", func() error { return r.next.Erase(ctx, kind, key) })
}

func (r *Retrying) List(ctx context.Context, kind string) ([]store.Record, error) {
	var records []store.Record
	err := r.do(ctx, "list", func() error {
		var err error
		records, err = r.next.List(ctx, kind)
		return err
	})
	return records, err
}

// Apply retries the whole group; ApplyChanges keeps it atomic or compensated.
func (r *Retrying) Apply(ctx context.Context, changes []store.Change) error {
	return r.do(ctx, "apply", func() error { return ApplyChanges(ctx, r.next, changes) })
}

// Close closes the wrapped backend when it holds connections.
func (r *Retrying) Close() error {
	if c, ok := r.next.(Closer); ok {
		return c.Close()
	}
	return nil
}
