package integrity

import (
	"go.uber.org/zap"

	"github.com/marshallshelly/pebble-integrity/pkg/events"
	"github.com/marshallshelly/pebble-integrity/pkg/index"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.log = logger.Sugar().Named("integrity")
		}
	}
}

// WithPublisher sends committed changes to p.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

type writeOptions struct {
	expectVersion int64
}

// WriteOption adjusts a single Update or Delete.
type WriteOption func(*writeOptions)

// ExpectVersion fails the write with a ConcurrentModificationError unless the
// record is still at version v.
func ExpectVersion(v int64) WriteOption {
	return func(o *writeOptions) { o.expectVersion = v }
}

func collectWriteOptions(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SortBy orders RelatedOf results by field.
func SortBy(field string, desc bool) index.Option {
	return index.SortBy(field, desc)
}
