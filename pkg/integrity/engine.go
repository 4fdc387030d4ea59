// Package integrity validates every mutation against the schema and commits the
// entity store, the relationship indexes and the persistence backend as one unit.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/marshallshelly/pebble-integrity/pkg/events"
	"github.com/marshallshelly/pebble-integrity/pkg/index"
	"github.com/marshallshelly/pebble-integrity/pkg/persistence"
	"github.com/marshallshelly/pebble-integrity/pkg/registry"
	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/schema"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

// Engine is safe for concurrent use. Mutations touching disjoint kinds run in
// parallel; readers see the last published snapshot.
type Engine struct {
	reg       *registry.Registry
	backend   persistence.Backend
	publisher events.Publisher
	log       *zap.SugaredLogger
	locks     *locks

	mu    sync.RWMutex // guards the published snapshot
	store *store.Store
	index *index.Set
}

// Open builds an engine over a frozen registry and hydrates it from backend.
// It refuses to start if the persisted records break referential integrity.
func Open(ctx context.Context, reg *registry.Registry, backend persistence.Backend, opts ...Option) (*Engine, error) {
	if !reg.IsFrozen() {
		return nil, errors.New("integrity: registry must be frozen")
	}
	if backend == nil {
		backend = persistence.NewMemory()
	}

	e := &Engine{
		reg:       reg,
		backend:   backend,
		publisher: events.Nop{},
		log:       zap.NewNop().Sugar(),
		locks:     newLocks(reg.Kinds()),
		store:     store.New(reg.All()),
		index:     index.NewSet(reg.All()),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.hydrate(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) hydrate(ctx context.Context) error {
	kinds := e.reg.TopologicalOrder()
	loaded := make([][]store.Record, len(kinds))

	var marks []store.Record

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			records, err := e.backend.List(gctx, kind)
			if err != nil {
				return err
			}
			loaded[i] = records
			return nil
		})
	}
	g.Go(func() error {
		var err error
		marks, err = e.backend.List(gctx, store.SequenceKind)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}

	tx := &txn{reg: e.reg, st: e.store, set: e.index}
	for i, kind := range kinds {
		for _, rec := range loaded[i] {
			rec.Kind = kind
			restored, err := e.store.Restore(rec)
			if err != nil {
				return fmt.Errorf("hydrate %s %s: %w", kind, rec.Key, err)
			}
			if err := tx.checkReferences(restored, nil); err != nil {
				return fmt.Errorf("hydrate %s %s: %w", kind, rec.Key, err)
			}
			if err := e.index.Add(restored); err != nil {
				return fmt.Errorf("hydrate %s %s: %w", kind, rec.Key, err)
			}
		}
		if n := len(loaded[i]); n > 0 {
			e.log.Infow("hydrated kind", "kind", kind, "records", n)
		}
	}

	for _, rec := range marks {
		kind, id, seq, err := store.ParseSequence(rec)
		if err != nil {
			return fmt.Errorf("hydrate: %w", err)
		}
		table, err := e.store.Table(kind)
		if err != nil {
			e.log.Warnw("ignoring sequence of unregistered kind", "kind", kind)
			continue
		}
		table.Advance(id, seq)
	}
	return nil
}

// sequenceChanges returns one sequence record per write kind whose id or
// ordinal advanced between before and after.
func sequenceChanges(before, after *store.Store, kinds []string) []store.Change {
	var out []store.Change
	for _, kind := range kinds {
		prev, err := before.Table(kind)
		if err != nil {
			continue
		}
		next, err := after.Table(kind)
		if err != nil {
			continue
		}
		prevID, prevSeq := prev.Sequences()
		nextID, nextSeq := next.Sequences()
		if prevID == nextID && prevSeq == nextSeq {
			continue
		}

		mark := store.SequenceRecord(kind, nextID, nextSeq)
		ch := store.Change{Action: store.ActionUpdate, Kind: store.SequenceKind, Key: mark.Key, After: &mark}
		if prevID > 0 || prevSeq > 0 {
			old := store.SequenceRecord(kind, prevID, prevSeq)
			ch.Before = &old
		}
		out = append(out, ch)
	}
	return out
}

// Registry returns the registry the engine enforces.
func (e *Engine) Registry() *registry.Registry { return e.reg }

func (e *Engine) snapshot() (*store.Store, *index.Set) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store, e.index
}

// parents returns the kinds referenced by the foreign keys of kind.
func (e *Engine) parents(meta *schema.EntityMetadata) []string {
	out := make([]string, 0, len(meta.ForeignKeys))
	for _, fk := range meta.ForeignKeys {
		out = append(out, fk.ReferencedEntity)
	}
	return out
}

// mutate runs fn against clones of the write kinds, persists the resulting
// changes and publishes the clones. On any error nothing becomes visible.
func (e *Engine) mutate(ctx context.Context, m *mutation, locks lockSet, fn func(*txn) error) error {
	if err := ctx.Err(); err != nil {
		return m.finish(&runtime.StorageError{Op: m.Op, Kind: m.Kind, Err: err})
	}

	release, err := e.locks.acquire(ctx, locks)
	if err != nil {
		return m.finish(&runtime.StorageError{Op: "lock", Kind: m.Kind, Err: err})
	}
	m.advance(StateValidating)

	st, set := e.snapshot()
	work, err := st.Clone(locks.write...)
	if err != nil {
		release()
		return m.finish(err)
	}
	tx := &txn{
		reg:      e.reg,
		st:       work,
		set:      set.Clone(locks.write...),
		cascaded: make(map[string]int),
	}
	if err := fn(tx); err != nil {
		release()
		return m.finish(err)
	}
	m.Changes = tx.changes
	m.advance(StateApplying)

	persisted := append(slices.Clone(tx.changes), sequenceChanges(st, work, locks.write)...)
	if err := persistence.ApplyChanges(ctx, e.backend, persisted); err != nil {
		release()
		e.log.Warnw("persist failed", "mutation", m.ID, "error", err)
		return m.finish(err)
	}

	e.mu.Lock()
	nextStore, _ := e.store.Clone()
	nextStore.Adopt(tx.st, locks.write...)
	nextIndex := e.index.Clone()
	nextIndex.Adopt(tx.set, locks.write...)
	e.store, e.index = nextStore, nextIndex
	e.mu.Unlock()
	release()

	for kind, n := range tx.cascaded {
		cascadeDeletesTotal.WithLabelValues(kind).Add(float64(n))
		m.log.Debugw("cascaded", "child_kind", kind, "records", n)
	}
	if err := e.publisher.Publish(ctx, m.ID, tx.changes); err != nil {
		e.log.Errorw("publish failed", "mutation", m.ID, "error", err)
	}
	return m.finish(nil)
}

// Insert validates fields, checks every foreign key and cardinality bound,
// and stores a new record of kind.
func (e *Engine) Insert(ctx context.Context, kind string, fields store.Fields) (store.Record, error) {
	m := newMutation(e.log, "insert", kind, "")
	meta, err := e.reg.Entity(kind)
	if err != nil {
		return store.Record{}, m.finish(err)
	}

	var rec store.Record
	err = e.mutate(ctx, m, newLockSet([]string{kind}, e.parents(meta)), func(tx *txn) error {
		var err error
		rec, err = tx.insert(kind, fields)
		if err == nil {
			m.Key = rec.Key
		}
		return err
	})
	return rec, err
}

// Get returns the published record of kind under key.
func (e *Engine) Get(ctx context.Context, kind string, key store.Key) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, &runtime.StorageError{Op: "get", Kind: kind, Err: err}
	}
	st, _ := e.snapshot()
	return st.Get(kind, key)
}

// Scan yields the records of kind matching pred, in insertion order, from the
// snapshot current at the call.
func (e *Engine) Scan(ctx context.Context, kind string, pred func(store.Record) bool) (iter.Seq[store.Record], error) {
	if err := ctx.Err(); err != nil {
		return nil, &runtime.StorageError{Op: "scan", Kind: kind, Err: err}
	}
	st, _ := e.snapshot()
	return st.Scan(kind, pred)
}

// Update applies a partial update. Changed foreign keys are re-verified and
// the relationship indexes re-pointed.
func (e *Engine) Update(ctx context.Context, kind string, key store.Key, fields store.Fields, opts ...WriteOption) (store.Record, error) {
	o := collectWriteOptions(opts)
	m := newMutation(e.log, "update", kind, key)
	meta, err := e.reg.Entity(kind)
	if err != nil {
		return store.Record{}, m.finish(err)
	}

	var rec store.Record
	err = e.mutate(ctx, m, newLockSet([]string{kind}, e.parents(meta)), func(tx *txn) error {
		var err error
		rec, err = tx.update(kind, key, fields, o.expectVersion)
		return err
	})
	return rec, err
}

// Delete removes a record, applying the delete policy of every relationship
// that references its kind: cascading, restricting or nulling dependents.
func (e *Engine) Delete(ctx context.Context, kind string, key store.Key, opts ...WriteOption) (store.Record, error) {
	o := collectWriteOptions(opts)
	m := newMutation(e.log, "delete", kind, key)
	if _, err := e.reg.Entity(kind); err != nil {
		return store.Record{}, m.finish(err)
	}

	var rec store.Record
	err := e.mutate(ctx, m, newLockSet(e.reg.DeleteClosure(kind), nil), func(tx *txn) error {
		var err error
		rec, err = tx.delete(kind, key, o.expectVersion, nil)
		return err
	})
	return rec, err
}

// Link inserts the junction record joining fromKind/fromKey and toKind/toKey.
func (e *Engine) Link(ctx context.Context, fromKind string, fromKey store.Key, toKind string, toKey store.Key) (store.Record, error) {
	rel, err := e.reg.ManyToMany(fromKind, toKind)
	if err != nil {
		m := newMutation(e.log, "link", fromKind, fromKey)
		return store.Record{}, m.finish(err)
	}
	m := newMutation(e.log, "link", rel.JoinEntity, "")

	var rec store.Record
	err = e.mutate(ctx, m, newLockSet([]string{rel.JoinEntity}, []string{fromKind, toKind}), func(tx *txn) error {
		fields := store.Fields{}
		for _, end := range []struct {
			column string
			kind   string
			key    store.Key
		}{
			{rel.JoinForeignKey, fromKind, fromKey},
			{rel.JoinReferences, toKind, toKey},
		} {
			v, err := tx.referenceValue(rel.JoinEntity, end.column, end.kind, end.key)
			if err != nil {
				return err
			}
			fields[end.column] = v
		}
		var err error
		rec, err = tx.insert(rel.JoinEntity, fields)
		if err == nil {
			m.Key = rec.Key
		}
		return err
	})
	return rec, err
}

// Unlink deletes the junction record joining the two records.
func (e *Engine) Unlink(ctx context.Context, fromKind string, fromKey store.Key, toKind string, toKey store.Key) error {
	rel, err := e.reg.ManyToMany(fromKind, toKind)
	if err != nil {
		m := newMutation(e.log, "unlink", fromKind, fromKey)
		return m.finish(err)
	}
	join, err := e.reg.Entity(rel.JoinEntity)
	if err != nil {
		return err
	}

	parts := make([]any, len(join.PrimaryKey))
	for i, col := range join.PrimaryKey {
		switch col {
		case rel.JoinForeignKey:
			parts[i] = fromKey
		case rel.JoinReferences:
			parts[i] = toKey
		}
	}
	key := store.CompositeKey(parts...)

	m := newMutation(e.log, "unlink", rel.JoinEntity, key)
	return e.mutate(ctx, m, newLockSet(e.reg.DeleteClosure(rel.JoinEntity), nil), func(tx *txn) error {
		_, err := tx.delete(rel.JoinEntity, key, 0, nil)
		return err
	})
}

// referenceValue returns the identity value a foreign key column of kind must
// hold to reference parentKind/parentKey.
func (tx *txn) referenceValue(kind, column, parentKind string, parentKey store.Key) (any, error) {
	parent, err := tx.st.Get(parentKind, parentKey)
	if err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return nil, &runtime.DanglingReferenceError{
				Kind:           kind,
				Field:          column,
				ReferencedKind: parentKind,
				ReferencedID:   string(parentKey),
			}
		}
		return nil, err
	}
	meta, err := tx.reg.Entity(kind)
	if err != nil {
		return nil, err
	}
	fk, ok := meta.ForeignKey(column)
	if !ok {
		return nil, fmt.Errorf("%s.%s is not a foreign key", kind, column)
	}
	return parent.Fields[fk.ReferencedColumn], nil
}

// RelatedOf yields the records reachable from kind/key over the named relationship.
func (e *Engine) RelatedOf(ctx context.Context, kind string, key store.Key, relationship string, opts ...index.Option) (iter.Seq[store.Record], error) {
	if err := ctx.Err(); err != nil {
		return nil, &runtime.StorageError{Op: "related", Kind: kind, Err: err}
	}
	rel, err := e.reg.Relationship(kind, relationship)
	if err != nil {
		return nil, err
	}
	st, set := e.snapshot()
	if _, err := st.Get(kind, key); err != nil {
		return nil, err
	}
	return index.Related(st, set, rel, key, opts...)
}

// Stats returns the record count of every kind.
func (e *Engine) Stats() map[string]int {
	st, _ := e.snapshot()
	out := make(map[string]int)
	for _, kind := range e.reg.Kinds() {
		out[kind] = st.Len(kind)
	}
	return out
}

// Drift is one disagreement between memory and the backend.
type Drift struct {
	Kind   string
	Key    store.Key
	Reason string // "missing", "stale" or "unexpected"
}

// Report is the result of Verify.
type Report struct {
	Checked int
	Drift   []Drift
}

// Verify compares the published snapshot with the backend, kind by kind.
func (e *Engine) Verify(ctx context.Context) (Report, error) {
	st, _ := e.snapshot()
	kinds := e.reg.Kinds()
	drift := make([][]Drift, len(kinds))
	checked := make([]int, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, kind := range kinds {
		g.Go(func() error {
			seen := make(map[store.Key]bool)
			records, err := st.Scan(kind, nil)
			if err != nil {
				return err
			}
			for rec := range records {
				seen[rec.Key] = true
				checked[i]++
				stored, err := e.backend.Load(gctx, kind, rec.Key)
				switch {
				case errors.Is(err, runtime.ErrNotFound):
					drift[i] = append(drift[i], Drift{Kind: kind, Key: rec.Key, Reason: "missing"})
				case err != nil:
					return err
				case stored.Version != rec.Version:
					drift[i] = append(drift[i], Drift{Kind: kind, Key: rec.Key, Reason: "stale"})
				}
			}

			persisted, err := e.backend.List(gctx, kind)
			if err != nil {
				return err
			}
			for _, rec := range persisted {
				if !seen[rec.Key] {
					drift[i] = append(drift[i], Drift{Kind: kind, Key: rec.Key, Reason: "unexpected"})
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("verify: %w", err)
	}

	var report Report
	for i := range kinds {
		report.Checked += checked[i]
		report.Drift = append(report.Drift, drift[i]...)
	}
	if len(report.Drift) > 0 {
		e.log.Warnw("backend drift detected", "records", len(report.Drift))
	}
	return report, nil
}

// Close releases the backend if it holds connections.
func (e *Engine) Close() error {
	if c, ok := e.backend.(persistence.Closer); ok {
		return c.Close()
	}
	return nil
}

// InsertModel stores model and fills in its generated identity.
func InsertModel[T any](ctx context.Context, e *Engine, model *T) (store.Record, error) {
	meta, err := e.reg.EntityOf(model)
	if err != nil {
		return store.Record{}, err
	}
	fields, err := schema.ToFields(meta, model)
	if err != nil {
		return store.Record{}, err
	}
	rec, err := e.Insert(ctx, meta.Name, fields)
	if err != nil {
		return store.Record{}, err
	}
	if err := schema.FromFields(meta, rec.Fields, model); err != nil {
		return store.Record{}, err
	}
	return rec, nil
}

// GetModel loads the record under key into a new T.
func GetModel[T any](ctx context.Context, e *Engine, key store.Key) (*T, error) {
	meta, err := e.reg.EntityOf(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	rec, err := e.Get(ctx, meta.Name, key)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := schema.FromFields(meta, rec.Fields, out); err != nil {
		return nil, err
	}
	return out, nil
}
