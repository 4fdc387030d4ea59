package integrity

import (
	"errors"
	"slices"

	"github.com/marshallshelly/pebble-integrity/pkg/index"
	"github.com/marshallshelly/pebble-integrity/pkg/registry"
	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/schema"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

// txn applies one mutation to private clones of the tables and indexes it
// writes. Nothing it does is visible until the engine publishes the clones.
type txn struct {
	reg      *registry.Registry
	st       *store.Store
	set      *index.Set
	changes  []store.Change
	cascaded map[string]int
}

func (tx *txn) record(ch store.Change) {
	tx.changes = append(tx.changes, ch)
}

// checkReferences fails if any non-null foreign key of rec points at a missing record.
func (tx *txn) checkReferences(rec store.Record, only map[string]any) error {
	meta, err := tx.reg.Entity(rec.Kind)
	if err != nil {
		return err
	}
	for _, fk := range meta.ForeignKeys {
		if only != nil {
			if _, changed := only[fk.Column]; !changed {
				continue
			}
		}
		v := rec.Fields[fk.Column]
		if v == nil {
			continue
		}
		if _, err := tx.st.Get(fk.ReferencedEntity, index.ParentKey(v)); err != nil {
			if errors.Is(err, runtime.ErrNotFound) {
				return &runtime.DanglingReferenceError{
					Kind:           rec.Kind,
					Field:          fk.Column,
					ReferencedKind: fk.ReferencedEntity,
					ReferencedID:   v,
				}
			}
			return err
		}
	}
	return nil
}

func (tx *txn) insert(kind string, fields store.Fields) (store.Record, error) {
	rec, err := tx.st.Insert(kind, fields)
	if err != nil {
		return store.Record{}, err
	}
	if err := tx.checkReferences(rec, nil); err != nil {
		return store.Record{}, err
	}
	if err := tx.set.Add(rec); err != nil {
		return store.Record{}, err
	}
	after := rec
	tx.record(store.Change{Action: store.ActionInsert, Kind: kind, Key: rec.Key, After: &after})
	return rec, nil
}

func (tx *txn) update(kind string, key store.Key, patch store.Fields, expect int64) (store.Record, error) {
	before, err := tx.st.Get(kind, key)
	if err != nil {
		return store.Record{}, err
	}
	if expect > 0 && before.Version != expect {
		return store.Record{}, &runtime.ConcurrentModificationError{
			Kind: kind, Key: string(key), Expected: expect, Actual: before.Version,
		}
	}
	after, err := tx.st.Update(kind, key, patch)
	if err != nil {
		return store.Record{}, err
	}
	if err := tx.checkReferences(after, patch); err != nil {
		return store.Record{}, err
	}
	if err := tx.set.Add(after); err != nil {
		return store.Record{}, err
	}
	a := after
	tx.record(store.Change{Action: store.ActionUpdate, Kind: kind, Key: key, Before: &before, After: &a})
	return after, nil
}

// delete removes kind/key after applying the delete policy of every foreign key
// that references kind. path holds the kinds already on the cascade path.
func (tx *txn) delete(kind string, key store.Key, expect int64, path []string) (store.Record, error) {
	if slices.Contains(path, kind) {
		return store.Record{}, &runtime.CyclicCascadeError{Path: append(slices.Clone(path), kind)}
	}
	rec, err := tx.st.Get(kind, key)
	if err != nil {
		return store.Record{}, err
	}
	if expect > 0 && rec.Version != expect {
		return store.Record{}, &runtime.ConcurrentModificationError{
			Kind: kind, Key: string(key), Expected: expect, Actual: rec.Version,
		}
	}

	refs := tx.reg.Referencing(kind)
	// restrictions first, so a blocked delete fails before any cascade work
	for _, ref := range refs {
		if ref.ForeignKey.EffectiveOnDelete() != schema.Restrict {
			continue
		}
		if deps := tx.dependents(ref, key); len(deps) > 0 {
			return store.Record{}, &runtime.RestrictedDeletionError{
				Kind:          kind,
				Key:           string(key),
				DependentKind: ref.Kind,
				Field:         ref.ForeignKey.Column,
				Dependents:    len(deps),
			}
		}
	}

	path = append(slices.Clip(path), kind)
	for _, ref := range refs {
		switch ref.ForeignKey.EffectiveOnDelete() {
		case schema.Cascade:
			for _, child := range tx.dependents(ref, key) {
				if _, err := tx.delete(ref.Kind, child, 0, path); err != nil {
					if errors.Is(err, runtime.ErrNotFound) {
						continue
					}
					return store.Record{}, err
				}
				tx.cascaded[ref.Kind]++
			}
		case schema.SetNull:
			for _, child := range tx.dependents(ref, key) {
				if _, err := tx.update(ref.Kind, child, store.Fields{ref.ForeignKey.Column: nil}, 0); err != nil {
					return store.Record{}, err
				}
			}
		}
	}

	removed, err := tx.st.Delete(kind, key)
	if err != nil {
		return store.Record{}, err
	}
	tx.set.Remove(removed)
	before := removed
	tx.record(store.Change{Action: store.ActionDelete, Kind: kind, Key: key, Before: &before})
	return removed, nil
}

func (tx *txn) dependents(ref registry.Reference, parent store.Key) []store.Key {
	ix, ok := tx.set.Get(ref.Kind, ref.ForeignKey.Column)
	if !ok {
		return nil
	}
	return ix.Children(parent)
}
