// Package index maintains parent-to-children lookups for every foreign key.
//
// Indexes are derived from the entity store: each foreign key gets one Index
// owned by the kind that declares it. Like store tables, indexes are cloned,
// mutated and then published.
package index

import (
	"maps"
	"slices"

	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/schema"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

// Index tracks the records of Kind that reference each parent through ForeignKey.
type Index struct {
	Kind       string
	ForeignKey schema.ForeignKeyMetadata

	children map[store.Key][]store.Key
	parents  map[store.Key]store.Key
}

// New creates an empty index for a foreign key declared on kind.
func New(kind string, fk schema.ForeignKeyMetadata) *Index {
	return &Index{
		Kind:       kind,
		ForeignKey: fk,
		children:   make(map[store.Key][]store.Key),
		parents:    make(map[store.Key]store.Key),
	}
}

// Unique reports whether a parent may have at most one child (one-to-one).
func (ix *Index) Unique() bool { return ix.ForeignKey.Unique }

// Clone returns an independent copy. Child slices are copied on write, so they are shared.
func (ix *Index) Clone() *Index {
	c := *ix
	c.children = maps.Clone(ix.children)
	c.parents = maps.Clone(ix.parents)
	return &c
}

// CheckAttach reports the error Attach would return, without mutating.
func (ix *Index) CheckAttach(parent, child store.Key) error {
	if !ix.Unique() {
		return nil
	}
	for _, existing := range ix.children[parent] {
		if existing != child {
			return &runtime.CardinalityError{
				Kind:       ix.Kind,
				Field:      ix.ForeignKey.Column,
				ParentKind: ix.ForeignKey.ReferencedEntity,
				ParentKey:  string(parent),
			}
		}
	}
	return nil
}

// Attach records that child references parent, moving it from any previous parent.
func (ix *Index) Attach(parent, child store.Key) error {
	if err := ix.CheckAttach(parent, child); err != nil {
		return err
	}
	if current, ok := ix.parents[child]; ok {
		if current == parent {
			return nil
		}
		ix.Detach(child)
	}
	ix.children[parent] = append(slices.Clip(ix.children[parent]), child)
	ix.parents[child] = parent
	return nil
}

// Detach removes child and returns the parent it referenced.
func (ix *Index) Detach(child store.Key) (store.Key, bool) {
	parent, ok := ix.parents[child]
	if !ok {
		return "", false
	}
	delete(ix.parents, child)
	remaining := slices.DeleteFunc(slices.Clone(ix.children[parent]), func(k store.Key) bool {
		return k == child
	})
	if len(remaining) == 0 {
		delete(ix.children, parent)
	} else {
		ix.children[parent] = remaining
	}
	return parent, true
}

// Children returns the child keys of parent in attach order.
func (ix *Index) Children(parent store.Key) []store.Key {
	return slices.Clone(ix.children[parent])
}

// Count returns the number of children of parent.
func (ix *Index) Count(parent store.Key) int {
	return len(ix.children[parent])
}

// Parent returns the parent referenced by child.
func (ix *Index) Parent(child store.Key) (store.Key, bool) {
	p, ok := ix.parents[child]
	return p, ok
}

// Len returns the number of attached children.
func (ix *Index) Len() int { return len(ix.parents) }

// ParentKey converts a foreign key value into the key of the referenced record.
func ParentKey(value any) store.Key {
	return store.CompositeKey(value)
}
