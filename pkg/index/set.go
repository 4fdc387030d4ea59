package index

import (
	"maps"

	"github.com/marshallshelly/pebble-integrity/pkg/schema"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

// Set holds one Index per foreign key of every kind.
type Set struct {
	indexes  map[string]*Index   // "kind.column"
	byChild  map[string][]string // kind -> index ids it owns
	byParent map[string][]string // referenced kind -> index ids pointing at it
}

// NewSet creates empty indexes for all foreign keys of entities.
func NewSet(entities []*schema.EntityMetadata) *Set {
	s := &Set{
		indexes:  make(map[string]*Index),
		byChild:  make(map[string][]string),
		byParent: make(map[string][]string),
	}
	for _, e := range entities {
		for _, fk := range e.ForeignKeys {
			id := indexID(e.Name, fk.Column)
			s.indexes[id] = New(e.Name, fk)
			s.byChild[e.Name] = append(s.byChild[e.Name], id)
			s.byParent[fk.ReferencedEntity] = append(s.byParent[fk.ReferencedEntity], id)
		}
	}
	return s
}

func indexID(kind, column string) string { return kind + "." + column }

// Get returns the index of the foreign key column declared on kind.
func (s *Set) Get(kind, column string) (*Index, bool) {
	ix, ok := s.indexes[indexID(kind, column)]
	return ix, ok
}

// ForChild returns the indexes owned by kind.
func (s *Set) ForChild(kind string) []*Index {
	return s.lookup(s.byChild[kind])
}

// ForParent returns the indexes whose foreign key references kind.
func (s *Set) ForParent(kind string) []*Index {
	return s.lookup(s.byParent[kind])
}

func (s *Set) lookup(ids []string) []*Index {
	out := make([]*Index, len(ids))
	for i, id := range ids {
		out[i] = s.indexes[id]
	}
	return out
}

// Clone returns a set sharing every index except those owned by kinds, which are copied.
func (s *Set) Clone(kinds ...string) *Set {
	c := &Set{
		indexes:  maps.Clone(s.indexes),
		byChild:  s.byChild,
		byParent: s.byParent,
	}
	for _, kind := range kinds {
		for _, id := range s.byChild[kind] {
			c.indexes[id] = s.indexes[id].Clone()
		}
	}
	return c
}

// Adopt replaces the indexes owned by kinds with those held by other.
func (s *Set) Adopt(other *Set, kinds ...string) {
	for _, kind := range kinds {
		for _, id := range s.byChild[kind] {
			s.indexes[id] = other.indexes[id]
		}
	}
}

// Check reports the first cardinality violation adding rec would cause.
func (s *Set) Check(rec store.Record) error {
	for _, ix := range s.ForChild(rec.Kind) {
		if v := rec.Fields[ix.ForeignKey.Column]; v != nil {
			if err := ix.CheckAttach(ParentKey(v), rec.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

// Add attaches rec to the indexes of each non-null foreign key it holds.
func (s *Set) Add(rec store.Record) error {
	if err := s.Check(rec); err != nil {
		return err
	}
	for _, ix := range s.ForChild(rec.Kind) {
		if v := rec.Fields[ix.ForeignKey.Column]; v != nil {
			if err := ix.Attach(ParentKey(v), rec.Key); err != nil {
				return err
			}
		} else {
			ix.Detach(rec.Key)
		}
	}
	return nil
}

// Remove detaches rec from all indexes of its kind.
func (s *Set) Remove(rec store.Record) {
	for _, ix := range s.ForChild(rec.Kind) {
		ix.Detach(rec.Key)
	}
}
