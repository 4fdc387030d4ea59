package store

import (
	"iter"
	"maps"
	"slices"

	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/schema"
)

// Store is the set of tables for all kinds.
type Store struct {
	tables map[string]*Table
}

// New creates an empty table for each entity.
func New(entities []*schema.EntityMetadata) *Store {
	s := &Store{tables: make(map[string]*Table, len(entities))}
	for _, e := range entities {
		s.tables[e.Name] = NewTable(e)
	}
	return s
}

// Table returns the table of kind.
func (s *Store) Table(kind string) (*Table, error) {
	t, ok := s.tables[kind]
	if !ok {
		return nil, &runtime.UnknownEntityKindError{Kind: kind}
	}
	return t, nil
}

// Clone returns a store sharing every table except those of kinds, which are copied.
func (s *Store) Clone(kinds ...string) (*Store, error) {
	c := &Store{tables: maps.Clone(s.tables)}
	for _, kind := range kinds {
		t, err := s.Table(kind)
		if err != nil {
			return nil, err
		}
		c.tables[kind] = t.Clone()
	}
	return c, nil
}

// Adopt replaces the tables of kinds with those held by other.
func (s *Store) Adopt(other *Store, kinds ...string) {
	for _, kind := range kinds {
		if t, ok := other.tables[kind]; ok {
			s.tables[kind] = t
		}
	}
}

// Kinds returns the kinds held by the store, sorted.
func (s *Store) Kinds() []string {
	return slices.Sorted(maps.Keys(s.tables))
}

func (s *Store) Insert(kind string, fields Fields) (Record, error) {
	t, err := s.Table(kind)
	if err != nil {
		return Record{}, err
	}
	return t.Insert(fields)
}

func (s *Store) Get(kind string, key Key) (Record, error) {
	t, err := s.Table(kind)
	if err != nil {
		return Record{}, err
	}
	return t.Get(key)
}

func (s *Store) Update(kind string, key Key, patch Fields) (Record, error) {
	t, err := s.Table(kind)
	if err != nil {
		return Record{}, err
	}
	return t.Update(key, patch)
}

func (s *Store) Delete(kind string, key Key) (Record, error) {
	t, err := s.Table(kind)
	if err != nil {
		return Record{}, err
	}
	return t.Delete(key)
}

func (s *Store) Restore(rec Record) (Record, error) {
	t, err := s.Table(rec.Kind)
	if err != nil {
		return Record{}, err
	}
	return t.Restore(rec)
}

// Scan yields the records of kind matching pred in insertion order.
func (s *Store) Scan(kind string, pred func(Record) bool) (iter.Seq[Record], error) {
	t, err := s.Table(kind)
	if err != nil {
		return nil, err
	}
	return t.Scan(pred), nil
}

// Len returns the record count of kind, or zero for unknown kinds.
func (s *Store) Len(kind string) int {
	if t, ok := s.tables[kind]; ok {
		return t.Len()
	}
	return 0
}
