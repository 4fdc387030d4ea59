package persistence

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

// Memory is an in-process backend. Apply is atomic.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[store.Key]store.Record
}

// NewMemory creates an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[store.Key]store.Record)}
}

func (m *Memory) Load(ctx context.Context, kind string, key store.Key) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, storageError("load", kind, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.data[kind][key]
	if !ok {
		return store.Record{}, &runtime.NotFoundError{Kind: kind, Key: string(key)}
	}
	return rec.Clone(), nil
}

func (m *Memory) Save(ctx context.Context, kind string, rec store.Record) error {
	if err := ctx.Err(); err != nil {
		return storageError("save", kind, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.save(kind, rec)
	return nil
}

func (m *Memory) Erase(ctx context.Context, kind string, key store.Key) error {
	if err := ctx.Err(); err != nil {
		return storageError("erase", kind, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[kind], key)
	return nil
}

// List returns the records of kind ordered by insertion ordinal.
func (m *Memory) List(ctx context.Context, kind string) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("list", kind, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]store.Record, 0, len(m.data[kind]))
	for _, rec := range m.data[kind] {
		records = append(records, rec.Clone())
	}
	slices.SortFunc(records, func(a, b store.Record) int { return cmp.Compare(a.Seq, b.Seq) })
	return records, nil
}

// Apply commits all changes under one lock.
func (m *Memory) Apply(ctx context.Context, changes []store.Change) error {
	if err := ctx.Err(); err != nil {
		return storageError("apply", "", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range changes {
		switch ch.Action {
		case store.ActionInsert, store.ActionUpdate:
			m.save(ch.Kind, *ch.After)
		case store.ActionDelete:
			delete(m.data[ch.Kind], ch.Key)
		}
	}
	return nil
}

// Kinds returns the kinds that currently hold records.
func (m *Memory) Kinds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.data))
}

func (m *Memory) save(kind string, rec store.Record) {
	if m.data[kind] == nil {
		m.data[kind] = make(map[store.Key]store.Record)
	}
	m.data[kind][rec.Key] = rec.Clone()
}
