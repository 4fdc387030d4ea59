package store

import (
	"errors"
	"iter"
	"maps"
	"slices"

	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/schema"
)

type slot struct {
	key Key
	seq int64
}

// Table holds the records of one kind. A Table is not safe for concurrent
// mutation; mutate a Clone and publish it.
type Table struct {
	meta    *schema.EntityMetadata
	nextID  int64 // last assigned surrogate id
	nextSeq int64 // last assigned insertion ordinal
	records map[Key]*Record
	order   []slot
}

// NewTable creates an empty table for meta.
func NewTable(meta *schema.EntityMetadata) *Table {
	return &Table{
		meta:    meta,
		records: make(map[Key]*Record),
	}
}

// Meta returns the kind's metadata.
func (t *Table) Meta() *schema.EntityMetadata { return t.meta }

// Len returns the number of records.
func (t *Table) Len() int { return len(t.records) }

// Clone returns an independent copy. Records are shared; they are replaced, never mutated.
func (t *Table) Clone() *Table {
	c := *t
	c.records = maps.Clone(t.records)
	if len(t.records) < len(t.order)/2 {
		c.order = c.compactOrder()
	} else {
		c.order = slices.Clone(t.order)
	}
	return &c
}

func (t *Table) compactOrder() []slot {
	order := make([]slot, 0, len(t.records))
	for _, s := range t.order {
		if t.isLive(s) {
			order = append(order, s)
		}
	}
	return order
}

func (t *Table) isLive(s slot) bool {
	rec, ok := t.records[s.key]
	return ok && rec.Seq == s.seq
}

// Validate checks and normalizes a full set of fields as Insert would, without
// touching the table. Auto-increment fields must be absent.
func (t *Table) Validate(fields Fields) (Fields, error) {
	if err := t.checkNames(fields); err != nil {
		return nil, err
	}

	normalized := make(Fields, len(t.meta.Fields))
	for i := range t.meta.Fields {
		field := &t.meta.Fields[i]
		value, supplied := fields[field.Name]
		if field.AutoIncrement {
			if supplied && value != nil {
				return nil, t.invalid(field.Name, "assigned by the store")
			}
			continue
		}
		v, err := schema.ValidateValue(field, value)
		if err != nil {
			return nil, t.withKind(err)
		}
		normalized[field.Name] = v
	}
	return normalized, nil
}

// Insert validates fields, assigns an identity and stores the record.
// Referential checks are not performed here.
func (t *Table) Insert(fields Fields) (Record, error) {
	normalized, err := t.Validate(fields)
	if err != nil {
		return Record{}, err
	}

	auto, hasAuto := t.meta.AutoIncrementField()
	if hasAuto {
		normalized[auto.Name] = t.nextID + 1
	}
	key, err := KeyFor(t.meta, normalized)
	if err != nil {
		return Record{}, t.invalid(t.meta.PrimaryKey[0], err.Error())
	}
	if _, exists := t.records[key]; exists {
		if t.meta.IsJunction() {
			return Record{}, &runtime.DuplicateLinkError{Kind: t.meta.Name, Key: string(key)}
		}
		return Record{}, t.invalid(t.meta.PrimaryKey[0], "duplicate identity "+string(key))
	}
	if err := t.checkUnique(key, normalized); err != nil {
		return Record{}, err
	}

	if hasAuto {
		t.nextID++
	}
	t.nextSeq++
	rec := &Record{Kind: t.meta.Name, Key: key, Fields: normalized, Version: 1, Seq: t.nextSeq}
	t.put(rec)
	return rec.Clone(), nil
}

// Get returns the record stored under key.
func (t *Table) Get(key Key) (Record, error) {
	rec, ok := t.records[key]
	if !ok {
		return Record{}, &runtime.NotFoundError{Kind: t.meta.Name, Key: string(key)}
	}
	return rec.Clone(), nil
}

// Update replaces the supplied fields of an existing record and bumps its version.
// Identity fields cannot change.
func (t *Table) Update(key Key, patch Fields) (Record, error) {
	current, ok := t.records[key]
	if !ok {
		return Record{}, &runtime.NotFoundError{Kind: t.meta.Name, Key: string(key)}
	}
	if err := t.checkNames(patch); err != nil {
		return Record{}, err
	}

	next := current.Fields.Clone()
	for name, value := range patch {
		field, _ := t.meta.Field(name)
		v, err := schema.ValidateValue(field, value)
		if err != nil {
			return Record{}, t.withKind(err)
		}
		if t.meta.IsPrimaryKey(name) || field.AutoIncrement {
			if v != current.Fields[name] {
				return Record{}, t.invalid(name, "identity is immutable")
			}
			continue
		}
		next[name] = v
	}
	if err := t.checkUnique(key, next); err != nil {
		return Record{}, err
	}

	rec := &Record{
		Kind:    t.meta.Name,
		Key:     key,
		Fields:  next,
		Version: current.Version + 1,
		Seq:     current.Seq,
	}
	t.records[key] = rec
	return rec.Clone(), nil
}

// Delete removes the record under key and returns it. It never cascades.
func (t *Table) Delete(key Key) (Record, error) {
	rec, ok := t.records[key]
	if !ok {
		return Record{}, &runtime.NotFoundError{Kind: t.meta.Name, Key: string(key)}
	}
	delete(t.records, key)
	return rec.Clone(), nil
}

// Restore stores a record loaded from a backend under its existing identity,
// advancing the id and ordinal sequences past it.
func (t *Table) Restore(rec Record) (Record, error) {
	normalized := make(Fields, len(t.meta.Fields))
	if err := t.checkNames(rec.Fields); err != nil {
		return Record{}, err
	}
	for i := range t.meta.Fields {
		field := &t.meta.Fields[i]
		v, err := schema.ValidateValue(field, rec.Fields[field.Name])
		if err != nil {
			return Record{}, t.withKind(err)
		}
		normalized[field.Name] = v
	}

	key, err := KeyFor(t.meta, normalized)
	if err != nil {
		return Record{}, t.invalid(t.meta.PrimaryKey[0], err.Error())
	}
	if rec.Key != "" && rec.Key != key {
		return Record{}, t.invalid(t.meta.PrimaryKey[0], "stored key "+string(rec.Key)+" does not match identity "+string(key))
	}
	if _, exists := t.records[key]; exists {
		return Record{}, t.invalid(t.meta.PrimaryKey[0], "duplicate identity "+string(key))
	}

	if auto, ok := t.meta.AutoIncrementField(); ok {
		if id := normalized[auto.Name].(int64); id > t.nextID {
			t.nextID = id
		}
	}
	seq := rec.Seq
	if seq <= 0 {
		seq = t.nextSeq + 1
	}
	if seq > t.nextSeq {
		t.nextSeq = seq
	}
	version := rec.Version
	if version <= 0 {
		version = 1
	}

	restored := &Record{Kind: t.meta.Name, Key: key, Fields: normalized, Version: version, Seq: seq}
	t.put(restored)
	return restored.Clone(), nil
}

// Scan yields the records matching pred (all when pred is nil) in insertion order,
// as of the call. The sequence can be ranged over more than once.
func (t *Table) Scan(pred func(Record) bool) iter.Seq[Record] {
	records := t.records
	order := t.order[:len(t.order):len(t.order)]
	return func(yield func(Record) bool) {
		for _, s := range order {
			rec, ok := records[s.key]
			if !ok || rec.Seq != s.seq {
				continue
			}
			c := rec.Clone()
			if pred != nil && !pred(c) {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

func (t *Table) put(rec *Record) {
	t.records[rec.Key] = rec
	// restored records may arrive out of order
	if n := len(t.order); n > 0 && t.order[n-1].seq > rec.Seq {
		i, _ := slices.BinarySearchFunc(t.order, rec.Seq, func(s slot, seq int64) int {
			switch {
			case s.seq < seq:
				return -1
			case s.seq > seq:
				return 1
			}
			return 0
		})
		t.order = slices.Insert(t.order, i, slot{key: rec.Key, seq: rec.Seq})
		return
	}
	t.order = append(t.order, slot{key: rec.Key, seq: rec.Seq})
}

func (t *Table) checkNames(fields Fields) error {
	for name := range fields {
		if _, ok := t.meta.Field(name); !ok {
			return t.invalid(name, "unknown field")
		}
	}
	return nil
}

// checkUnique enforces unique fields that are not foreign keys; unique foreign
// keys are a cardinality bound handled by the relationship index.
func (t *Table) checkUnique(self Key, fields Fields) error {
	for i := range t.meta.Fields {
		field := &t.meta.Fields[i]
		if !field.Unique || t.meta.IsPrimaryKey(field.Name) {
			continue
		}
		if _, isFK := t.meta.ForeignKey(field.Name); isFK {
			continue
		}
		value := fields[field.Name]
		if value == nil {
			continue
		}
		for key, rec := range t.records {
			if key != self && rec.Fields[field.Name] == value {
				return t.invalid(field.Name, "duplicate value")
			}
		}
	}
	return nil
}

func (t *Table) invalid(field, reason string) error {
	return &runtime.ValidationError{Kind: t.meta.Name, Field: field, Reason: reason}
}

func (t *Table) withKind(err error) error {
	var ve *runtime.ValidationError
	if errors.As(err, &ve) && ve.Kind == "" {
		ve.Kind = t.meta.Name
	}
	return err
}
