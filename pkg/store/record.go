// Package store keeps the records of every entity kind in memory.
//
// Tables are copy-on-write: a writer clones the tables it needs, mutates the
// clones and publishes them. Published tables are never mutated, so readers can
// iterate them without locks.
package store

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/marshallshelly/pebble-integrity/pkg/schema"
)

// Key identifies a record within its kind: "42" for surrogate ids, "3/7" for junctions.
type Key string

// IDKey returns the key of a record identified by a surrogate id.
func IDKey(id int64) Key {
	return Key(strconv.FormatInt(id, 10))
}

// CompositeKey joins identity values in primary-key column order.
func CompositeKey(parts ...any) Key {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = fmt.Sprint(p)
	}
	return Key(strings.Join(s, "/"))
}

// KeyFor derives the key of a record from its identity fields.
func KeyFor(meta *schema.EntityMetadata, fields Fields) (Key, error) {
	parts := make([]any, len(meta.PrimaryKey))
	for i, col := range meta.PrimaryKey {
		v, ok := fields[col]
		if !ok || v == nil {
			return "", fmt.Errorf("%s: identity field %s is missing", meta.Name, col)
		}
		parts[i] = v
	}
	return CompositeKey(parts...), nil
}

func (k Key) String() string { return string(k) }

// Fields maps field names to normalized values (int64, string or nil).
type Fields map[string]any

// Clone returns a shallow copy; values are immutable scalars.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	return maps.Clone(f)
}

// Int returns an integer field. ok is false for absent or null values.
func (f Fields) Int(name string) (int64, bool) {
	v, ok := f[name].(int64)
	return v, ok
}

// Text returns a text field. ok is false for absent or null values.
func (f Fields) Text(name string) (string, bool) {
	v, ok := f[name].(string)
	return v, ok
}

// Record is one stored entity.
type Record struct {
	Kind    string `json:"kind" bson:"kind"`
	Key     Key    `json:"key" bson:"key"`
	Fields  Fields `json:"fields" bson:"fields"`
	Version int64  `json:"version" bson:"version"`
	// Seq is the insertion ordinal within the kind; scans follow it.
	Seq int64 `json:"seq" bson:"seq"`
}

// Clone returns a copy that does not share the field map.
func (r Record) Clone() Record {
	r.Fields = r.Fields.Clone()
	return r
}

// Action is the kind of change applied to a record.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change describes one record mutation. Before is nil for inserts, After for deletes.
type Change struct {
	Action Action
	Kind   string
	Key    Key
	Before *Record
	After  *Record
}
