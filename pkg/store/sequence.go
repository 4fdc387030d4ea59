package store

import (
	"fmt"

	"github.com/marshallshelly/pebble-integrity/pkg/schema"
)

// SequenceKind is the reserved kind under which each table's high-water marks
// are persisted, one record per kind keyed by the kind name.
const SequenceKind = "_sequences"

// Sequences returns the last assigned surrogate id and insertion ordinal.
func (t *Table) Sequences() (id, seq int64) {
	return t.nextID, t.nextSeq
}

// Advance moves the sequences forward to at least id and seq. It never moves them back.
func (t *Table) Advance(id, seq int64) {
	t.nextID = max(t.nextID, id)
	t.nextSeq = max(t.nextSeq, seq)
}

// SequenceRecord is the persisted form of the high-water marks of kind.
func SequenceRecord(kind string, id, seq int64) Record {
	return Record{
		Kind:    SequenceKind,
		Key:     Key(kind),
		Fields:  Fields{"last_id": id, "last_seq": seq},
		Version: 1,
	}
}

// ParseSequence reads a record written by SequenceRecord.
func ParseSequence(rec Record) (kind string, id, seq int64, err error) {
	kind = string(rec.Key)
	if id, err = sequenceField(rec, "last_id"); err != nil {
		return "", 0, 0, err
	}
	if seq, err = sequenceField(rec, "last_seq"); err != nil {
		return "", 0, 0, err
	}
	return kind, id, seq, nil
}

func sequenceField(rec Record, name string) (int64, error) {
	v, err := schema.Coerce(schema.IntegerType, rec.Fields[name])
	if err != nil {
		return 0, fmt.Errorf("sequence %s.%s: %w", rec.Key, name, err)
	}
	id, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("sequence %s.%s is missing", rec.Key, name)
	}
	return id, nil
}
