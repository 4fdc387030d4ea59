package index

import (
	"cmp"
	"fmt"
	"iter"
	"slices"

	"github.com/marshallshelly/pebble-integrity/pkg/schema"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

type options struct {
	sortField string
	desc      bool
}

// Option adjusts a traversal.
type Option func(*options)

// SortBy orders traversal results by field instead of insertion order.
// Null values sort first (last when desc).
func SortBy(field string, desc bool) Option {
	return func(o *options) {
		o.sortField = field
		o.desc = desc
	}
}

// Related yields the records reachable from key over rel, against one snapshot of
// the store and indexes. Without SortBy the sequence is lazy and follows insertion order.
func Related(st *store.Store, set *Set, rel *schema.RelationshipMetadata, key store.Key, opts ...Option) (iter.Seq[store.Record], error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	keys, kind, err := relatedKeys(st, set, rel, key)
	if err != nil {
		return nil, err
	}
	table, err := st.Table(kind)
	if err != nil {
		return nil, err
	}
	if o.sortField != "" {
		if _, ok := table.Meta().Field(o.sortField); !ok {
			return nil, fmt.Errorf("%s has no field %s", kind, o.sortField)
		}
	}

	seq := func(yield func(store.Record) bool) {
		for _, k := range keys {
			rec, err := table.Get(k)
			if err != nil {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
	if o.sortField == "" {
		return seq, nil
	}

	return func(yield func(store.Record) bool) {
		records := slices.Collect(iter.Seq[store.Record](seq))
		slices.SortStableFunc(records, func(a, b store.Record) int {
			c := compareValues(a.Fields[o.sortField], b.Fields[o.sortField])
			if o.desc {
				return -c
			}
			return c
		})
		for _, rec := range records {
			if !yield(rec) {
				return
			}
		}
	}, nil
}

// relatedKeys resolves the keys and kind of the records on the far side of rel.
func relatedKeys(st *store.Store, set *Set, rel *schema.RelationshipMetadata, key store.Key) ([]store.Key, string, error) {
	switch rel.Type {
	case schema.BelongsTo:
		ix, ok := set.Get(rel.Source, rel.ForeignKey)
		if !ok {
			return nil, "", fmt.Errorf("no index for %s.%s", rel.Source, rel.ForeignKey)
		}
		if parent, ok := ix.Parent(key); ok {
			return []store.Key{parent}, rel.Target, nil
		}
		return nil, rel.Target, nil

	case schema.HasOne, schema.HasMany:
		ix, ok := set.Get(rel.Target, rel.ForeignKey)
		if !ok {
			return nil, "", fmt.Errorf("no index for %s.%s", rel.Target, rel.ForeignKey)
		}
		return ix.Children(key), rel.Target, nil

	case schema.ManyToMany:
		ix, ok := set.Get(rel.JoinEntity, rel.JoinForeignKey)
		if !ok {
			return nil, "", fmt.Errorf("no index for %s.%s", rel.JoinEntity, rel.JoinForeignKey)
		}
		links := ix.Children(key)
		keys := make([]store.Key, 0, len(links))
		for _, link := range links {
			rec, err := st.Get(rel.JoinEntity, link)
			if err != nil {
				continue
			}
			if v := rec.Fields[rel.JoinReferences]; v != nil {
				keys = append(keys, ParentKey(v))
			}
		}
		return keys, rel.Target, nil
	}
	return nil, "", fmt.Errorf("unsupported relationship type %q", rel.Type)
}

func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			return cmp.Compare(av, bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return cmp.Compare(av, bv)
		}
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
