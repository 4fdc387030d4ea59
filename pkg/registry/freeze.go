package registry

import (
	"fmt"
	"slices"

	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/schema"
)

// Freeze resolves and validates the registered kinds and makes the registry read-only.
// Calling Freeze again is a no-op.
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil
	}

	for _, name := range r.order {
		if err := r.validateForeignKeys(r.names[name]); err != nil {
			return err
		}
	}
	for _, name := range r.order {
		entity := r.names[name]
		for i := range entity.Relationships {
			if err := r.resolveRelationship(entity, &entity.Relationships[i]); err != nil {
				return err
			}
		}
	}

	r.referencing = make(map[string][]Reference)
	for _, name := range r.order {
		for _, fk := range r.names[name].ForeignKeys {
			r.referencing[fk.ReferencedEntity] = append(r.referencing[fk.ReferencedEntity],
				Reference{Kind: name, ForeignKey: fk})
		}
	}

	if err := r.checkCascadeCycles(); err != nil {
		return err
	}
	r.topo = r.topologicalSort()
	r.frozen = true
	return nil
}

func (r *Registry) validateForeignKeys(entity *schema.EntityMetadata) error {
	for _, fk := range entity.ForeignKeys {
		column, ok := entity.Field(fk.Column)
		if !ok {
			return fmt.Errorf("%s: foreign key column %s is not a field", entity.Name, fk.Column)
		}
		target, ok := r.names[fk.ReferencedEntity]
		if !ok {
			return fmt.Errorf("%s.%s references %w",
				entity.Name, fk.Column, &runtime.UnknownEntityKindError{Kind: fk.ReferencedEntity})
		}
		if len(target.PrimaryKey) != 1 || target.PrimaryKey[0] != fk.ReferencedColumn {
			return fmt.Errorf("%s.%s must reference the single-column identity of %s, not %s",
				entity.Name, fk.Column, target.Name, fk.ReferencedColumn)
		}
		referenced, _ := target.Field(fk.ReferencedColumn)
		if referenced.Type != column.Type {
			return fmt.Errorf("%s.%s is %s but %s.%s is %s",
				entity.Name, fk.Column, column.Type, target.Name, referenced.Name, referenced.Type)
		}
		if fk.OnDelete == schema.SetNull && !column.Nullable {
			return fmt.Errorf("%s.%s: SET NULL on a not-null column", entity.Name, fk.Column)
		}
	}
	return nil
}

func (r *Registry) resolveRelationship(source *schema.EntityMetadata, rel *schema.RelationshipMetadata) error {
	target := r.lookupTarget(rel)
	if target == nil {
		return fmt.Errorf("%s.%s: unknown target %s", source.Name, rel.Name, rel.TargetStruct)
	}
	rel.Source = source.Name
	rel.Target = target.Name

	switch rel.Type {
	case schema.BelongsTo:
		fk, ok := source.ForeignKey(rel.ForeignKey)
		if !ok || fk.ReferencedEntity != target.Name {
			return fmt.Errorf("%s.%s: %s.%s is not a foreign key to %s",
				source.Name, rel.Name, source.Name, rel.ForeignKey, target.Name)
		}

	case schema.HasOne, schema.HasMany:
		fk, ok := target.ForeignKey(rel.ForeignKey)
		if !ok || fk.ReferencedEntity != source.Name {
			return fmt.Errorf("%s.%s: %s.%s is not a foreign key to %s",
				source.Name, rel.Name, target.Name, rel.ForeignKey, source.Name)
		}
		if rel.Type == schema.HasOne {
			fk.Unique = true
		}

	case schema.ManyToMany:
		join, ok := r.names[rel.JoinEntity]
		if !ok {
			return fmt.Errorf("%s.%s: join %w",
				source.Name, rel.Name, &runtime.UnknownEntityKindError{Kind: rel.JoinEntity})
		}
		if !join.IsJunction() {
			return fmt.Errorf("%s.%s: %s is not a junction kind", source.Name, rel.Name, join.Name)
		}
		if rel.JoinForeignKey == "" {
			rel.JoinForeignKey = junctionColumn(join, source.Name, "")
		}
		if rel.JoinReferences == "" {
			rel.JoinReferences = junctionColumn(join, target.Name, rel.JoinForeignKey)
		}
		for _, col := range []string{rel.JoinForeignKey, rel.JoinReferences} {
			if _, ok := join.ForeignKey(col); !ok || col == "" {
				return fmt.Errorf("%s.%s: cannot resolve junction columns on %s",
					source.Name, rel.Name, join.Name)
			}
		}
	}

	return nil
}

func (r *Registry) lookupTarget(rel *schema.RelationshipMetadata) *schema.EntityMetadata {
	if rel.TargetType != nil {
		if entity, ok := r.types[rel.TargetType]; ok {
			return entity
		}
	}
	for _, name := range r.order {
		if r.names[name].StructName == rel.TargetStruct {
			return r.names[name]
		}
	}
	if entity, ok := r.names[rel.Target]; ok && rel.Target != "" {
		return entity
	}
	return nil
}

// junctionColumn finds the junction column referencing kind, skipping exclude.
func junctionColumn(join *schema.EntityMetadata, kind, exclude string) string {
	for _, col := range join.PrimaryKey {
		if col == exclude {
			continue
		}
		if fk, ok := join.ForeignKey(col); ok && fk.ReferencedEntity == kind {
			return col
		}
	}
	return ""
}

// checkCascadeCycles walks CASCADE edges (referenced kind -> referencing kind).
func (r *Registry) checkCascadeCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(r.order))
	var path []string

	var visit func(kind string) error
	visit = func(kind string) error {
		state[kind] = visiting
		path = append(path, kind)
		for _, ref := range r.referencing[kind] {
			if ref.ForeignKey.EffectiveOnDelete() != schema.Cascade {
				continue
			}
			switch state[ref.Kind] {
			case visiting:
				start := slices.Index(path, ref.Kind)
				cycle := append(slices.Clone(path[start:]), ref.Kind)
				return &runtime.CyclicCascadeError{Path: cycle}
			case unvisited:
				if err := visit(ref.Kind); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		state[kind] = done
		return nil
	}

	for _, kind := range r.order {
		if state[kind] == unvisited {
			if err := visit(kind); err != nil {
				return err
			}
		}
	}
	return nil
}

// topologicalSort orders kinds parents-first, breaking ties by registration order.
// Self references are ignored; kinds left in a reference cycle keep registration order.
func (r *Registry) topologicalSort() []string {
	indegree := make(map[string]int, len(r.order))
	for _, name := range r.order {
		seen := map[string]bool{}
		for _, fk := range r.names[name].ForeignKeys {
			if fk.ReferencedEntity != name && !seen[fk.ReferencedEntity] {
				seen[fk.ReferencedEntity] = true
				indegree[name]++
			}
		}
	}

	sorted := make([]string, 0, len(r.order))
	placed := make(map[string]bool, len(r.order))
	for len(sorted) < len(r.order) {
		progressed := false
		for _, name := range r.order {
			if placed[name] || indegree[name] > 0 {
				continue
			}
			placed[name] = true
			sorted = append(sorted, name)
			progressed = true
			seen := map[string]bool{}
			for _, ref := range r.referencing[name] {
				if ref.Kind != name && !seen[ref.Kind] {
					seen[ref.Kind] = true
					indegree[ref.Kind]--
				}
			}
			break
		}
		if !progressed {
			for _, name := range r.order {
				if !placed[name] {
					placed[name] = true
					sorted = append(sorted, name)
				}
			}
		}
	}
	return sorted
}
