// Package registry holds the entity kinds known to the engine.
//
// Kinds are registered once at startup and the registry is then frozen. Freezing
// resolves relationship targets, checks every foreign key and rejects cascade
// cycles; after that the registry is read-only.
package registry

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
	"github.com/marshallshelly/pebble-integrity/pkg/schema"
)

// Reference is a foreign key declared on Kind that points at another kind.
type Reference struct {
	Kind       string
	ForeignKey schema.ForeignKeyMetadata
}

// Registry is a thread-safe registry for entity metadata.
type Registry struct {
	mu     sync.RWMutex
	parser *schema.Parser
	types  map[reflect.Type]*schema.EntityMetadata
	names  map[string]*schema.EntityMetadata
	order  []string
	frozen bool

	// populated by Freeze
	referencing map[string][]Reference
	topo        []string
}

// NewRegistry creates a new Registry instance.
func NewRegistry() *Registry {
	return &Registry{
		parser: schema.NewParser(),
		types:  make(map[reflect.Type]*schema.EntityMetadata),
		names:  make(map[string]*schema.EntityMetadata),
	}
}

// Register parses a model type and adds its kind.
func (r *Registry) Register(model any) error {
	modelType := reflect.TypeOf(model)
	if modelType == nil {
		return fmt.Errorf("model must be a struct, got nil")
	}
	for modelType.Kind() == reflect.Pointer {
		modelType = modelType.Elem()
	}
	if modelType.Kind() != reflect.Struct {
		return fmt.Errorf("model must be a struct, got %s", modelType.Kind())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return runtime.ErrRegistryFrozen
	}
	if _, ok := r.types[modelType]; ok {
		return nil
	}

	entity, err := r.parser.Parse(modelType)
	if err != nil {
		return fmt.Errorf("failed to parse model %s: %w", modelType.Name(), err)
	}
	return r.add(entity)
}

// RegisterMetadata adds a kind built without a Go type, e.g. from parsed source files.
func (r *Registry) RegisterMetadata(entity *schema.EntityMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return runtime.ErrRegistryFrozen
	}
	if len(entity.PrimaryKey) == 0 {
		return fmt.Errorf("entity %s has no primary key", entity.Name)
	}
	return r.add(entity)
}

func (r *Registry) add(entity *schema.EntityMetadata) error {
	if existing, ok := r.names[entity.Name]; ok {
		if existing.GoType != nil && existing.GoType == entity.GoType {
			return nil
		}
		return fmt.Errorf("entity kind %s is already registered", entity.Name)
	}
	if entity.GoType != nil {
		r.types[entity.GoType] = entity
	}
	r.names[entity.Name] = entity
	r.order = append(r.order, entity.Name)
	return nil
}

// IsFrozen reports whether Freeze has completed.
func (r *Registry) IsFrozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Entity returns the metadata of kind.
func (r *Registry) Entity(kind string) (*schema.EntityMetadata, error) {
	r.mu.RLock()
	entity, ok := r.names[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, &runtime.UnknownEntityKindError{Kind: kind}
	}
	return entity, nil
}

// EntityOf returns the metadata registered for a model value or type.
func (r *Registry) EntityOf(model any) (*schema.EntityMetadata, error) {
	modelType, ok := model.(reflect.Type)
	if !ok {
		modelType = reflect.TypeOf(model)
	}
	if modelType == nil {
		return nil, &runtime.UnknownEntityKindError{Kind: "<nil>"}
	}
	for modelType.Kind() == reflect.Pointer {
		modelType = modelType.Elem()
	}

	r.mu.RLock()
	entity, found := r.types[modelType]
	r.mu.RUnlock()

	if !found {
		return nil, &runtime.UnknownEntityKindError{Kind: modelType.Name()}
	}
	return entity, nil
}

// Fields returns the field definitions of kind.
func (r *Registry) Fields(kind string) ([]schema.FieldMetadata, error) {
	entity, err := r.Entity(kind)
	if err != nil {
		return nil, err
	}
	return entity.Fields, nil
}

// Relationships returns the relationships declared on kind.
func (r *Registry) Relationships(kind string) ([]schema.RelationshipMetadata, error) {
	entity, err := r.Entity(kind)
	if err != nil {
		return nil, err
	}
	return entity.Relationships, nil
}

// Relationship returns one named relationship of kind.
func (r *Registry) Relationship(kind, name string) (*schema.RelationshipMetadata, error) {
	entity, err := r.Entity(kind)
	if err != nil {
		return nil, err
	}
	rel := entity.GetRelationship(name)
	if rel == nil {
		return nil, &runtime.UnknownRelationshipError{Kind: kind, Name: name}
	}
	return rel, nil
}

// CascadePolicy returns the action applied across a relationship when the record
// on the referenced side is deleted.
func (r *Registry) CascadePolicy(kind, relationship string) (schema.ReferenceAction, error) {
	rel, err := r.Relationship(kind, relationship)
	if err != nil {
		return "", err
	}

	var holder, column string
	switch rel.Type {
	case schema.BelongsTo:
		holder, column = rel.Source, rel.ForeignKey
	case schema.HasOne, schema.HasMany:
		holder, column = rel.Target, rel.ForeignKey
	case schema.ManyToMany:
		holder, column = rel.JoinEntity, rel.JoinForeignKey
	}

	entity, err := r.Entity(holder)
	if err != nil {
		return "", err
	}
	fk, ok := entity.ForeignKey(column)
	if !ok {
		return "", fmt.Errorf("%s.%s: %s is not a foreign key", kind, relationship, column)
	}
	return fk.EffectiveOnDelete(), nil
}

// Referencing returns every foreign key that points at kind, in registration order.
func (r *Registry) Referencing(kind string) []Reference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.referencing[kind]
}

// ManyToMany returns the many-to-many relationship from fromKind to toKind.
func (r *Registry) ManyToMany(fromKind, toKind string) (*schema.RelationshipMetadata, error) {
	from, err := r.Entity(fromKind)
	if err != nil {
		return nil, err
	}
	if _, err := r.Entity(toKind); err != nil {
		return nil, err
	}
	for i := range from.Relationships {
		rel := &from.Relationships[i]
		if rel.Type == schema.ManyToMany && rel.Target == toKind {
			return rel, nil
		}
	}
	return nil, &runtime.ValidationError{
		Kind:   fromKind,
		Field:  toKind,
		Reason: "no many-to-many relationship",
	}
}

// Kinds returns all kind names in registration order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// All returns all entity metadata in registration order.
func (r *Registry) All() []*schema.EntityMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entities := make([]*schema.EntityMetadata, 0, len(r.order))
	for _, name := range r.order {
		entities = append(entities, r.names[name])
	}
	return entities
}

// TopologicalOrder returns kinds with referenced kinds before the kinds that reference them.
func (r *Registry) TopologicalOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.topo)
}

// DeleteClosure returns kind plus every kind a delete of kind may read or write,
// sorted by name. This is the lock set of a delete.
func (r *Registry) DeleteClosure(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[string]bool{kind: true}
	queue := []string{kind}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, ref := range r.referencing[current] {
			if !seen[ref.Kind] {
				seen[ref.Kind] = true
				queue = append(queue, ref.Kind)
			}
		}
	}

	closure := make([]string, 0, len(seen))
	for k := range seen {
		closure = append(closure, k)
	}
	slices.Sort(closure)
	return closure
}
