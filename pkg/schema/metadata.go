// Package schema describes entity kinds, their fields and the relationships between them.
package schema

import (
	"reflect"
	"slices"
	"strings"
)

// FieldType is the semantic type of a field value.
type FieldType string

const (
	// IntegerType fields hold int64 values.
	IntegerType FieldType = "integer"
	// TextType fields hold string values, optionally bounded by MaxLength.
	TextType FieldType = "text"
)

// ReferenceAction is the policy applied to dependents when a referenced record is deleted.
type ReferenceAction string

const (
	NoAction ReferenceAction = "NO ACTION"
	Restrict ReferenceAction = "RESTRICT"
	Cascade  ReferenceAction = "CASCADE"
	SetNull  ReferenceAction = "SET NULL"
)

// RelationType is the declared multiplicity of a relationship.
type RelationType string

const (
	// BelongsTo: the source holds the foreign key (N:1 or 1:1 inverse).
	BelongsTo RelationType = "belongsTo"
	// HasOne: the target holds a foreign key, at most one target per source.
	HasOne RelationType = "hasOne"
	// HasMany: the target holds a foreign key, unbounded targets per source.
	HasMany RelationType = "hasMany"
	// ManyToMany: linked through a junction entity.
	ManyToMany RelationType = "manyToMany"
)

// EntityMetadata describes one entity kind.
type EntityMetadata struct {
	Name          string
	GoType        reflect.Type
	StructName    string
	Fields        []FieldMetadata
	PrimaryKey    []string
	ForeignKeys   []ForeignKeyMetadata
	Relationships []RelationshipMetadata
}

// FieldMetadata describes one stored field.
type FieldMetadata struct {
	Name          string
	GoField       string
	GoType        reflect.Type
	SQLType       string
	Type          FieldType
	MaxLength     int
	Nullable      bool
	Unique        bool
	AutoIncrement bool
	Position      int
}

// ForeignKeyMetadata describes a single-column reference to another kind.
type ForeignKeyMetadata struct {
	Name             string
	Column           string
	ReferencedEntity string
	ReferencedColumn string
	OnDelete         ReferenceAction
	// Unique is set when at most one record may reference a given parent (one-to-one).
	Unique bool
}

// EffectiveOnDelete resolves an undeclared policy to RESTRICT.
func (fk ForeignKeyMetadata) EffectiveOnDelete() ReferenceAction {
	if fk.OnDelete == "" || fk.OnDelete == NoAction {
		return Restrict
	}
	return fk.OnDelete
}

// RelationshipMetadata describes a named, traversable relationship.
type RelationshipMetadata struct {
	Name   string
	Type   RelationType
	Source string
	Target string
	// TargetType and TargetStruct identify the target before the registry resolves Target.
	TargetType   reflect.Type
	TargetStruct string
	// ForeignKey is the FK column: on Source for BelongsTo, on Target for HasOne/HasMany.
	ForeignKey string
	References string
	// JoinEntity is the junction kind for ManyToMany; JoinForeignKey references Source
	// and JoinReferences references Target.
	JoinEntity     string
	JoinForeignKey string
	JoinReferences string
}

// Field returns the field with the given name.
func (e *EntityMetadata) Field(name string) (*FieldMetadata, bool) {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i], true
		}
	}
	return nil, false
}

// IsPrimaryKey reports whether column is part of the primary key.
func (e *EntityMetadata) IsPrimaryKey(column string) bool {
	return slices.Contains(e.PrimaryKey, column)
}

// ForeignKey returns the foreign key declared on column.
func (e *EntityMetadata) ForeignKey(column string) (*ForeignKeyMetadata, bool) {
	for i := range e.ForeignKeys {
		if e.ForeignKeys[i].Column == column {
			return &e.ForeignKeys[i], true
		}
	}
	return nil, false
}

// IsJunction reports whether the kind is identified by a composite of foreign keys.
func (e *EntityMetadata) IsJunction() bool {
	if len(e.PrimaryKey) < 2 {
		return false
	}
	for _, col := range e.PrimaryKey {
		if _, ok := e.ForeignKey(col); !ok {
			return false
		}
	}
	return true
}

// AutoIncrementField returns the surrogate identity field, if any.
func (e *EntityMetadata) AutoIncrementField() (*FieldMetadata, bool) {
	for i := range e.Fields {
		if e.Fields[i].AutoIncrement {
			return &e.Fields[i], true
		}
	}
	return nil, false
}

// GetRelationship returns a relationship by name.
func (e *EntityMetadata) GetRelationship(name string) *RelationshipMetadata {
	for i := range e.Relationships {
		if e.Relationships[i].Name == name {
			return &e.Relationships[i]
		}
	}
	return nil
}

// GetRelationshipsByType returns all relationships of a specific type.
func (e *EntityMetadata) GetRelationshipsByType(relType RelationType) []RelationshipMetadata {
	var result []RelationshipMetadata
	for _, rel := range e.Relationships {
		if rel.Type == relType {
			result = append(result, rel)
		}
	}
	return result
}

// String renders a compact one-line description, e.g. "users(id, full_name, ...)".
func (e *EntityMetadata) String() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return e.Name + "(" + strings.Join(names, ", ") + ")"
}
