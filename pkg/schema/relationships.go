package schema

import (
	"fmt"
	"reflect"
)

// BuildRelationship parses a relationship field declared on source.
// Target is left empty; the registry resolves it from TargetType or TargetStruct.
func BuildRelationship(source *EntityMetadata, goField string, targetType reflect.Type, opts *TagOptions) (*RelationshipMetadata, error) {
	var targetStruct string
	if targetType != nil {
		if targetType.Kind() != reflect.Struct {
			return nil, fmt.Errorf("relationship target must be a struct, got %s", targetType.Kind())
		}
		targetStruct = targetType.Name()
	}
	rel, err := BuildRelationshipFor(source, goField, targetStruct, opts)
	if err != nil {
		return nil, err
	}
	rel.TargetType = targetType
	return rel, nil
}

// BuildRelationshipFor is BuildRelationship for callers that only know the target struct name.
func BuildRelationshipFor(source *EntityMetadata, goField, targetStruct string, opts *TagOptions) (*RelationshipMetadata, error) {
	rel := &RelationshipMetadata{
		Name:         ToSnakeCase(goField),
		Source:       source.Name,
		TargetStruct: targetStruct,
		ForeignKey:   opts.Get("foreignKey"),
		References:   opts.Get("references"),
	}

	switch {
	case opts.Has("belongsTo"):
		rel.Type = BelongsTo
	case opts.Has("hasOne"):
		rel.Type = HasOne
	case opts.Has("hasMany"):
		rel.Type = HasMany
	case opts.Has("manyToMany"):
		rel.Type = ManyToMany
	default:
		return nil, fmt.Errorf("unknown relationship type")
	}

	if targetStruct == "" {
		return nil, fmt.Errorf("relationship %s has no target", rel.Name)
	}

	if rel.Type == ManyToMany {
		rel.JoinEntity = opts.Get("joinTable")
		if rel.JoinEntity == "" {
			rel.JoinEntity = generateJunctionName(source.Name, ToSnakeCase(targetStruct))
		}
		rel.JoinForeignKey = opts.Get("joinForeignKey")
		rel.JoinReferences = opts.Get("joinReferences")
		return rel, nil
	}

	if rel.ForeignKey == "" {
		switch rel.Type {
		case BelongsTo:
			// e.g. user_id on the source
			rel.ForeignKey = ToSnakeCase(targetStruct) + "_id"
		case HasOne, HasMany:
			// e.g. user_id on the target
			rel.ForeignKey = ToSnakeCase(source.StructName) + "_id"
		}
	}
	if rel.References == "" {
		rel.References = "id"
	}

	return rel, nil
}

// generateJunctionName generates a junction kind name from two kind names.
func generateJunctionName(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}
