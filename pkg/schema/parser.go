package schema

import (
	"fmt"
	"reflect"
	"strings"
)

const (
	// StructTagKey is the key used in struct tags (e.g., `po:"..."`).
	StructTagKey = "po"
)

// Tabler is implemented by models that choose their own entity name.
type Tabler interface {
	TableName() string
}

// Parser parses struct definitions to extract entity metadata.
type Parser struct {
	typeMapper *TypeMapper
	cache      map[reflect.Type]*EntityMetadata
}

// NewParser creates a new Parser instance.
func NewParser() *Parser {
	return &Parser{
		typeMapper: DefaultTypeMapper,
		cache:      make(map[reflect.Type]*EntityMetadata),
	}
}

// Parse extracts EntityMetadata from a Go struct type.
func (p *Parser) Parse(modelType reflect.Type) (*EntityMetadata, error) {
	for modelType.Kind() == reflect.Ptr {
		modelType = modelType.Elem()
	}
	if modelType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model must be a struct, got %s", modelType.Kind())
	}
	if cached, ok := p.cache[modelType]; ok {
		return cached, nil
	}

	entity := &EntityMetadata{
		Name:        p.extractEntityName(modelType),
		GoType:      modelType,
		StructName:  modelType.Name(),
		Fields:      make([]FieldMetadata, 0),
		ForeignKeys: make([]ForeignKeyMetadata, 0),
	}

	position := 0
	for i := 0; i < modelType.NumField(); i++ {
		field := modelType.Field(i)
		if !field.IsExported() {
			continue
		}
		tagValue := field.Tag.Get(StructTagKey)
		if tagValue == "" || tagValue == "-" {
			continue
		}
		tagOpts, err := ParseTag(tagValue)
		if err != nil {
			return nil, fmt.Errorf("failed to parse tag for field %s: %w", field.Name, err)
		}

		if IsRelationshipTag(tagOpts) {
			rel, err := BuildRelationship(entity, field.Name, targetStructType(field.Type), tagOpts)
			if err != nil {
				return nil, fmt.Errorf("failed to parse relationship for field %s: %w", field.Name, err)
			}
			entity.Relationships = append(entity.Relationships, *rel)
			continue
		}

		if err := AddField(entity, field.Name, field.Type, tagOpts, position, p.typeMapper); err != nil {
			return nil, err
		}
		position++
	}

	if len(entity.PrimaryKey) == 0 {
		return nil, fmt.Errorf("entity %s has no primary key", entity.Name)
	}

	p.cache[modelType] = entity
	return entity, nil
}

// AddField appends a field (and its foreign key, if declared) to entity.
// goType may be nil when the definition comes from source code rather than reflection.
func AddField(entity *EntityMetadata, goField string, goType reflect.Type, opts *TagOptions, position int, mapper *TypeMapper) error {
	field := FieldMetadata{
		Name:     opts.Name,
		GoField:  goField,
		GoType:   goType,
		Position: position,
	}

	if sqlType := opts.GetSQLType(); sqlType != "" {
		parsed := ParseSQLType(sqlType)
		field.SQLType = sqlType
		field.Type = parsed.Type
		field.MaxLength = parsed.Size
		field.AutoIncrement = parsed.AutoIncrement
	}
	if goType != nil && mapper != nil {
		goFieldType := mapper.GoTypeToFieldType(goType)
		if field.Type == "" {
			field.Type = goFieldType
		} else if goFieldType != "" && goFieldType != field.Type {
			return fmt.Errorf("field %s: %s column cannot hold Go type %s", goField, field.SQLType, goType)
		}
	}
	if field.Type == "" {
		return fmt.Errorf("field %s: cannot determine field type", goField)
	}
	if field.SQLType == "" {
		field.SQLType = string(field.Type)
	}

	field.Nullable = !opts.Has("notNull") && !opts.Has("primaryKey")
	if IsNullable(goType) {
		field.Nullable = true
	}
	field.Unique = opts.Has("unique")
	if opts.Has("autoIncrement") {
		field.AutoIncrement = true
	}
	if field.AutoIncrement {
		field.Nullable = false
	}

	if opts.Has("primaryKey") {
		entity.PrimaryKey = append(entity.PrimaryKey, field.Name)
	}
	entity.Fields = append(entity.Fields, field)

	fk, err := parseForeignKey(entity.Name, opts)
	if err != nil {
		return fmt.Errorf("field %s: %w", goField, err)
	}
	if fk != nil {
		fk.Unique = field.Unique
		entity.ForeignKeys = append(entity.ForeignKeys, *fk)
	}
	return nil
}

// extractEntityName uses TableName() when implemented, otherwise snake_case of the struct name.
func (p *Parser) extractEntityName(modelType reflect.Type) string {
	if tabler, ok := reflect.New(modelType).Elem().Interface().(Tabler); ok {
		return tabler.TableName()
	}
	if tabler, ok := reflect.New(modelType).Interface().(Tabler); ok {
		return tabler.TableName()
	}
	return ToSnakeCase(modelType.Name())
}

// IsRelationshipTag checks if tag options indicate a relationship field.
func IsRelationshipTag(opts *TagOptions) bool {
	return opts.Has("belongsTo") || opts.Has("hasOne") ||
		opts.Has("hasMany") || opts.Has("manyToMany")
}

// TagOptions represents parsed tag options.
type TagOptions struct {
	Name    string            // Column name (first element)
	Options map[string]string // Other options
}

// ParseTag parses a struct tag value into TagOptions.
// Format: "column_name,option1,option2(value),option3:value"
func ParseTag(tag string) (*TagOptions, error) {
	parts := splitTag(tag)
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("empty tag value")
	}
	opts := &TagOptions{
		Name:    parts[0],
		Options: make(map[string]string),
	}
	for _, opt := range parts[1:] {
		paren := strings.Index(opt, "(")
		colon := strings.Index(opt, ":")
		switch {
		case paren != -1 && (colon == -1 || paren < colon):
			if !strings.HasSuffix(opt, ")") {
				return nil, fmt.Errorf("invalid option format: %s", opt)
			}
			opts.Options[opt[:paren]] = opt[paren+1 : len(opt)-1]
		case colon != -1:
			opts.Options[opt[:colon]] = opt[colon+1:]
		default:
			opts.Options[opt] = ""
		}
	}
	return opts, nil
}

// Has checks if an option exists.
func (t *TagOptions) Has(key string) bool {
	_, ok := t.Options[key]
	return ok
}

// Get returns the value of an option.
func (t *TagOptions) Get(key string) string {
	return t.Options[key]
}

// GetSQLType returns the SQL type from tag options.
func (t *TagOptions) GetSQLType() string {
	sqlTypes := []string{
		"bigserial", "serial", "smallserial",
		"integer", "bigint", "smallint",
		"varchar", "text", "char",
	}
	for _, sqlType := range sqlTypes {
		if t.Has(sqlType) {
			if value := t.Get(sqlType); value != "" {
				return fmt.Sprintf("%s(%s)", sqlType, value)
			}
			return sqlType
		}
	}
	return ""
}

// splitTag splits a tag value by commas, handling nested parentheses.
func splitTag(tag string) []string {
	var parts []string
	var current strings.Builder
	depth := 0
	for _, ch := range tag {
		switch ch {
		case '(':
			depth++
			current.WriteRune(ch)
		case ')':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(current.String()))
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, strings.TrimSpace(current.String()))
	}
	return parts
}

// ToSnakeCase converts a string from PascalCase to snake_case.
func ToSnakeCase(s string) string {
	var result strings.Builder
	for i, ch := range s {
		if i > 0 && ch >= 'A' && ch <= 'Z' {
			result.WriteRune('_')
		}
		result.WriteRune(ch)
	}
	return strings.ToLower(result.String())
}

// parseForeignKey reads fk(table.column) / fk:table(column) and onDelete(action).
func parseForeignKey(entityName string, opts *TagOptions) (*ForeignKeyMetadata, error) {
	fkStr := opts.Get("fk")
	if fkStr == "" {
		if opts.Has("onDelete") {
			return nil, fmt.Errorf("onDelete requires fk")
		}
		return nil, nil
	}

	var refEntity, refColumn string
	if idx := strings.Index(fkStr, "("); idx > 0 && strings.HasSuffix(fkStr, ")") {
		refEntity = fkStr[:idx]
		refColumn = fkStr[idx+1 : len(fkStr)-1]
	} else if parts := strings.SplitN(fkStr, ".", 2); len(parts) == 2 {
		refEntity, refColumn = parts[0], parts[1]
	}
	if refEntity == "" || refColumn == "" {
		return nil, fmt.Errorf("invalid foreign key reference %q", fkStr)
	}

	action, err := ParseReferenceAction(opts.Get("onDelete"))
	if err != nil {
		return nil, err
	}

	return &ForeignKeyMetadata{
		Name:             fmt.Sprintf("fk_%s_%s_%s", entityName, opts.Name, refEntity),
		Column:           opts.Name,
		ReferencedEntity: refEntity,
		ReferencedColumn: refColumn,
		OnDelete:         action,
	}, nil
}

// ParseReferenceAction converts a tag value to a ReferenceAction.
func ParseReferenceAction(action string) (ReferenceAction, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(action), "_", " "))
	switch normalized {
	case "", "NOACTION", "NO ACTION":
		return NoAction, nil
	case "CASCADE":
		return Cascade, nil
	case "RESTRICT":
		return Restrict, nil
	case "SETNULL", "SET NULL":
		return SetNull, nil
	default:
		return "", fmt.Errorf("unsupported onDelete action %q", action)
	}
}

// targetStructType strips slices and pointers from a relationship field type.
func targetStructType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
