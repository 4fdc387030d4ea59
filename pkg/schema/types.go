package schema

import (
	"database/sql"
	"reflect"
	"strconv"
	"strings"
)

// TypeMapper handles mapping between Go types and field types.
type TypeMapper struct {
	customMappings map[reflect.Type]FieldType
}

// NewTypeMapper creates a new TypeMapper instance.
func NewTypeMapper() *TypeMapper {
	return &TypeMapper{
		customMappings: make(map[reflect.Type]FieldType),
	}
}

// RegisterType registers a custom type mapping.
func (tm *TypeMapper) RegisterType(goType reflect.Type, fieldType FieldType) {
	tm.customMappings[goType] = fieldType
}

// GoTypeToFieldType maps a Go type to its field type.
// Returns empty string when the type has no mapping and a SQL type tag is required.
func (tm *TypeMapper) GoTypeToFieldType(t reflect.Type) FieldType {
	if ft, ok := tm.customMappings[t]; ok {
		return ft
	}

	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return IntegerType
	case reflect.String:
		return TextType
	}

	switch t {
	case reflect.TypeOf(sql.NullString{}):
		return TextType
	case reflect.TypeOf(sql.NullInt64{}), reflect.TypeOf(sql.NullInt32{}):
		return IntegerType
	}

	return ""
}

// IsNullable checks if a Go type is nullable.
func IsNullable(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Ptr {
		return true
	}

	switch t {
	case reflect.TypeOf(sql.NullString{}),
		reflect.TypeOf(sql.NullInt64{}),
		reflect.TypeOf(sql.NullInt32{}):
		return true
	}

	return false
}

// SQLType is a parsed SQL column type.
type SQLType struct {
	Name          string
	Size          int
	Type          FieldType
	AutoIncrement bool
}

// ParseSQLType parses a SQL type string such as "varchar(100)" or "serial".
func ParseSQLType(typeStr string) SQLType {
	name := strings.ToLower(strings.TrimSpace(typeStr))
	st := SQLType{Name: name}

	if idx := strings.Index(name, "("); idx != -1 && strings.HasSuffix(name, ")") {
		if size, err := strconv.Atoi(name[idx+1 : len(name)-1]); err == nil {
			st.Size = size
		}
		st.Name = name[:idx]
	}

	switch st.Name {
	case "serial", "bigserial", "smallserial":
		st.Type = IntegerType
		st.AutoIncrement = true
	case "integer", "int", "int4", "bigint", "int8", "smallint", "int2":
		st.Type = IntegerType
	case "text", "varchar", "character varying", "char", "character":
		st.Type = TextType
	}

	return st
}

// DefaultTypeMapper is the global type mapper instance.
var DefaultTypeMapper = NewTypeMapper()
