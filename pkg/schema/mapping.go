package schema

import (
	"database/sql"
	"fmt"
	"reflect"
)

// ToFields converts a model struct into a field map keyed by field name.
// Zero-valued auto-increment fields are omitted so the store can assign them.
func ToFields(meta *EntityMetadata, model any) (map[string]any, error) {
	v := reflect.ValueOf(model)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, fmt.Errorf("model is nil")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model must be a struct, got %s", v.Kind())
	}

	fields := make(map[string]any, len(meta.Fields))
	for _, field := range meta.Fields {
		fv := v.FieldByName(field.GoField)
		if !fv.IsValid() {
			return nil, fmt.Errorf("%s has no field %s", v.Type(), field.GoField)
		}
		if field.AutoIncrement && fv.IsZero() {
			continue
		}
		fields[field.Name] = extractValue(fv)
	}
	return fields, nil
}

// FromFields copies a field map into dst, which must be a pointer to a model struct.
func FromFields(meta *EntityMetadata, fields map[string]any, dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("destination must be a non-nil pointer")
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("destination must point to a struct, got %s", v.Kind())
	}

	for _, field := range meta.Fields {
		value, ok := fields[field.Name]
		if !ok {
			continue
		}
		fv := v.FieldByName(field.GoField)
		if !fv.IsValid() || !fv.CanSet() {
			return fmt.Errorf("%s has no settable field %s", v.Type(), field.GoField)
		}
		if err := assignValue(fv, value); err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
	}
	return nil
}

// extractValue returns the plain value held by a struct field.
func extractValue(fv reflect.Value) any {
	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return nil
		}
		return fv.Elem().Interface()
	}
	switch n := fv.Interface().(type) {
	case sql.NullString:
		if !n.Valid {
			return nil
		}
		return n.String
	case sql.NullInt64:
		if !n.Valid {
			return nil
		}
		return n.Int64
	case sql.NullInt32:
		if !n.Valid {
			return nil
		}
		return int64(n.Int32)
	}
	return fv.Interface()
}

// assignValue stores value into fv, allocating pointers and unpacking sql.Null types.
func assignValue(fv reflect.Value, value any) error {
	if value == nil {
		fv.SetZero()
		return nil
	}

	switch fv.Addr().Interface().(type) {
	case *sql.NullString:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("cannot assign %T to sql.NullString", value)
		}
		fv.Set(reflect.ValueOf(sql.NullString{String: s, Valid: true}))
		return nil
	case *sql.NullInt64:
		i, err := coerceInteger(value)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(sql.NullInt64{Int64: i.(int64), Valid: true}))
		return nil
	case *sql.NullInt32:
		i, err := coerceInteger(value)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(sql.NullInt32{Int32: int32(i.(int64)), Valid: true}))
		return nil
	}

	if fv.Kind() == reflect.Ptr {
		elem := reflect.New(fv.Type().Elem())
		if err := assignValue(elem.Elem(), value); err != nil {
			return err
		}
		fv.Set(elem)
		return nil
	}

	switch fv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := coerceInteger(value)
		if err != nil {
			return err
		}
		if fv.OverflowInt(i.(int64)) {
			return fmt.Errorf("value %d overflows %s", i, fv.Type())
		}
		fv.SetInt(i.(int64))
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		i, err := coerceInteger(value)
		if err != nil {
			return err
		}
		n := i.(int64)
		if n < 0 || fv.OverflowUint(uint64(n)) {
			return fmt.Errorf("value %d overflows %s", n, fv.Type())
		}
		fv.SetUint(uint64(n))
	case reflect.String:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("cannot assign %T to string", value)
		}
		fv.SetString(s)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}
