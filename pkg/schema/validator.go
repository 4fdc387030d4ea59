package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"unicode/utf8"

	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
)

// ValidateValue checks value against the field definition and returns its normalized
// form: int64 for integer fields, string for text fields, nil for an absent value.
// The returned *runtime.ValidationError leaves Kind empty for the caller to fill.
func ValidateValue(field *FieldMetadata, value any) (any, error) {
	normalized, err := Coerce(field.Type, value)
	if err != nil {
		return nil, &runtime.ValidationError{Field: field.Name, Reason: err.Error()}
	}

	if normalized == nil {
		if !field.Nullable {
			return nil, &runtime.ValidationError{Field: field.Name, Reason: "must not be null"}
		}
		return nil, nil
	}

	if s, ok := normalized.(string); ok && field.MaxLength > 0 {
		if n := utf8.RuneCountInString(s); n > field.MaxLength {
			return nil, &runtime.ValidationError{
				Field:  field.Name,
				Reason: fmt.Sprintf("length %d exceeds maximum %d", n, field.MaxLength),
			}
		}
	}

	return normalized, nil
}

// Coerce converts value to the canonical Go representation of fieldType.
// Integer fields accept every Go integer kind and integral floats, which is what
// JSON-decoded backends hand back.
func Coerce(fieldType FieldType, value any) (any, error) {
	value = deref(value)
	if value == nil {
		return nil, nil
	}

	switch fieldType {
	case IntegerType:
		return coerceInteger(value)
	case TextType:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected text, got %T", value)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported field type %q", fieldType)
	}
}

func coerceInteger(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d out of range", v)
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d out of range", v)
		}
		return int64(v), nil
	case float32:
		return coerceFloat(float64(v))
	case float64:
		return coerceFloat(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", v.String())
		}
		return i, nil
	default:
		return nil, fmt.Errorf("expected integer, got %T", value)
	}
}

func coerceFloat(f float64) (any, error) {
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("expected integer, got %v", f)
	}
	return int64(f), nil
}

// deref unwraps pointers, returning nil for nil pointers.
func deref(value any) any {
	if value == nil {
		return nil
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}
