package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// Type defines the contract for value validation.
type Type interface {
	// Name returns the human-readable name of the type (e.g., "text", "[any]").
	Name() string
	// Validate checks if a value conforms to this type.
	Validate(value any) error
}

type stringType struct{}

func (stringType) Name() string { return "text" }

func (stringType) Validate(value any) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("expected text, got %T", value)
	}
	return nil
}

type floatType struct{}

func (floatType) Name() string { return "float" }

func (floatType) Validate(value any) error {
	switch value.(type) {
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	default:
		return fmt.Errorf("expected number, got %T", value)
	}
}

type boolType struct{}

func (boolType) Name() string { return "bool" }

func (boolType) Validate(value any) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("expected bool, got %T", value)
	}
	return nil
}

type anyType struct{}

func (anyType) Name() string { return "any" }

func (anyType) Validate(any) error { return nil }

type sliceType struct {
	elem Type
}

func (t sliceType) Name() string { return "[" + t.elem.Name() + "]" }

func (t sliceType) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Errorf("expected list, got %T", value)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := t.elem.Validate(rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

type oneOfType struct {
	values []string
}

func (t oneOfType) Name() string { return "(" + strings.Join(t.values, "|") + ")" }

// Validate compares case-insensitively, like categorical slot featurization.
func (t oneOfType) Validate(value any) error {
	got := strings.ToLower(fmt.Sprint(value))
	for _, v := range t.values {
		if strings.ToLower(v) == got {
			return nil
		}
	}
	return fmt.Errorf("expected one of %v, got %v", t.values, value)
}

type optionalType struct {
	inner Type
}

func (t optionalType) Name() string { return "?" + t.inner.Name() }

func (t optionalType) Validate(value any) error {
	if value == nil {
		return nil
	}
	return t.inner.Validate(value)
}

type customType struct {
	name     string
	validate func(any) error
}

func (t customType) Name() string { return t.name }

func (t customType) Validate(value any) error { return t.validate(value) }

// String accepts text values.
func String() Type { return stringType{} }

// Float accepts any numeric value.
func Float() Type { return floatType{} }

// Bool accepts booleans.
func Bool() Type { return boolType{} }

// Any accepts every value, including nil.
func Any() Type { return anyType{} }

// Slice accepts lists whose elements all match elem.
func Slice(elem Type) Type { return sliceType{elem: elem} }

// OneOf accepts one of a fixed set of values.
func OneOf(values ...string) Type { return oneOfType{values: values} }

// Optional accepts nil in addition to what inner accepts.
func Optional(inner Type) Type {
	if _, ok := inner.(optionalType); ok {
		return inner
	}
	return optionalType{inner: inner}
}

// Custom creates a type with a user-defined validation function.
func Custom(name string, validate func(any) error) Type {
	return customType{name: name, validate: validate}
}

// ParseType converts a type name produced by Type.Name back into a Type.
func ParseType(name string) (Type, error) {
	switch {
	case strings.HasPrefix(name, "?"):
		inner, err := ParseType(name[1:])
		if err != nil {
			return nil, err
		}
		return Optional(inner), nil
	case len(name) > 2 && name[0] == '[' && name[len(name)-1] == ']':
		elem, err := ParseType(name[1 : len(name)-1])
		if err != nil {
			return nil, err
		}
		return Slice(elem), nil
	case len(name) > 2 && name[0] == '(' && name[len(name)-1] == ')':
		return OneOf(strings.Split(name[1:len(name)-1], "|")...), nil
	}

	switch name {
	case "text", "string":
		return String(), nil
	case "float", "int":
		return Float(), nil
	case "bool":
		return Bool(), nil
	case "any":
		return Any(), nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", name)
	}
}

// ParseTypeMap converts a map of field names to type names into a Schema.
func ParseTypeMap(typeMap map[string]string) (Schema, error) {
	result := make(Schema, len(typeMap))
	for key, name := range typeMap {
		t, err := ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		result[key] = t
	}
	return result, nil
}
