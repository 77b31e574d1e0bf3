package schema

import "sort"

// Schema maps field names (slot names) to the type of value they accept.
type Schema map[string]Type

// Validate checks every field present in data. Fields missing from data are
// not required; fields missing from the schema are reported as undeclared.
// Errors are returned in field order inside an *AggregateError.
func Validate(schema Schema, data map[string]any) error {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		if err := schema.check(key, data[key]); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

// ValidateValue checks a single field.
func ValidateValue(schema Schema, key string, value any) error {
	if err := schema.check(key, value); err != nil {
		return err
	}
	return nil
}

// Require checks that each of fields is present in data with a non-nil, valid value.
func Require(schema Schema, data map[string]any, fields ...string) error {
	var errs []error
	for _, key := range fields {
		value, ok := data[key]
		if !ok || value == nil {
			errs = append(errs, &ValidationError{Key: key, Reason: "required"})
			continue
		}
		if err := schema.check(key, value); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

func (s Schema) check(key string, value any) *ValidationError {
	t, ok := s[key]
	if !ok {
		return &ValidationError{Key: key, Reason: "not declared", Value: value}
	}
	if err := t.Validate(value); err != nil {
		return &ValidationError{Key: key, Reason: err.Error(), Value: value}
	}
	return nil
}
