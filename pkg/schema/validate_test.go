package schema

import (
	"errors"
	"strings"
	"testing"
)

func slotSchema() Schema {
	return Schema{
		"city":     Optional(String()),
		"size":     Optional(OneOf("small", "large")),
		"vip":      Optional(Bool()),
		"toppings": Optional(Slice(Any())),
	}
}

func TestValidate_PresentFieldsOnly(t *testing.T) {
	err := Validate(slotSchema(), map[string]any{"city": "Lisbon", "vip": nil})
	if err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidate_CollectsAllErrorsInKeyOrder(t *testing.T) {
	err := Validate(slotSchema(), map[string]any{
		"size":    "medium",
		"city":    12,
		"unknown": "x",
	})
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}

	errs := ValidationErrors(err)
	if len(errs) != 3 {
		t.Fatalf("got %d errors, want 3: %v", len(errs), err)
	}
	var keys []string
	for _, e := range errs {
		var ve *ValidationError
		if !errors.As(e, &ve) {
			t.Fatalf("error %v is not a ValidationError", e)
		}
		keys = append(keys, ve.Key)
	}
	if strings.Join(keys, ",") != "city,size,unknown" {
		t.Errorf("keys = %v", keys)
	}
}

func TestValidateValue(t *testing.T) {
	if err := ValidateValue(slotSchema(), "toppings", []string{"ham"}); err != nil {
		t.Errorf("ValidateValue() = %v, want nil", err)
	}
	if err := ValidateValue(slotSchema(), "missing", 1); err == nil {
		t.Error("ValidateValue(missing) = nil, want error")
	}
}

func TestRequire(t *testing.T) {
	data := map[string]any{"city": "Porto", "size": nil}

	if err := Require(slotSchema(), data, "city"); err != nil {
		t.Errorf("Require(city) = %v, want nil", err)
	}

	err := Require(slotSchema(), data, "city", "size", "vip")
	errs := ValidationErrors(err)
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), err)
	}
}

func TestValidationError_String(t *testing.T) {
	tests := []struct {
		err  *ValidationError
		want string
	}{
		{&ValidationError{Key: "city", Reason: "required"}, "city: required"},
		{&ValidationError{Key: "vip", Reason: "expected bool", Value: "yes"}, "vip: expected bool (got string)"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestAggregateError(t *testing.T) {
	inner := &ValidationError{Key: "a", Reason: "required"}
	aggr := &AggregateError{Errors: []error{inner, &ValidationError{Key: "b", Reason: "required"}}}

	if !strings.Contains(aggr.Error(), "2 validation errors") {
		t.Errorf("Error() = %q", aggr.Error())
	}

	var ve *ValidationError
	if !errors.As(aggr, &ve) || ve != inner {
		t.Error("errors.As did not reach the first failure")
	}

	if ValidationErrors(errors.New("plain")) != nil {
		t.Error("ValidationErrors(plain) should be nil")
	}
}
