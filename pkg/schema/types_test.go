package schema

import (
	"errors"
	"testing"
)

func TestTypes_Validate(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		value   any
		wantErr bool
	}{
		{"text ok", String(), "hello", false},
		{"text rejects number", String(), 42, true},
		{"text rejects nil", String(), nil, true},
		{"float accepts int", Float(), 3, false},
		{"float accepts float", Float(), 3.5, false},
		{"float rejects text", Float(), "3", true},
		{"bool ok", Bool(), true, false},
		{"bool rejects text", Bool(), "true", true},
		{"any accepts nil", Any(), nil, false},
		{"list of any", Slice(Any()), []any{1, "a"}, false},
		{"list rejects scalar", Slice(Any()), "a", true},
		{"list checks elements", Slice(String()), []any{"a", 2}, true},
		{"one of is case insensitive", OneOf("Small", "Large"), "small", false},
		{"one of rejects other", OneOf("small", "large"), "medium", true},
		{"optional accepts nil", Optional(String()), nil, false},
		{"optional checks inner", Optional(String()), 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.typ.Validate(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestOptional_DoesNotNest(t *testing.T) {
	typ := Optional(Optional(Bool()))
	if typ.Name() != "?bool" {
		t.Errorf("Name() = %q, want %q", typ.Name(), "?bool")
	}
}

func TestCustom(t *testing.T) {
	positive := Custom("positive", func(v any) error {
		if f, ok := v.(float64); ok && f > 0 {
			return nil
		}
		return errors.New("must be positive")
	})

	if positive.Name() != "positive" {
		t.Errorf("Name() = %q, want %q", positive.Name(), "positive")
	}
	if err := positive.Validate(2.0); err != nil {
		t.Errorf("Validate(2.0) = %v, want nil", err)
	}
	if err := positive.Validate(-1.0); err == nil {
		t.Error("Validate(-1.0) = nil, want error")
	}
}

func TestParseType_RoundTripsNames(t *testing.T) {
	types := []Type{
		String(),
		Float(),
		Bool(),
		Any(),
		Slice(Any()),
		OneOf("a", "b"),
		Optional(Slice(String())),
		Optional(OneOf("x", "y")),
	}
	for _, typ := range types {
		parsed, err := ParseType(typ.Name())
		if err != nil {
			t.Fatalf("ParseType(%q) error = %v", typ.Name(), err)
		}
		if parsed.Name() != typ.Name() {
			t.Errorf("ParseType(%q).Name() = %q", typ.Name(), parsed.Name())
		}
	}
}

func TestParseType_Unsupported(t *testing.T) {
	if _, err := ParseType("complex"); err == nil {
		t.Error("ParseType(complex) = nil error, want error")
	}
	if _, err := ParseTypeMap(map[string]string{"x": "[nope]"}); err == nil {
		t.Error("ParseTypeMap with bad element = nil error, want error")
	}
}

func TestSchema_JSON(t *testing.T) {
	s := Schema{"city": Optional(String()), "size": OneOf("s", "l")}
	data, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}

	var back Schema
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	if back["city"].Name() != "?text" || back["size"].Name() != "(s|l)" {
		t.Errorf("round trip = %v", back)
	}
}
