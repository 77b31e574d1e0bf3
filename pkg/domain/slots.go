package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/aretw0/tendril/pkg/schema"
)

// SlotType selects how a slot value is featurized.
type SlotType string

const (
	SlotText        SlotType = "text"
	SlotBool        SlotType = "bool"
	SlotFloat       SlotType = "float"
	SlotCategorical SlotType = "categorical"
	SlotList        SlotType = "list"
	SlotAny         SlotType = "any"
)

// Slot declares a piece of memory the bot keeps during a conversation.
type Slot struct {
	Name         string   `json:"name" mapstructure:"name"`
	Type         SlotType `json:"type" mapstructure:"type"`
	InitialValue any      `json:"initial_value,omitempty" mapstructure:"initial_value"`
	AutoFill     bool     `json:"auto_fill" mapstructure:"auto_fill"`
	Values       []string `json:"values,omitempty" mapstructure:"values"`
	MinValue     float64  `json:"min_value,omitempty" mapstructure:"min_value"`
	MaxValue     float64  `json:"max_value,omitempty" mapstructure:"max_value"`
}

// validate checks the declaration itself, not a value.
func (s Slot) validate() error {
	switch s.Type {
	case SlotText, SlotBool, SlotList, SlotAny:
	case SlotFloat:
		if s.MaxValue < s.MinValue {
			return fmt.Errorf("slot %q: max_value %v is lower than min_value %v", s.Name, s.MaxValue, s.MinValue)
		}
	case SlotCategorical:
		if len(s.Values) == 0 {
			return fmt.Errorf("slot %q: categorical slot needs values", s.Name)
		}
	default:
		return fmt.Errorf("slot %q: unknown type %q", s.Name, s.Type)
	}
	return nil
}

// ValueType returns the schema type of the values this slot accepts.
// A nil value always validates, since it clears the slot.
func (s Slot) ValueType() schema.Type {
	switch s.Type {
	case SlotText:
		return schema.Optional(schema.String())
	case SlotBool:
		return schema.Optional(schema.Bool())
	case SlotFloat:
		return schema.Optional(schema.Float())
	case SlotList:
		return schema.Optional(schema.Slice(schema.Any()))
	case SlotCategorical:
		return schema.Optional(schema.OneOf(s.Values...))
	default:
		return schema.Any()
	}
}

// FeatureDimensionality is the length of the vector returned by Features.
func (s Slot) FeatureDimensionality() int {
	switch s.Type {
	case SlotBool:
		return 2
	case SlotCategorical:
		return len(s.Values)
	case SlotAny:
		return 0
	default:
		return 1
	}
}

// Features encodes value for the turn state.
func (s Slot) Features(value any) []float64 {
	out := make([]float64, s.FeatureDimensionality())
	if len(out) == 0 || value == nil {
		return out
	}
	switch s.Type {
	case SlotText:
		out[0] = 1
	case SlotBool:
		out[0] = 1
		if truthy(value) {
			out[1] = 1
		}
	case SlotList:
		rv := reflect.ValueOf(value)
		if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Len() > 0 {
			out[0] = 1
		}
	case SlotFloat:
		f, ok := toFloat(value)
		if !ok {
			return out
		}
		lo, hi := s.MinValue, s.MaxValue
		if hi == lo {
			lo, hi = 0, 1
		}
		v := (f - lo) / (hi - lo)
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		out[0] = v
	case SlotCategorical:
		want := strings.ToLower(fmt.Sprint(value))
		for i, v := range s.Values {
			if strings.ToLower(v) == want {
				out[i] = 1
				break
			}
		}
	}
	return out
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(b) {
		case "true", "yes", "1":
			return true
		}
		return false
	default:
		f, ok := toFloat(v)
		return ok && f != 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func anyNonZero(features []float64) bool {
	for _, f := range features {
		if f != 0 {
			return true
		}
	}
	return false
}
