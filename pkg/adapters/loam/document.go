package loam

import "fmt"

// ProjectFile is the typed view of a project document.
// Domain and training files share one repository, so every section is optional.
// It uses "mapstructure" tags to match the YAML keys of the project files.
type ProjectFile struct {
	Version string `json:"version" mapstructure:"version"`

	// Training data
	Stories []any `json:"stories" mapstructure:"stories"`
	Rules   []any `json:"rules" mapstructure:"rules"`

	// Domain
	Intents       []any          `json:"intents" mapstructure:"intents"`
	Entities      []any          `json:"entities" mapstructure:"entities"`
	Slots         map[string]any `json:"slots" mapstructure:"slots"`
	Responses     map[string]any `json:"responses" mapstructure:"responses"`
	Actions       []any          `json:"actions" mapstructure:"actions"`
	Forms         any            `json:"forms" mapstructure:"forms"`
	SessionConfig map[string]any `json:"session_config" mapstructure:"session_config"`
}

// IsTraining reports whether the file holds stories or rules.
func (f ProjectFile) IsTraining() bool {
	return len(f.Stories) > 0 || len(f.Rules) > 0
}

func (f ProjectFile) domainMap() map[string]any {
	raw := map[string]any{}
	set := func(key string, v any, present bool) {
		if present {
			raw[key] = normalize(v)
		}
	}
	set("intents", f.Intents, f.Intents != nil)
	set("entities", f.Entities, f.Entities != nil)
	set("slots", f.Slots, f.Slots != nil)
	set("responses", f.Responses, f.Responses != nil)
	set("actions", f.Actions, f.Actions != nil)
	set("forms", f.Forms, f.Forms != nil)
	set("session_config", f.SessionConfig, f.SessionConfig != nil)
	return raw
}

func (f ProjectFile) trainingMap() map[string]any {
	raw := map[string]any{}
	if f.Version != "" {
		raw["version"] = f.Version
	}
	if f.Stories != nil {
		raw["stories"] = normalize(f.Stories)
	}
	if f.Rules != nil {
		raw["rules"] = normalize(f.Rules)
	}
	return raw
}

// normalize converts the map[interface{}]interface{} values some YAML
// decoders produce into map[string]any, recursively.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[k] = normalize(sub)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[fmt.Sprint(k)] = normalize(sub)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = normalize(sub)
		}
		return out
	default:
		return v
	}
}
