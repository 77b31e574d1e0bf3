package domain

import (
	"fmt"
	"os"
	"sort"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// LoadFile reads and validates a domain YAML file.
func LoadFile(path string, opts ...Option) (*Domain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read domain file: %w", err)
	}
	cfg, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(cfg, opts...)
}

// ParseYAML decodes a domain document. The order of form required slots is
// taken from the document even when they are written as a mapping.
func ParseYAML(data []byte) (Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Config{}, fmt.Errorf("invalid domain yaml: %w", err)
	}
	if len(root.Content) == 0 {
		return Config{}, nil
	}
	var raw map[string]any
	if err := root.Content[0].Decode(&raw); err != nil {
		return Config{}, fmt.Errorf("invalid domain yaml: %w", err)
	}
	cfg, err := ConfigFromMap(raw)
	if err != nil {
		return Config{}, err
	}
	applyFormSlotOrder(root.Content[0], cfg.Forms)
	return cfg, nil
}

// ConfigFromMap normalizes a decoded domain document. Mapping-style
// required_slots come out sorted, since map order is lost by then.
func ConfigFromMap(raw map[string]any) (Config, error) {
	var cfg Config
	var err error

	if cfg.Intents, err = parseIntents(raw["intents"]); err != nil {
		return Config{}, err
	}
	if cfg.Entities, err = parseEntities(raw["entities"]); err != nil {
		return Config{}, err
	}
	if cfg.Slots, err = parseSlots(raw["slots"]); err != nil {
		return Config{}, err
	}
	if cfg.Responses, err = parseResponses(raw["responses"]); err != nil {
		return Config{}, err
	}
	if cfg.Actions, err = stringList("actions", raw["actions"]); err != nil {
		return Config{}, err
	}
	if cfg.Forms, err = parseForms(raw["forms"]); err != nil {
		return Config{}, err
	}
	if sc, ok := raw["session_config"]; ok && sc != nil {
		session := DefaultSessionConfig()
		if err := decode(sc, &session); err != nil {
			return Config{}, fmt.Errorf("session_config: %w", err)
		}
		cfg.Session = &session
	}
	return cfg, nil
}

func decode(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func stringList(section string, v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	var out []string
	if err := decode(v, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", section, err)
	}
	return out, nil
}

func singleKey(section string, m map[string]any) (string, any, error) {
	if len(m) != 1 {
		return "", nil, fmt.Errorf("%s: expected a single name per entry, got %d", section, len(m))
	}
	for k, v := range m {
		return k, v, nil
	}
	return "", nil, nil
}

func parseIntents(v any) ([]IntentSpec, error) {
	items, ok := v.([]any)
	if v != nil && !ok {
		return nil, fmt.Errorf("intents: expected a list, got %T", v)
	}
	specs := make([]IntentSpec, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case string:
			specs = append(specs, IntentSpec{Name: it})
		case map[string]any:
			name, props, err := singleKey("intents", it)
			if err != nil {
				return nil, err
			}
			spec, err := parseIntentProps(name, props)
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
		default:
			return nil, fmt.Errorf("intents: unexpected entry %T", item)
		}
	}
	return specs, nil
}

func parseIntentProps(name string, v any) (IntentSpec, error) {
	spec := IntentSpec{Name: name}
	props, _ := v.(map[string]any)

	switch use := props["use_entities"].(type) {
	case nil:
	case bool:
		spec.IgnoreAllEntities = !use
	case []any:
		spec.UseEntities = make([]string, 0, len(use))
		for _, e := range use {
			spec.UseEntities = append(spec.UseEntities, fmt.Sprint(e))
		}
		spec.IgnoreAllEntities = len(use) == 0
	default:
		return IntentSpec{}, fmt.Errorf("intents.%s.use_entities: expected bool or list, got %T", name, use)
	}

	var err error
	if spec.IgnoreEntities, err = stringList("intents."+name+".ignore_entities", props["ignore_entities"]); err != nil {
		return IntentSpec{}, err
	}
	if t, ok := props["triggers"].(string); ok {
		spec.Triggers = t
	}
	return spec, nil
}

func parseEntities(v any) ([]string, error) {
	items, ok := v.([]any)
	if v != nil && !ok {
		return nil, fmt.Errorf("entities: expected a list, got %T", v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case string:
			out = append(out, it)
		case map[string]any:
			// roles and groups are accepted but not featurized
			name, _, err := singleKey("entities", it)
			if err != nil {
				return nil, err
			}
			out = append(out, name)
		default:
			return nil, fmt.Errorf("entities: unexpected entry %T", item)
		}
	}
	return out, nil
}

func parseSlots(v any) ([]Slot, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("slots: expected a mapping, got %T", v)
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	slots := make([]Slot, 0, len(m))
	for _, name := range names {
		slot := Slot{Name: name, Type: SlotText, AutoFill: true}
		if err := decode(m[name], &slot); err != nil {
			return nil, fmt.Errorf("slots.%s: %w", name, err)
		}
		slot.Name = name
		if slot.Type == "unfeaturized" {
			slot.Type = SlotAny
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func parseResponses(v any) (map[string][]Response, error) {
	if v == nil {
		return nil, nil
	}
	var out map[string][]Response
	if err := decode(v, &out); err != nil {
		return nil, fmt.Errorf("responses: %w", err)
	}
	return out, nil
}

func parseForms(v any) ([]Form, error) {
	switch forms := v.(type) {
	case nil:
		return nil, nil
	case []any:
		names, err := stringList("forms", forms)
		if err != nil {
			return nil, err
		}
		out := make([]Form, 0, len(names))
		for _, n := range names {
			out = append(out, Form{Name: n})
		}
		return out, nil
	case map[string]any:
		names := make([]string, 0, len(forms))
		for n := range forms {
			names = append(names, n)
		}
		sort.Strings(names)
		out := make([]Form, 0, len(names))
		for _, n := range names {
			form := Form{Name: n}
			props, _ := forms[n].(map[string]any)
			switch req := props["required_slots"].(type) {
			case nil:
			case []any:
				slots, err := stringList("forms."+n+".required_slots", req)
				if err != nil {
					return nil, err
				}
				form.RequiredSlots = slots
			case map[string]any:
				for s := range req {
					form.RequiredSlots = append(form.RequiredSlots, s)
				}
				sort.Strings(form.RequiredSlots)
			default:
				return nil, fmt.Errorf("forms.%s.required_slots: unexpected %T", n, req)
			}
			out = append(out, form)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("forms: expected a mapping or list, got %T", v)
	}
}

// applyFormSlotOrder restores document order for mapping-style required_slots.
func applyFormSlotOrder(doc *yaml.Node, forms []Form) {
	formsNode := mappingValue(doc, "forms")
	if formsNode == nil || formsNode.Kind != yaml.MappingNode {
		return
	}
	for i := range forms {
		formNode := mappingValue(formsNode, forms[i].Name)
		if formNode == nil {
			continue
		}
		req := mappingValue(formNode, "required_slots")
		if req == nil || req.Kind != yaml.MappingNode {
			continue
		}
		ordered := make([]string, 0, len(req.Content)/2)
		for j := 0; j+1 < len(req.Content); j += 2 {
			ordered = append(ordered, req.Content[j].Value)
		}
		forms[i].RequiredSlots = ordered
	}
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
