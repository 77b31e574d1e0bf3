package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"gopkg.in/yaml.v3"
)

// Loader implements ports.ProjectLoader over in-memory YAML documents.
type Loader struct {
	domain   []byte
	training map[string][]byte
}

// NewLoader creates a Loader from a domain document and training documents
// keyed by ID.
func NewLoader(domainYAML string, training map[string]string) *Loader {
	docs := make(map[string][]byte, len(training))
	for k, v := range training {
		docs[k] = []byte(v)
	}
	return &Loader{domain: []byte(domainYAML), training: docs}
}

// NewFromConfig creates a Loader from an already built domain description.
// This spares tests from writing YAML.
func NewFromConfig(cfg domain.Config, training map[string]string) (*Loader, error) {
	raw, err := yaml.Marshal(configDocument(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal domain: %w", err)
	}
	return NewLoader(string(raw), training), nil
}

func configDocument(cfg domain.Config) map[string]any {
	intents := make([]any, 0, len(cfg.Intents))
	for _, in := range cfg.Intents {
		props := map[string]any{}
		if in.Triggers != "" {
			props["triggers"] = in.Triggers
		}
		if in.IgnoreAllEntities {
			props["use_entities"] = false
		} else if in.UseEntities != nil {
			props["use_entities"] = in.UseEntities
		}
		if len(in.IgnoreEntities) > 0 {
			props["ignore_entities"] = in.IgnoreEntities
		}
		if len(props) == 0 {
			intents = append(intents, in.Name)
			continue
		}
		intents = append(intents, map[string]any{in.Name: props})
	}
	slots := map[string]any{}
	for _, s := range cfg.Slots {
		slot := map[string]any{"type": string(s.Type), "auto_fill": s.AutoFill}
		if s.InitialValue != nil {
			slot["initial_value"] = s.InitialValue
		}
		if len(s.Values) > 0 {
			slot["values"] = s.Values
		}
		if s.MinValue != 0 || s.MaxValue != 0 {
			slot["min_value"], slot["max_value"] = s.MinValue, s.MaxValue
		}
		slots[s.Name] = slot
	}
	forms := map[string]any{}
	for _, f := range cfg.Forms {
		forms[f.Name] = map[string]any{"required_slots": f.RequiredSlots}
	}
	responses := map[string]any{}
	for name, variants := range cfg.Responses {
		list := make([]any, 0, len(variants))
		for _, r := range variants {
			list = append(list, map[string]any{"text": r.Text, "channel": r.Channel})
		}
		responses[name] = list
	}
	doc := map[string]any{
		"intents":   intents,
		"entities":  cfg.Entities,
		"slots":     slots,
		"responses": responses,
		"actions":   cfg.Actions,
		"forms":     forms,
	}
	if cfg.Session != nil {
		doc["session_config"] = map[string]any{
			"session_expiration_time":         cfg.Session.ExpirationMinutes,
			"carry_over_slots_to_new_session": cfg.Session.CarryOverSlots,
		}
	}
	return doc
}

// LoadDomain parses the domain document.
func (l *Loader) LoadDomain(_ context.Context) (domain.Config, error) {
	return domain.ParseYAML(l.domain)
}

// LoadTrainingData decodes every training document, ordered by ID.
func (l *Loader) LoadTrainingData(_ context.Context) ([]ports.Document, error) {
	ids := make([]string, 0, len(l.training))
	for id := range l.training {
		ids = append(ids, id)
	}
	sort.Strings(ids) // Deterministic order

	docs := make([]ports.Document, 0, len(ids))
	for _, id := range ids {
		var data map[string]any
		if err := yaml.Unmarshal(l.training[id], &data); err != nil {
			return nil, fmt.Errorf("training document %s: %w", id, err)
		}
		if data == nil {
			data = map[string]any{}
		}
		docs = append(docs, ports.Document{ID: id, Data: data})
	}
	return docs, nil
}
