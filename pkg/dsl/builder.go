package dsl

import (
	"context"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/schema"
)

// DocumentID names the single training document a Loader returns.
const DocumentID = "dsl"

// Builder manages the project construction.
type Builder struct {
	cfg   domain.Config
	flows []*FlowBuilder
}

// New creates an empty project builder.
func New() *Builder {
	return &Builder{cfg: domain.Config{Responses: map[string][]domain.Response{}}}
}

// Intent declares intents.
func (b *Builder) Intent(names ...string) *Builder {
	for _, name := range names {
		b.cfg.Intents = append(b.cfg.Intents, domain.IntentSpec{Name: name})
	}
	return b
}

// TriggerIntent declares an intent that always runs action.
func (b *Builder) TriggerIntent(name, action string) *Builder {
	b.cfg.Intents = append(b.cfg.Intents, domain.IntentSpec{Name: name, Triggers: action})
	return b
}

// Entity declares entities.
func (b *Builder) Entity(names ...string) *Builder {
	b.cfg.Entities = append(b.cfg.Entities, names...)
	return b
}

// Slot declares a slot.
func (b *Builder) Slot(slot domain.Slot) *Builder {
	b.cfg.Slots = append(b.cfg.Slots, slot)
	return b
}

// Response adds text variants to the response name.
func (b *Builder) Response(name string, texts ...string) *Builder {
	for _, text := range texts {
		b.cfg.Responses[name] = append(b.cfg.Responses[name], domain.Response{Text: text})
	}
	return b
}

// Action declares custom actions.
func (b *Builder) Action(names ...string) *Builder {
	b.cfg.Actions = append(b.cfg.Actions, names...)
	return b
}

// Form declares a form asking for slots in order.
func (b *Builder) Form(name string, requiredSlots ...string) *Builder {
	b.cfg.Forms = append(b.cfg.Forms, domain.Form{Name: name, RequiredSlots: requiredSlots})
	return b
}

// Session sets the session configuration.
func (b *Builder) Session(cfg domain.SessionConfig) *Builder {
	b.cfg.Session = &cfg
	return b
}

// Story starts a story.
func (b *Builder) Story(name string) *FlowBuilder {
	return b.flow(sectionStories, name)
}

// Rule starts a rule.
func (b *Builder) Rule(name string) *FlowBuilder {
	return b.flow(sectionRules, name)
}

func (b *Builder) flow(section, name string) *FlowBuilder {
	f := &FlowBuilder{section: section, name: name}
	b.flows = append(b.flows, f)
	return f
}

// Build checks the project and compiles it into a Loader.
func (b *Builder) Build() (*Loader, error) {
	if _, err := domain.New(b.cfg); err != nil {
		return nil, fmt.Errorf("invalid domain: %w", err)
	}

	var errs []error
	data := map[string]any{}
	for _, f := range b.flows {
		if f.name == "" {
			errs = append(errs, &schema.ValidationError{Key: f.section, Reason: "needs a name"})
			continue
		}
		if len(f.steps) == 0 {
			errs = append(errs, &schema.ValidationError{Key: f.section, Reason: "has no steps", Value: f.name})
			continue
		}
		list, _ := data[f.section].([]any)
		data[f.section] = append(list, f.document())
	}
	if len(errs) > 0 {
		return nil, &schema.AggregateError{Errors: errs}
	}
	return &Loader{cfg: b.cfg, data: data}, nil
}

// Loader implements ports.ProjectLoader over a built project.
type Loader struct {
	cfg  domain.Config
	data map[string]any
}

// LoadDomain returns the declared domain.
func (l *Loader) LoadDomain(context.Context) (domain.Config, error) {
	return l.cfg, nil
}

// LoadTrainingData returns every story and rule as one document.
func (l *Loader) LoadTrainingData(context.Context) ([]ports.Document, error) {
	return []ports.Document{{ID: DocumentID, Data: l.data}}, nil
}
