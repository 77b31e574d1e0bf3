package domain

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/schema"
)

// IntentSpec declares an intent and how its entities are featurized.
type IntentSpec struct {
	Name string `json:"name" mapstructure:"name"`
	// UseEntities lists the entities kept for this intent; nil keeps all of them.
	UseEntities []string `json:"use_entities,omitempty" mapstructure:"use_entities"`
	// IgnoreAllEntities drops every entity (use_entities: false).
	IgnoreAllEntities bool     `json:"ignore_all_entities,omitempty" mapstructure:"ignore_all_entities"`
	IgnoreEntities    []string `json:"ignore_entities,omitempty" mapstructure:"ignore_entities"`
	// Triggers names an action that always follows this intent.
	Triggers string `json:"triggers,omitempty" mapstructure:"triggers"`
}

// Button is a quick reply attached to a response.
type Button struct {
	Title   string `json:"title" mapstructure:"title"`
	Payload string `json:"payload" mapstructure:"payload"`
}

// Response is one variant of a bot response template.
type Response struct {
	Text    string         `json:"text,omitempty" mapstructure:"text"`
	Channel string         `json:"channel,omitempty" mapstructure:"channel"`
	Image   string         `json:"image,omitempty" mapstructure:"image"`
	Buttons []Button       `json:"buttons,omitempty" mapstructure:"buttons"`
	Custom  map[string]any `json:"custom,omitempty" mapstructure:"custom"`
}

// Form is a loop that fills RequiredSlots in order.
type Form struct {
	Name          string   `json:"name" mapstructure:"name"`
	RequiredSlots []string `json:"required_slots" mapstructure:"required_slots"`
}

// SessionConfig controls session expiry.
type SessionConfig struct {
	// ExpirationMinutes disables expiry when zero or negative.
	ExpirationMinutes float64 `json:"session_expiration_time" mapstructure:"session_expiration_time"`
	CarryOverSlots    bool    `json:"carry_over_slots_to_new_session" mapstructure:"carry_over_slots_to_new_session"`
}

// DefaultSessionConfig is used when a domain declares none.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{ExpirationMinutes: 60, CarryOverSlots: true}
}

// Enabled reports whether sessions expire.
func (c SessionConfig) Enabled() bool { return c.ExpirationMinutes > 0 }

// Expiration returns the expiry window as a duration.
func (c SessionConfig) Expiration() time.Duration {
	return time.Duration(c.ExpirationMinutes * float64(time.Minute))
}

// Config is the raw description a Domain is built from.
type Config struct {
	Intents   []IntentSpec
	Entities  []string
	Slots     []Slot
	Responses map[string][]Response
	Actions   []string
	Forms     []Form
	Session   *SessionConfig
}

// Domain is the immutable vocabulary of a bot. It is safe for concurrent use.
type Domain struct {
	intents      []IntentSpec
	intentIndex  map[string]int
	usedEntities map[string]map[string]bool

	entities  []string
	slots     []Slot
	slotIndex map[string]int

	responses map[string][]Response
	forms     []Form
	formIndex map[string]int

	userActions []string
	actionNames []string
	actionIndex map[string]int

	session SessionConfig
	logger  *slog.Logger
}

// Option configures a Domain.
type Option func(*Domain)

// WithLogger sets the logger used for load-time warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Domain) {
		d.logger = logger
	}
}

// New validates cfg and builds a Domain. Every violation is reported at once
// inside a *ConfigurationError.
func New(cfg Config, opts ...Option) (*Domain, error) {
	d := &Domain{
		logger:      logging.NewNop(),
		session:     DefaultSessionConfig(),
		responses:   make(map[string][]Response, len(cfg.Responses)),
		intentIndex: make(map[string]int),
		slotIndex:   make(map[string]int),
		formIndex:   make(map[string]int),
		actionIndex: make(map[string]int),
	}
	for _, opt := range opts {
		opt(d)
	}
	if cfg.Session != nil {
		d.session = *cfg.Session
	}

	var errs []error
	errs = append(errs, duplicates("entities", cfg.Entities)...)
	d.entities = append([]string(nil), cfg.Entities...)

	errs = append(errs, d.initIntents(cfg.Intents)...)
	errs = append(errs, d.initSlots(cfg.Slots, len(cfg.Forms) > 0)...)

	for name, variants := range cfg.Responses {
		d.responses[name] = append([]Response(nil), variants...)
	}

	d.forms = append([]Form(nil), cfg.Forms...)
	formNames := make([]string, 0, len(d.forms))
	for i, f := range d.forms {
		d.formIndex[f.Name] = i
		formNames = append(formNames, f.Name)
		for _, s := range f.RequiredSlots {
			if _, ok := d.slotIndex[s]; !ok {
				errs = append(errs, &schema.ValidationError{Key: "forms." + f.Name, Reason: fmt.Sprintf("required slot %q is not declared", s)})
			}
		}
	}
	errs = append(errs, duplicates("forms", formNames)...)

	errs = append(errs, duplicates("actions", cfg.Actions)...)
	d.userActions = combineWithResponses(cfg.Actions, d.responses)
	d.actionNames = append(append([]string(nil), DefaultActions...), d.userActions...)
	d.actionNames = append(d.actionNames, formNames...)
	for _, f := range formNames {
		if IsDefaultAction(f) || contains(d.userActions, f) {
			errs = append(errs, &schema.ValidationError{Key: "forms." + f, Reason: "form name clashes with an action"})
		}
	}
	for i, a := range d.actionNames {
		if _, ok := d.actionIndex[a]; !ok {
			d.actionIndex[a] = i
		}
	}

	for _, in := range d.intents {
		if in.Triggers != "" {
			if _, ok := d.actionIndex[in.Triggers]; !ok {
				errs = append(errs, &schema.ValidationError{Key: "intents." + in.Name, Reason: fmt.Sprintf("triggers unknown action %q", in.Triggers)})
			}
		}
	}

	if len(errs) > 0 {
		return nil, &ConfigurationError{Cause: &schema.AggregateError{Errors: errs}}
	}

	for _, a := range d.actionNames {
		if strings.HasPrefix(a, UtterPrefix) {
			if _, ok := d.responses[a]; !ok {
				d.logger.Warn("response action has no template", "action", a)
			}
		}
	}
	return d, nil
}

func (d *Domain) initIntents(specs []IntentSpec) []error {
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	errs := duplicates("intents", names)

	for _, s := range specs {
		if _, ok := d.intentIndex[s.Name]; ok {
			continue
		}
		d.addIntent(s)
	}
	for _, name := range DefaultIntents {
		if _, ok := d.intentIndex[name]; !ok {
			d.addIntent(IntentSpec{Name: name})
		}
	}
	return errs
}

func (d *Domain) addIntent(s IntentSpec) {
	included := make(map[string]bool)
	switch {
	case s.IgnoreAllEntities:
	case s.UseEntities == nil:
		for _, e := range d.entities {
			included[e] = true
		}
	default:
		for _, e := range s.UseEntities {
			included[e] = true
		}
	}

	var ambiguous []string
	for _, e := range s.IgnoreEntities {
		if included[e] && s.UseEntities != nil {
			ambiguous = append(ambiguous, e)
		}
		delete(included, e)
	}
	if len(ambiguous) > 0 {
		sort.Strings(ambiguous)
		d.logger.Warn("entities are both included and excluded; exclusion wins",
			"intent", s.Name, "entities", ambiguous)
	}

	if d.usedEntities == nil {
		d.usedEntities = make(map[string]map[string]bool)
	}
	d.usedEntities[s.Name] = included
	d.intentIndex[s.Name] = len(d.intents)
	d.intents = append(d.intents, s)
}

func (d *Domain) initSlots(slots []Slot, hasForms bool) []error {
	var errs []error
	names := make([]string, 0, len(slots))
	for _, s := range slots {
		names = append(names, s.Name)
		if err := s.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, duplicates("slots", names)...)

	defs := append([]Slot(nil), slots...)
	if hasForms && !contains(names, SlotRequested) {
		defs = append(defs, Slot{Name: SlotRequested, Type: SlotAny})
	}
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	for i, s := range defs {
		if _, ok := d.slotIndex[s.Name]; !ok {
			d.slotIndex[s.Name] = i
		}
	}
	d.slots = defs
	return errs
}

// combineWithResponses appends response names that are not listed as actions.
func combineWithResponses(actions []string, responses map[string][]Response) []string {
	seen := make(map[string]bool, len(actions))
	var out []string
	for _, a := range actions {
		if IsDefaultAction(a) || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	extra := make([]string, 0, len(responses))
	for name := range responses {
		if !seen[name] && !IsDefaultAction(name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func duplicates(section string, names []string) []error {
	seen := make(map[string]int, len(names))
	for _, n := range names {
		seen[n]++
	}
	var dup []string
	for n, c := range seen {
		if c > 1 {
			dup = append(dup, n)
		}
	}
	if len(dup) == 0 {
		return nil
	}
	sort.Strings(dup)
	return []error{&schema.ValidationError{Key: section, Reason: fmt.Sprintf("duplicate names %v", dup)}}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Intents returns the intent names, default intents last.
func (d *Domain) Intents() []string {
	out := make([]string, len(d.intents))
	for i, in := range d.intents {
		out[i] = in.Name
	}
	return out
}

// Intent returns the declaration of an intent.
func (d *Domain) Intent(name string) (IntentSpec, bool) {
	i, ok := d.intentIndex[name]
	if !ok {
		return IntentSpec{}, false
	}
	return d.intents[i], true
}

// TriggeredAction returns the action mapped to an intent, if any.
func (d *Domain) TriggeredAction(intent string) string {
	in, _ := d.Intent(intent)
	return in.Triggers
}

// Entities returns the declared entity names.
func (d *Domain) Entities() []string { return d.entities }

// Slots returns the slot declarations sorted by name.
func (d *Domain) Slots() []Slot { return d.slots }

// Slot returns the declaration of a slot.
func (d *Domain) Slot(name string) (Slot, bool) {
	i, ok := d.slotIndex[name]
	if !ok {
		return Slot{}, false
	}
	return d.slots[i], true
}

// Responses returns the variants of a response template.
func (d *Domain) Responses(name string) ([]Response, bool) {
	r, ok := d.responses[name]
	return r, ok
}

// Forms returns the form declarations.
func (d *Domain) Forms() []Form { return d.forms }

// Form returns the declaration of a form.
func (d *Domain) Form(name string) (Form, bool) {
	i, ok := d.formIndex[name]
	if !ok {
		return Form{}, false
	}
	return d.forms[i], true
}

// IsForm reports whether name is a form.
func (d *Domain) IsForm(name string) bool {
	_, ok := d.formIndex[name]
	return ok
}

// UserActions returns custom and response actions, without defaults and forms.
func (d *Domain) UserActions() []string { return d.userActions }

// ActionNames returns every action in index order.
func (d *Domain) ActionNames() []string { return d.actionNames }

// NumActions returns the length of a confidence vector.
func (d *Domain) NumActions() int { return len(d.actionNames) }

// HasAction reports whether name is an action of this domain.
func (d *Domain) HasAction(name string) bool {
	_, ok := d.actionIndex[name]
	return ok
}

// IndexForAction returns the position of an action in ActionNames.
func (d *Domain) IndexForAction(name string) (int, error) {
	i, ok := d.actionIndex[name]
	if !ok {
		return 0, &UnknownActionError{Action: name}
	}
	return i, nil
}

// ActionForIndex returns the action at position i.
func (d *Domain) ActionForIndex(i int) (string, error) {
	if i < 0 || i >= len(d.actionNames) {
		return "", fmt.Errorf("%w: %d (domain has %d actions)", ErrUnknownActionIndex, i, len(d.actionNames))
	}
	return d.actionNames[i], nil
}

// Session returns the session configuration.
func (d *Domain) Session() SessionConfig { return d.session }

// SlotsForEntities returns SlotSet events for auto-filled slots named after
// an extracted entity. List slots receive every matching value.
func (d *Domain) SlotsForEntities(entities []Entity) []Event {
	var events []Event
	for _, s := range d.slots {
		if !s.AutoFill {
			continue
		}
		var values []any
		for _, e := range entities {
			if e.Entity == s.Name {
				values = append(values, e.Value)
			}
		}
		if len(values) == 0 {
			continue
		}
		if s.Type == SlotList {
			events = append(events, &SlotSet{Key: s.Name, Value: values})
		} else {
			events = append(events, &SlotSet{Key: s.Name, Value: values[len(values)-1]})
		}
	}
	return events
}

// SlotSchema returns a schema describing the values each slot accepts.
func (d *Domain) SlotSchema() schema.Schema {
	s := make(schema.Schema, len(d.slots))
	for _, slot := range d.slots {
		s[slot.Name] = slot.ValueType()
	}
	return s
}

// NewTracker creates an empty tracker using this domain's slots.
func (d *Domain) NewTracker(senderID string) *Tracker {
	return NewTracker(senderID, d.slots)
}

// TrackerFromDialogue rebuilds a tracker by replaying a stored dialogue.
// Events naming unknown slots are kept in the log and logged.
func (d *Domain) TrackerFromDialogue(dlg *Dialogue) *Tracker {
	t := d.NewTracker(dlg.SenderID)
	for _, e := range dlg.Events {
		if err := t.Update(e); err != nil {
			d.logger.Warn("ignored event while restoring tracker", "sender_id", dlg.SenderID, "error", err)
		}
	}
	return t
}

type domainJSON struct {
	Intents   []IntentSpec          `json:"intents"`
	Entities  []string              `json:"entities"`
	Slots     []Slot                `json:"slots"`
	Responses map[string][]Response `json:"responses"`
	Actions   []string              `json:"actions"`
	Forms     []Form                `json:"forms"`
	Session   SessionConfig         `json:"session_config"`
	SlotTypes schema.Schema         `json:"slot_types"`
}

// MarshalJSON exposes the resolved domain.
func (d *Domain) MarshalJSON() ([]byte, error) {
	return json.Marshal(domainJSON{
		Intents:   d.intents,
		Entities:  d.entities,
		Slots:     d.slots,
		Responses: d.responses,
		Actions:   d.actionNames,
		Forms:     d.forms,
		Session:   d.session,
		SlotTypes: d.SlotSchema(),
	})
}
