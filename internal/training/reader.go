package training

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Step keys understood in stories and rules.
const (
	KeyIntent     = "intent"
	KeyUser       = "user"
	KeyEntities   = "entities"
	KeyAction     = "action"
	KeySlotWasSet = "slot_was_set"
	KeyActiveLoop = "active_loop"
	KeyCheckpoint = "checkpoint"
	KeyOr         = "or"
)

// block is one entry of the stories or rules section.
type block struct {
	Story             string           `mapstructure:"story"`
	Rule              string           `mapstructure:"rule"`
	Steps             []map[string]any `mapstructure:"steps"`
	Condition         []map[string]any `mapstructure:"condition"`
	ConversationStart bool             `mapstructure:"conversation_start"`
	WaitForUserInput  *bool            `mapstructure:"wait_for_user_input"`
}

// Reader turns story and rule documents into story steps.
type Reader struct {
	ids    IDGenerator
	logger *slog.Logger
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithIDs sets the generator for step ids and generated checkpoints.
func WithIDs(ids IDGenerator) ReaderOption {
	return func(r *Reader) {
		r.ids = ids
	}
}

// WithReaderLogger sets the logger.
func WithReaderLogger(logger *slog.Logger) ReaderOption {
	return func(r *Reader) {
		r.logger = logger
	}
}

// NewReader returns a reader using UUID based step ids.
func NewReader(opts ...ReaderOption) *Reader {
	r := &Reader{ids: NewUUIDs(), logger: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadFile reads a YAML document with stories and rules sections.
func (r *Reader) ReadFile(path string) ([]*StoryStep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read training file: %w", err)
	}
	return r.Read(data, path)
}

// Read parses a YAML document. source names the document in errors and steps.
func (r *Reader) Read(data []byte, source string) ([]*StoryStep, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: invalid training yaml: %w", source, err)
	}
	return r.FromMap(raw, source)
}

// FromMap reads an already decoded document.
func (r *Reader) FromMap(raw map[string]any, source string) ([]*StoryStep, error) {
	var steps []*StoryStep
	for _, section := range []string{"stories", "rules"} {
		v, ok := raw[section]
		if !ok || v == nil {
			continue
		}
		var blocks []block
		if err := decode(v, &blocks); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", source, section, err)
		}
		for i, b := range blocks {
			parsed, err := r.readBlock(b, source)
			if err != nil {
				return nil, fmt.Errorf("%s: %s[%d]: %w", source, section, i, err)
			}
			steps = append(steps, parsed...)
		}
	}
	return steps, nil
}

func (r *Reader) readBlock(b block, source string) ([]*StoryStep, error) {
	isRule := b.Rule != ""
	name := b.Story
	if isRule {
		name = b.Rule
	}
	if name == "" {
		return nil, fmt.Errorf("entry needs a story or rule name")
	}
	if len(b.Steps) == 0 {
		return nil, fmt.Errorf("%q has no steps", name)
	}
	if !isRule && (len(b.Condition) > 0 || b.ConversationStart || b.WaitForUserInput != nil) {
		r.logger.Warn("rule properties ignored in story", "story", name, "source", source)
	}

	sb := &stepBuilder{name: name, source: source, isRule: isRule, ids: r.ids}
	if isRule {
		if !b.ConversationStart {
			sb.addEvents(snippet())
		}
		for _, c := range b.Condition {
			events, err := conditionEvents(c)
			if err != nil {
				return nil, fmt.Errorf("%q condition: %w", name, err)
			}
			sb.addEvents(events...)
		}
	}
	for _, item := range b.Steps {
		if err := r.readStep(sb, item); err != nil {
			return nil, fmt.Errorf("%q: %w", name, err)
		}
	}
	if isRule && b.WaitForUserInput != nil && !*b.WaitForUserInput {
		sb.addEvents(snippet())
	}
	return sb.flush(), nil
}

func snippet() domain.Event {
	return &domain.ActionExecuted{ActionName: domain.RuleSnippetAction}
}

func (r *Reader) readStep(sb *stepBuilder, item map[string]any) error {
	switch {
	case has(item, KeyCheckpoint):
		name, ok := item[KeyCheckpoint].(string)
		if !ok || name == "" {
			return fmt.Errorf("checkpoint needs a name")
		}
		conds, err := slotValues(item[KeySlotWasSet])
		if err != nil {
			return err
		}
		sb.addCheckpoint(name, conds)
		return nil
	case has(item, KeyOr):
		alts, ok := item[KeyOr].([]any)
		if !ok || len(alts) == 0 {
			return fmt.Errorf("or needs a list of steps")
		}
		var options [][]domain.Event
		for _, a := range alts {
			m, ok := a.(map[string]any)
			if !ok {
				return fmt.Errorf("or: unexpected step %v", a)
			}
			events, err := stepEvents(m)
			if err != nil {
				return fmt.Errorf("or: %w", err)
			}
			options = append(options, events)
		}
		sb.addAlternatives(options)
		return nil
	default:
		events, err := stepEvents(item)
		if err != nil {
			return err
		}
		sb.addEvents(events...)
		return nil
	}
}

// stepEvents converts a plain step into the events it stands for.
func stepEvents(item map[string]any) ([]domain.Event, error) {
	switch {
	case has(item, KeyIntent), has(item, KeyUser):
		u := &domain.UserUttered{Intent: domain.Intent{Confidence: 1}}
		u.Intent.Name, _ = item[KeyIntent].(string)
		u.Text, _ = item[KeyUser].(string)
		entities, err := slotValues(item[KeyEntities])
		if err != nil {
			return nil, fmt.Errorf("entities: %w", err)
		}
		for _, name := range sortedKeys(entities) {
			u.Entities = append(u.Entities, domain.Entity{Entity: name, Value: entities[name]})
		}
		return []domain.Event{u}, nil
	case has(item, KeyAction):
		name, ok := item[KeyAction].(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("action needs a name")
		}
		return []domain.Event{&domain.ActionExecuted{ActionName: name}}, nil
	case has(item, KeySlotWasSet):
		values, err := slotValues(item[KeySlotWasSet])
		if err != nil {
			return nil, err
		}
		var events []domain.Event
		for _, name := range sortedKeys(values) {
			events = append(events, &domain.SlotSet{Key: name, Value: values[name]})
		}
		return events, nil
	case has(item, KeyActiveLoop):
		name, _ := item[KeyActiveLoop].(string)
		return []domain.Event{&domain.ActiveLoopChanged{Name: name}}, nil
	default:
		return nil, fmt.Errorf("unknown step %v", item)
	}
}

// conditionEvents converts a rule condition. A null value requires the slot
// or loop to be unset.
func conditionEvents(item map[string]any) ([]domain.Event, error) {
	switch {
	case has(item, KeyActiveLoop):
		name, _ := item[KeyActiveLoop].(string)
		if name == "" {
			name = domain.ShouldNotBeSet
		}
		return []domain.Event{&domain.ActiveLoopChanged{Name: name}}, nil
	case has(item, KeySlotWasSet):
		values, err := slotValues(item[KeySlotWasSet])
		if err != nil {
			return nil, err
		}
		var events []domain.Event
		for _, name := range sortedKeys(values) {
			value := values[name]
			if value == nil {
				value = domain.ShouldNotBeSet
			}
			events = append(events, &domain.SlotSet{Key: name, Value: value})
		}
		return events, nil
	default:
		return nil, fmt.Errorf("unsupported condition %v", item)
	}
}

// slotValues reads a list of `name: value` pairs or bare names. A bare name
// stands for a set slot with value true.
func slotValues(v any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	out := make(map[string]any)
	add := func(item any) error {
		switch x := item.(type) {
		case string:
			out[x] = true
		case map[string]any:
			for k, val := range x {
				out[k] = val
			}
		default:
			return fmt.Errorf("unexpected entry %v", item)
		}
		return nil
	}
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			if err := add(item); err != nil {
				return nil, err
			}
		}
	default:
		if err := add(x); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func has(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
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

// stepBuilder splits one story or rule into steps at its checkpoints.
type stepBuilder struct {
	name   string
	source string
	isRule bool
	ids    IDGenerator

	starts  []Checkpoint
	current []*StoryStep
	done    []*StoryStep
}

func (b *stepBuilder) newStep(start []Checkpoint) *StoryStep {
	return &StoryStep{
		ID:         b.ids.NextID(),
		BlockName:  b.name,
		SourceName: b.source,
		IsRule:     b.isRule,
		Start:      start,
	}
}

// addCheckpoint starts the block when nothing was read yet, and ends the
// current steps otherwise.
func (b *stepBuilder) addCheckpoint(name string, conds map[string]any) {
	if len(b.current) == 0 {
		b.starts = append(b.starts, Checkpoint{Name: name, Conditions: conds})
		return
	}
	var extra []*StoryStep
	for _, s := range b.current {
		if len(s.End) > 0 {
			c := s.copyAs(b.ids.NextID())
			c.End = []Checkpoint{{Name: name}}
			extra = append(extra, c)
			continue
		}
		s.End = []Checkpoint{{Name: name}}
	}
	b.current = append(b.current, extra...)
}

func (b *stepBuilder) addEvents(events ...domain.Event) {
	b.ensureCurrent()
	for _, s := range b.current {
		s.Events = append(s.Events, events...)
	}
}

// addAlternatives forks the current steps once per alternative and joins the
// forks again at a generated checkpoint.
func (b *stepBuilder) addAlternatives(alts [][]domain.Event) {
	if len(alts) == 1 {
		b.addEvents(alts[0]...)
		return
	}
	b.ensureCurrent()
	join := Checkpoint{Name: GeneratedPrefix + shortID(b.ids.NextID())}
	var forks []*StoryStep
	for _, s := range b.current {
		for _, events := range alts {
			c := s.copyAs(b.ids.NextID())
			c.Events = append(c.Events, events...)
			c.End = []Checkpoint{join}
			forks = append(forks, c)
		}
	}
	b.current = forks
}

// ensureCurrent finishes steps that already have an end checkpoint and, if
// none is left open, starts a new step from those checkpoints.
func (b *stepBuilder) ensureCurrent() {
	var open []*StoryStep
	for _, s := range b.current {
		if len(s.End) > 0 {
			b.done = append(b.done, s)
		} else {
			open = append(open, s)
		}
	}
	if len(open) > 0 {
		b.current = open
		return
	}
	b.current = []*StoryStep{b.newStep(b.prevEnds())}
}

func (b *stepBuilder) prevEnds() []Checkpoint {
	if len(b.current) == 0 {
		if len(b.starts) == 0 {
			return []Checkpoint{{Name: StoryStart}}
		}
		return b.starts
	}
	seen := make(map[string]bool)
	var out []Checkpoint
	for _, s := range b.current {
		for _, cp := range s.End {
			if !seen[cp.Name] {
				seen[cp.Name] = true
				out = append(out, Checkpoint{Name: cp.Name})
			}
		}
	}
	return out
}

// flush returns every step of the block. A block ending in alternatives gets
// an empty closing step so the forks still end the story.
func (b *stepBuilder) flush() []*StoryStep {
	generatedEnd := len(b.current) > 0
	for _, s := range b.current {
		if len(s.End) != 1 || !strings.HasPrefix(s.End[0].Name, GeneratedPrefix) {
			generatedEnd = false
		}
	}
	if generatedEnd {
		b.ensureCurrent()
	}
	return append(b.done, b.current...)
}
