package training

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/aretw0/tendril/pkg/domain"
)

// Reserved checkpoint names.
const (
	StoryStart = "STORY_START"

	GeneratedPrefix     = "GENR_"
	CyclePrefix         = "CYCL_"
	GeneratedHashLength = 5
)

// Checkpoint joins story steps. Conditions restrict which trackers may pass
// through it by slot value.
type Checkpoint struct {
	Name       string         `json:"name"`
	Conditions map[string]any `json:"conditions,omitempty"`
}

func (c Checkpoint) String() string {
	if len(c.Conditions) == 0 {
		return c.Name
	}
	conds, _ := json.Marshal(c.Conditions)
	return c.Name + string(conds)
}

// Admits reports whether a tracker satisfies the checkpoint conditions.
func (c Checkpoint) Admits(t *domain.Tracker) bool {
	for slot, want := range c.Conditions {
		if !reflect.DeepEqual(t.Slot(slot), want) {
			return false
		}
	}
	return true
}

// StoryStep is a straight sequence of events between checkpoints.
type StoryStep struct {
	ID         string
	BlockName  string
	SourceName string
	IsRule     bool
	Start      []Checkpoint
	End        []Checkpoint
	Events     []domain.Event
}

func (s *StoryStep) String() string {
	return fmt.Sprintf("StoryStep(%s %q)", s.ID, s.BlockName)
}

// copyWith returns a copy keeping the id, with fresh checkpoint slices.
func (s *StoryStep) copyWith() *StoryStep {
	c := *s
	c.Start = append([]Checkpoint(nil), s.Start...)
	c.End = append([]Checkpoint(nil), s.End...)
	c.Events = append([]domain.Event(nil), s.Events...)
	return &c
}

func (s *StoryStep) copyAs(id string) *StoryStep {
	c := s.copyWith()
	c.ID = id
	return c
}

// ExplicitEvents adds the events stories leave implicit: an action_listen
// before every user message, the slots filled from its entities and, for a
// step that ends the story, a final action_listen unless a rule snippet
// marker ends it.
func (s *StoryStep) ExplicitEvents(d *domain.Domain, appendFinalListen bool) []domain.Event {
	var events []domain.Event
	for _, e := range s.Events {
		if u, ok := e.(*domain.UserUttered); ok {
			events = addListen(events)
			events = append(events, u)
			events = append(events, d.SlotsForEntities(u.Entities)...)
			continue
		}
		events = append(events, e)
	}
	if len(s.End) == 0 && appendFinalListen && !endsWithSnippet(events) {
		events = addListen(events)
	}
	return events
}

func addListen(events []domain.Event) []domain.Event {
	if n := len(events); n > 0 {
		if a, ok := events[n-1].(*domain.ActionExecuted); ok && a.ActionName == domain.ActionListen {
			return events
		}
	}
	return append(events, &domain.ActionExecuted{ActionName: domain.ActionListen})
}

// endsWithSnippet reports whether a rule leaves the next turn open.
func endsWithSnippet(events []domain.Event) bool {
	if n := len(events); n > 0 {
		a, ok := events[n-1].(*domain.ActionExecuted)
		return ok && a.ActionName == domain.RuleSnippetAction
	}
	return false
}

func hasCheckpoint(cps []Checkpoint, name string, conds map[string]any) bool {
	for _, cp := range cps {
		if cp.Name == name && sameConditions(cp.Conditions, conds) {
			return true
		}
	}
	return false
}

func sameConditions(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
