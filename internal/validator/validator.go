// Package validator checks that training data and the domain agree before an
// agent is trained on them.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/tendril/internal/training"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/schema"
)

// Report holds the outcome of a validation pass. Errors make training
// unreliable; warnings point at dead weight.
type Report struct {
	Errors   []error
	Warnings []string
}

// Err returns the errors as a single *schema.AggregateError, or nil.
func (r Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &schema.AggregateError{Errors: r.Errors}
}

type checker struct {
	d      *domain.Domain
	slots  schema.Schema
	report Report
	seen   map[string]bool
}

// Validate cross-checks story steps against the domain: every intent, entity,
// slot, action and loop used by a step must be declared, slot values should
// fit the slot type, every checkpoint a
// step starts from must be produced by another step, and every step must be
// reachable from the start of a story.
func Validate(d *domain.Domain, steps []*training.StoryStep) Report {
	c := &checker{d: d, slots: d.SlotSchema(), seen: make(map[string]bool)}
	for _, s := range steps {
		c.checkEvents(s)
	}
	c.checkCheckpoints(steps)
	c.checkUnused()
	return c.report
}

func (c *checker) fail(s *training.StoryStep, reason string, args ...any) {
	c.report.Errors = append(c.report.Errors, &schema.ValidationError{
		Key:    location(s),
		Reason: fmt.Sprintf(reason, args...),
	})
}

func location(s *training.StoryStep) string {
	if s.SourceName == "" {
		return s.BlockName
	}
	return s.SourceName + ": " + s.BlockName
}

func (c *checker) checkEvents(s *training.StoryStep) {
	for _, e := range s.Events {
		switch ev := e.(type) {
		case *domain.UserUttered:
			name := ev.Intent.Name
			if name == "" {
				continue
			}
			c.seen["intent:"+name] = true
			if _, ok := c.d.Intent(name); !ok {
				c.fail(s, "intent %q is not defined in the domain", name)
			}
			for _, ent := range ev.Entities {
				if !contains(c.d.Entities(), ent.Entity) {
					c.fail(s, "entity %q is not defined in the domain", ent.Entity)
				}
			}
		case *domain.ActionExecuted:
			if ev.ActionName == "" || ev.ActionName == domain.RuleSnippetAction {
				continue
			}
			c.seen["action:"+ev.ActionName] = true
			if !c.d.HasAction(ev.ActionName) {
				c.fail(s, "action %q is not defined in the domain", ev.ActionName)
			}
		case *domain.SlotSet:
			if _, ok := c.d.Slot(ev.Key); !ok {
				c.fail(s, "slot %q is not defined in the domain", ev.Key)
			} else if err := schema.ValidateValue(c.slots, ev.Key, ev.Value); err != nil {
				// featurization still works, the value just never matches
				c.report.Warnings = append(c.report.Warnings, fmt.Sprintf("%s: %v", location(s), err))
			}
		case *domain.ActiveLoopChanged:
			if ev.Name != "" && ev.Name != domain.ShouldNotBeSet && !c.d.IsForm(ev.Name) {
				c.fail(s, "loop %q is not a form of the domain", ev.Name)
			}
		}
	}
}

// checkCheckpoints crawls from STORY_START through the checkpoints and
// reports steps that can never be reached.
func (c *checker) checkCheckpoints(steps []*training.StoryStep) {
	produced := map[string]bool{training.StoryStart: true}
	for _, s := range steps {
		for _, cp := range s.End {
			produced[cp.Name] = true
		}
	}

	for _, s := range steps {
		for _, cp := range s.Start {
			if !produced[cp.Name] {
				c.fail(s, "checkpoint %q is never reached by another step", cp.Name)
			}
		}
	}

	reached := map[string]bool{training.StoryStart: true}
	visited := make(map[string]bool, len(steps))
	for changed := true; changed; {
		changed = false
		for _, s := range steps {
			if visited[s.ID] || !startsFrom(s, reached) {
				continue
			}
			visited[s.ID] = true
			changed = true
			for _, cp := range s.End {
				reached[cp.Name] = true
			}
		}
	}
	for _, s := range steps {
		if !visited[s.ID] {
			c.report.Warnings = append(c.report.Warnings, fmt.Sprintf("%s: step is unreachable from the start of a story", location(s)))
		}
	}

	consumed := make(map[string]bool)
	for _, s := range steps {
		for _, cp := range s.Start {
			consumed[cp.Name] = true
		}
	}
	var dangling []string
	for name := range produced {
		if name != training.StoryStart && !consumed[name] {
			dangling = append(dangling, name)
		}
	}
	sort.Strings(dangling)
	for _, name := range dangling {
		c.report.Warnings = append(c.report.Warnings, fmt.Sprintf("checkpoint %q is never continued", name))
	}
}

func startsFrom(s *training.StoryStep, reached map[string]bool) bool {
	for _, cp := range s.Start {
		if reached[cp.Name] {
			return true
		}
	}
	return false
}

func (c *checker) checkUnused() {
	for _, intent := range c.d.Intents() {
		if contains(domain.DefaultIntents, intent) {
			continue
		}
		if !c.seen["intent:"+intent] && c.d.TriggeredAction(intent) == "" {
			c.report.Warnings = append(c.report.Warnings, fmt.Sprintf("intent %q is not used in any story or rule", intent))
		}
	}
	for _, action := range c.d.UserActions() {
		if c.seen["action:"+action] || c.d.IsForm(action) || triggered(c.d, action) {
			continue
		}
		c.report.Warnings = append(c.report.Warnings, fmt.Sprintf("action %q is not used in any story or rule", action))
	}
}

func triggered(d *domain.Domain, action string) bool {
	for _, intent := range d.Intents() {
		if d.TriggeredAction(intent) == action {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Format renders a report for terminal output.
func Format(r Report) string {
	var b strings.Builder
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	for _, err := range r.Errors {
		fmt.Fprintf(&b, "error: %s\n", err)
	}
	return b.String()
}
