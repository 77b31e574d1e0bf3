package training

import (
	"fmt"
	"log/slog"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/policy"
)

// DefaultPhases bounds how often a cycle of the story graph is walked.
const DefaultPhases = 3

// Generator walks a story graph and produces the trackers policies train on.
type Generator struct {
	domain *domain.Domain
	ids    IDGenerator
	phases int
	logger *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithGeneratorIDs sets the id generator used when removing cycles.
func WithGeneratorIDs(ids IDGenerator) GeneratorOption {
	return func(g *Generator) {
		g.ids = ids
	}
}

// WithPhases sets how many passes over the graph are made. Every pass after
// the first continues the stories that ended in a cycle.
func WithPhases(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.phases = n
		}
	}
}

// WithGeneratorLogger sets the logger.
func WithGeneratorLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		g.logger = logger
	}
}

// NewGenerator returns a generator for trackers of d.
func NewGenerator(d *domain.Domain, opts ...GeneratorOption) *Generator {
	g := &Generator{
		domain: d,
		ids:    NewUUIDs(),
		phases: DefaultPhases,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate builds training trackers from story steps. Rules and stories are
// walked as separate graphs so a rule never continues a story.
func (g *Generator) Generate(steps []*StoryStep) ([]policy.TrainingTracker, error) {
	var rules, stories []*StoryStep
	for _, s := range steps {
		if s.IsRule {
			rules = append(rules, s)
		} else {
			stories = append(stories, s)
		}
	}

	var out []policy.TrainingTracker
	for _, part := range []struct {
		steps  []*StoryStep
		isRule bool
	}{{stories, false}, {rules, true}} {
		if len(part.steps) == 0 {
			continue
		}
		graph := NewGraph(part.steps, nil).WithCyclesRemoved(g.ids)
		trackers, err := g.walk(graph, part.isRule)
		if err != nil {
			return nil, err
		}
		for _, t := range trackers {
			out = append(out, policy.TrainingTracker{Tracker: t, IsRule: part.isRule})
		}
		g.logger.Debug("generated training trackers", "rules", part.isRule, "count", len(trackers))
	}
	return out, nil
}

// walk pushes trackers through the graph in topological order. Trackers that
// reach a cycle sink end there and also continue from the matching source in
// the next phase.
func (g *Generator) walk(graph *Graph, isRule bool) ([]*domain.Tracker, error) {
	storyEnd := graph.StoryEndCheckpoints()
	ordered := graph.OrderedSteps()

	var finished []*domain.Tracker
	active := make(map[string][]*domain.Tracker)
	for phase := 0; phase < g.phases; phase++ {
		next := make(map[string][]*domain.Tracker)
		for _, step := range ordered {
			incoming, err := g.incoming(step, active, phase, isRule)
			if err != nil {
				return nil, err
			}
			if len(incoming) == 0 {
				continue
			}

			events := step.ExplicitEvents(g.domain, true)
			outgoing := make([]*domain.Tracker, 0, len(incoming))
			for _, t := range incoming {
				c := t.Copy()
				if err := c.Extend(skipRepeatedListen(c, events)...); err != nil {
					g.logger.Warn("training step does not fit the domain", "step", step.BlockName, "source", step.SourceName, "err", err)
				}
				outgoing = append(outgoing, c)
			}

			if len(step.End) == 0 {
				finished = append(finished, outgoing...)
				continue
			}
			for _, cp := range step.End {
				if source, ok := storyEnd[cp.Name]; ok {
					finished = append(finished, outgoing...)
					next[source] = append(next[source], outgoing...)
					continue
				}
				active[cp.Name] = append(active[cp.Name], outgoing...)
			}
		}
		if len(next) == 0 {
			break
		}
		active = next
	}
	return g.unique(finished)
}

func (g *Generator) incoming(step *StoryStep, active map[string][]*domain.Tracker, phase int, isRule bool) ([]*domain.Tracker, error) {
	var trackers []*domain.Tracker
	for _, cp := range step.Start {
		if cp.Name == StoryStart {
			if phase == 0 {
				trackers = append(trackers, g.newTracker(step.BlockName, isRule))
			}
			continue
		}
		for _, t := range active[cp.Name] {
			if cp.Admits(t) {
				trackers = append(trackers, t)
			}
		}
	}
	return g.unique(trackers)
}

// newTracker starts a story with action_listen so the empty conversation
// state is learned to mean listening. Rules start with their snippet marker.
func (g *Generator) newTracker(name string, isRule bool) *domain.Tracker {
	t := g.domain.NewTracker(name)
	if !isRule {
		_ = t.Update(&domain.ActionExecuted{ActionName: domain.ActionListen})
	}
	return t
}

// skipRepeatedListen drops a leading action_listen when the tracker is
// already listening.
func skipRepeatedListen(t *domain.Tracker, events []domain.Event) []domain.Event {
	if len(events) == 0 || t.LatestActionName() != domain.ActionListen || t.HasFreshUserMessage() {
		return events
	}
	if a, ok := events[0].(*domain.ActionExecuted); ok && a.ActionName == domain.ActionListen {
		return events[1:]
	}
	return events
}

// unique drops trackers whose state history was already seen.
func (g *Generator) unique(trackers []*domain.Tracker) ([]*domain.Tracker, error) {
	seen := make(map[string]bool, len(trackers))
	out := trackers[:0:0]
	for _, t := range trackers {
		key, err := policy.Key(g.domain.StatesForTracker(t))
		if err != nil {
			return nil, fmt.Errorf("tracker %s: %w", t.SenderID(), err)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out, nil
}
