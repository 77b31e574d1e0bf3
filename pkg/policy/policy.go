package policy

import (
	"github.com/aretw0/tendril/pkg/domain"
)

// Default priorities. Higher wins ties between equally confident policies.
const (
	PriorityMapping     = 2
	PriorityMemoization = 3
	PriorityRule        = 6
)

// Policy scores the actions of a domain for the next turn of a tracker.
type Policy interface {
	Name() string
	Priority() int
	Predict(t *domain.Tracker, d *domain.Domain) (Prediction, error)
}

// Trainable is implemented by policies that learn from training conversations.
type Trainable interface {
	Train(trackers []TrainingTracker, d *domain.Domain) error
}

// DomainValidator is implemented by policies whose configuration depends on the domain.
type DomainValidator interface {
	ValidateAgainstDomain(d *domain.Domain) error
}

// Prediction is one policy's vote: a confidence per domain action, in domain
// order, plus events to apply before the chosen action runs.
type Prediction struct {
	Scores []float64
	Events []domain.Event
}

// Max returns the index and value of the highest score. The first index wins
// ties, so an all-zero vector selects action_listen.
func (p Prediction) Max() (int, float64) {
	best, conf := 0, 0.0
	for i, s := range p.Scores {
		if s > conf {
			best, conf = i, s
		}
	}
	return best, conf
}

// TrainingTracker is a conversation generated from training data.
type TrainingTracker struct {
	Tracker *domain.Tracker
	// IsRule marks trackers built from rules rather than stories.
	IsRule bool
}

func zeros(d *domain.Domain) Prediction {
	return Prediction{Scores: make([]float64, d.NumActions())}
}

// predict returns a vector with full confidence for action.
func predict(d *domain.Domain, action string) (Prediction, error) {
	idx, err := d.IndexForAction(action)
	if err != nil {
		return Prediction{}, err
	}
	p := zeros(d)
	p.Scores[idx] = 1
	return p, nil
}

// trainingExamples pairs every action of a tracker with the states that
// preceded it. maxHistory bounds the window; zero keeps the whole history.
func trainingExamples(trackers []TrainingTracker, d *domain.Domain, maxHistory int) ([][]domain.TurnState, []string) {
	var (
		states  [][]domain.TurnState
		actions []string
	)
	for _, tt := range trackers {
		all := d.StatesForTracker(tt.Tracker)
		idx := 0
		for _, e := range tt.Tracker.AppliedEvents() {
			a, ok := e.(*domain.ActionExecuted)
			if !ok {
				continue
			}
			states = append(states, window(all[:idx+1], maxHistory))
			actions = append(actions, a.ActionName)
			idx++
		}
	}
	return states, actions
}

func window(states []domain.TurnState, maxHistory int) []domain.TurnState {
	if maxHistory > 0 && len(states) > maxHistory {
		return states[len(states)-maxHistory:]
	}
	return states
}

func prevAction(s domain.TurnState) string {
	name, _ := s[domain.SubStatePrevAction][domain.KeyActionName].(string)
	return name
}

// activeLoop returns the loop named in a state, ignoring the "must be unset" sentinel.
func activeLoop(s domain.TurnState) string {
	name, _ := s[domain.SubStateActiveLoop][domain.KeyLoopName].(string)
	if name == domain.ShouldNotBeSet {
		return ""
	}
	return name
}
