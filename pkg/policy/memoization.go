package policy

import (
	"encoding/json"
	"log/slog"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
)

// DefaultMaxHistory is the trailing window memoized by default.
const DefaultMaxHistory = 5

// MemoizationPolicy predicts the action that followed the same trailing
// window of states in a training story.
type MemoizationPolicy struct {
	priority   int
	maxHistory int
	logger     *slog.Logger
	lookup     *Lookup
}

// MemoizationOption configures a MemoizationPolicy.
type MemoizationOption func(*MemoizationPolicy)

// WithMaxHistory bounds the memoized window. Zero memoizes whole histories.
func WithMaxHistory(n int) MemoizationOption {
	return func(p *MemoizationPolicy) {
		p.maxHistory = n
	}
}

// WithMemoizationPriority overrides the default priority.
func WithMemoizationPriority(priority int) MemoizationOption {
	return func(p *MemoizationPolicy) {
		p.priority = priority
	}
}

// WithMemoizationLogger sets the logger.
func WithMemoizationLogger(logger *slog.Logger) MemoizationOption {
	return func(p *MemoizationPolicy) {
		p.logger = logger
	}
}

// NewMemoization creates an untrained MemoizationPolicy.
func NewMemoization(opts ...MemoizationOption) *MemoizationPolicy {
	p := &MemoizationPolicy{
		priority:   PriorityMemoization,
		maxHistory: DefaultMaxHistory,
		logger:     logging.NewNop(),
		lookup:     NewLookup(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MemoizationPolicy) Name() string  { return "MemoizationPolicy" }
func (p *MemoizationPolicy) Priority() int { return p.priority }

// Lookup returns the memoized histories.
func (p *MemoizationPolicy) Lookup() *Lookup { return p.lookup }

// Train memoizes story trackers. Rules belong to RulePolicy.
func (p *MemoizationPolicy) Train(trackers []TrainingTracker, d *domain.Domain) error {
	var stories []TrainingTracker
	for _, t := range trackers {
		if !t.IsRule {
			stories = append(stories, t)
		}
	}
	allStates, allActions := trainingExamples(stories, d, p.maxHistory)

	var (
		states  [][]domain.TurnState
		actions []string
	)
	for i, action := range allActions {
		// the snippet marker is not an action and must never be recalled
		if action == domain.RuleSnippetAction {
			continue
		}
		states = append(states, allStates[i])
		actions = append(actions, action)
	}
	lookup, err := buildLookup(states, actions, Key, p.logger)
	if err != nil {
		return err
	}
	p.lookup = lookup
	p.logger.Debug("memorized unique examples", "count", lookup.Len())
	return nil
}

// Predict recalls the action for the trailing window of the tracker's states.
func (p *MemoizationPolicy) Predict(t *domain.Tracker, d *domain.Domain) (Prediction, error) {
	key, err := Key(window(d.StatesForTracker(t), p.maxHistory))
	if err != nil {
		return Prediction{}, err
	}
	action, ok := p.lookup.Get(key)
	if !ok {
		return zeros(d), nil
	}
	p.logger.Debug("there is a memorised next action", "action", action)
	return predict(d, action)
}

type memoizationJSON struct {
	MaxHistory int     `json:"max_history"`
	Lookup     *Lookup `json:"lookup"`
}

func (p *MemoizationPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(memoizationJSON{MaxHistory: p.maxHistory, Lookup: p.lookup})
}

func (p *MemoizationPolicy) UnmarshalJSON(data []byte) error {
	v := memoizationJSON{Lookup: NewLookup()}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	p.maxHistory, p.lookup = v.MaxHistory, v.Lookup
	if p.logger == nil {
		p.logger = logging.NewNop()
	}
	if p.priority == 0 {
		p.priority = PriorityMemoization
	}
	return nil
}

// buildLookup stores each example under its key. A key seen with two
// different actions is contradictory and is dropped for good.
func buildLookup(states [][]domain.TurnState, actions []string, key func([]domain.TurnState) (string, error), logger *slog.Logger) (*Lookup, error) {
	lookup := NewLookup()
	contradicting := make(map[string]bool)
	for i, s := range states {
		k, err := key(s)
		if err != nil {
			return nil, err
		}
		if k == "" || contradicting[k] {
			continue
		}
		if prev, ok := lookup.Get(k); ok {
			if prev != actions[i] {
				logger.Warn("dropping contradicting examples", "key", k, "actions", []string{prev, actions[i]})
				lookup.Delete(k)
				contradicting[k] = true
			}
			continue
		}
		if err := lookup.Set(k, actions[i]); err != nil {
			return nil, err
		}
	}
	return lookup, nil
}
