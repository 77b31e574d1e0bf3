package policy

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/schema"
)

// Markers stored in the loop unhappy-path lookup.
const (
	DoNotValidateLoop      = "do_not_validate_loop"
	DoNotPredictLoopAction = "do_not_predict_loop_action"
)

// DefaultFallbackThreshold is the confidence of the fallback vote.
const DefaultFallbackThreshold = 0.3

// defaultActionMappings overrule every rule.
var defaultActionMappings = map[string]string{
	domain.IntentRestart:      domain.ActionRestart,
	domain.IntentBack:         domain.ActionBack,
	domain.IntentSessionStart: domain.ActionSessionStart,
}

// RulePolicy predicts from rules learned verbatim from training data.
//
// Prediction order is: default intents, listening after a reverting
// fallback, the happy path of an active loop, then the longest matching
// rule. Without a match it votes for the fallback action with the fallback
// threshold as confidence.
type RulePolicy struct {
	priority          int
	fallbackThreshold float64
	fallbackAction    string
	enableFallback    bool
	logger            *slog.Logger

	rules   *Lookup
	unhappy *Lookup
}

// RuleOption configures a RulePolicy.
type RuleOption func(*RulePolicy)

// WithFallback sets the confidence and action voted for when no rule matches.
func WithFallback(threshold float64, action string) RuleOption {
	return func(p *RulePolicy) {
		p.fallbackThreshold = threshold
		p.fallbackAction = action
		p.enableFallback = true
	}
}

// WithoutFallback makes the policy abstain with all-zero scores when no rule matches.
func WithoutFallback() RuleOption {
	return func(p *RulePolicy) {
		p.enableFallback = false
	}
}

// WithRulePriority overrides the default priority.
func WithRulePriority(priority int) RuleOption {
	return func(p *RulePolicy) {
		p.priority = priority
	}
}

// WithRuleLogger sets the logger.
func WithRuleLogger(logger *slog.Logger) RuleOption {
	return func(p *RulePolicy) {
		p.logger = logger
	}
}

// WithLookups installs previously trained lookups.
func WithLookups(rules, unhappy *Lookup) RuleOption {
	return func(p *RulePolicy) {
		p.rules, p.unhappy = rules, unhappy
	}
}

// NewRule creates a RulePolicy with fallback enabled.
func NewRule(opts ...RuleOption) *RulePolicy {
	p := &RulePolicy{
		priority:          PriorityRule,
		fallbackThreshold: DefaultFallbackThreshold,
		fallbackAction:    domain.ActionDefaultFallback,
		enableFallback:    true,
		logger:            logging.NewNop(),
		rules:             NewLookup(),
		unhappy:           NewLookup(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RulePolicy) Name() string  { return "RulePolicy" }
func (p *RulePolicy) Priority() int { return p.priority }

// Rules returns the rule lookup.
func (p *RulePolicy) Rules() *Lookup { return p.rules }

// LoopUnhappyPaths returns the auxiliary lookup of loop side conditions.
func (p *RulePolicy) LoopUnhappyPaths() *Lookup { return p.unhappy }

// ValidateAgainstDomain checks that the fallback action exists.
func (p *RulePolicy) ValidateAgainstDomain(d *domain.Domain) error {
	if !p.enableFallback || d.HasAction(p.fallbackAction) {
		return nil
	}
	return &domain.ConfigurationError{Cause: &schema.AggregateError{Errors: []error{
		&schema.ValidationError{Key: "core_fallback_action_name", Reason: fmt.Sprintf("fallback action %q of %s must be present in the domain", p.fallbackAction, p.Name())},
	}}}
}

// Train builds the rule lookup from rule trackers and the unhappy-path
// lookup from all trackers.
func (p *RulePolicy) Train(trackers []TrainingTracker, d *domain.Domain) error {
	var rules, stories []TrainingTracker
	for _, t := range trackers {
		if t.IsRule {
			rules = append(rules, t)
		} else {
			stories = append(stories, t)
		}
	}

	ruleStates, ruleActions := trainingExamples(rules, d, 0)
	lookup, err := buildLookup(ruleStates, ruleActions, ruleKey, p.logger)
	if err != nil {
		return err
	}
	for _, key := range lookup.Keys() {
		if v, _ := lookup.Get(key); v == domain.RuleSnippetAction {
			lookup.Delete(key)
		}
	}

	storyStates, storyActions := trainingExamples(stories, d, 0)
	unhappy, err := loopUnhappyLookup(append(ruleStates, storyStates...), append(ruleActions, storyActions...))
	if err != nil {
		return err
	}

	p.rules, p.unhappy = lookup, unhappy
	p.logger.Debug("memorized unique rules", "count", lookup.Len())
	return nil
}

// ruleKey keeps only the states after the most recent rule snippet marker.
func ruleKey(states []domain.TurnState) (string, error) {
	start := 0
	for i := len(states) - 1; i >= 0; i-- {
		if prevAction(states[i]) == domain.RuleSnippetAction {
			start = i + 1
			break
		}
	}
	return Key(states[start:])
}

// unhappyStates keeps the last turn and the action before it, ignoring the
// previous intent.
func unhappyStates(states []domain.TurnState) []domain.TurnState {
	last := states[len(states)-1]
	if len(states) == 1 || len(states[len(states)-2][domain.SubStatePrevAction]) == 0 {
		return []domain.TurnState{last}
	}
	return []domain.TurnState{
		{domain.SubStatePrevAction: states[len(states)-2][domain.SubStatePrevAction]},
		last,
	}
}

func loopUnhappyLookup(states [][]domain.TurnState, actions []string) (*Lookup, error) {
	lookup := NewLookup()
	for i, s := range states {
		loop := activeLoop(s[len(s)-1])
		if loop == "" {
			continue
		}
		reduced := unhappyStates(s)
		key, err := ruleKey(reduced)
		if err != nil {
			return nil, err
		}
		if key == "" {
			continue
		}
		afterListen := prevAction(reduced[len(reduced)-1]) == domain.ActionListen
		action := actions[i]
		switch {
		case afterListen && action == loop:
			err = lookup.Set(key, DoNotValidateLoop)
		case !afterListen && action != domain.ActionListen && action != loop:
			err = lookup.Set(key, DoNotPredictLoopAction)
		}
		if err != nil {
			return nil, err
		}
	}
	return lookup, nil
}

// Predict scores the next action.
func (p *RulePolicy) Predict(t *domain.Tracker, d *domain.Domain) (Prediction, error) {
	if action := defaultAction(t); action != "" {
		p.logger.Debug("predicted default action", "action", action)
		return predict(d, action)
	}
	if answeredByFallback(t, p.fallbackAction) {
		p.logger.Debug("predicted action_listen after the fallback reverted the user message", "action", p.fallbackAction)
		return predict(d, domain.ActionListen)
	}
	if action := loopHappyPath(t); action != "" {
		p.logger.Debug("predicted from loop happy path", "action", action)
		return predict(d, action)
	}

	action, events, err := p.fromRules(t, d)
	if err != nil {
		return Prediction{}, err
	}
	if action != "" {
		pred, err := predict(d, action)
		pred.Events = events
		return pred, err
	}

	result := zeros(d)
	if p.enableFallback {
		idx, err := d.IndexForAction(p.fallbackAction)
		if err != nil {
			return Prediction{}, err
		}
		result.Scores[idx] = p.fallbackThreshold
	}
	result.Events = events
	return result, nil
}

func defaultAction(t *domain.Tracker) string {
	if t.LatestActionName() != domain.ActionListen {
		return ""
	}
	return defaultActionMappings[t.LatestMessage().Intent.Name]
}

// answeredByFallback reports whether the latest action is the fallback and
// it reverted the message it answered. The reverted history looks like a
// fresh conversation, so the fallback would otherwise run again.
func answeredByFallback(t *domain.Tracker, fallback string) bool {
	events := t.Events()
	reverted := false
	for i := len(events) - 1; i >= 0; i-- {
		switch e := events[i].(type) {
		case *domain.UserUttered:
			return false
		case *domain.UserUtteranceReverted:
			reverted = true
		case *domain.ActionExecuted:
			return reverted && e.ActionName == fallback
		}
	}
	return false
}

// loopHappyPath keeps an unrejected loop running: the loop action until it
// ran, then action_listen.
func loopHappyPath(t *domain.Tracker) string {
	loop := t.ActiveLoopName()
	if loop == "" || t.ActiveLoop().Rejected {
		return ""
	}
	if t.LatestActionName() != loop {
		return loop
	}
	return domain.ActionListen
}

func (p *RulePolicy) fromRules(t *domain.Tracker, d *domain.Domain) (string, []domain.Event, error) {
	states, err := canonical(d.StatesForTracker(t))
	if err != nil {
		return "", nil, err
	}

	predicted := ""
	best, found := p.rules.Longest(states)
	if found {
		predicted, _ = p.rules.Get(best)
	}

	var events []domain.Event
	if loop := t.ActiveLoopName(); loop != "" {
		conditions := make(map[string]bool)
		for _, key := range p.unhappy.Matching(states) {
			v, _ := p.unhappy.Get(key)
			conditions[v] = true
		}

		// A rule that predicts action_listen without naming a loop was not
		// written for this loop, so the loop takes the turn back.
		// TODO: replace with an explicit loop-priority field on rules.
		if predicted == domain.ActionListen && !ruleNamesLoop(p.rules, best) {
			if !conditions[DoNotPredictLoopAction] {
				p.logger.Debug("predicted loop by overwriting action_listen predicted by general rule", "loop", loop)
				return loop, nil, nil
			}
			predicted = ""
		}
		if conditions[DoNotValidateLoop] {
			events = append(events, &domain.FormValidation{Validate: false})
		}
	}

	if predicted == "" {
		p.logger.Debug("there is no applicable rule")
	} else {
		p.logger.Debug("there is a rule for the next action", "action", predicted)
	}
	return predicted, events, nil
}

func ruleNamesLoop(l *Lookup, key string) bool {
	states := l.states[key]
	return len(states) > 0 && activeLoop(states[len(states)-1]) != ""
}

type ruleJSON struct {
	Rules            *Lookup `json:"rules"`
	LoopUnhappyPaths *Lookup `json:"rules_for_loop_unhappy_path"`
}

// MarshalJSON encodes both lookups.
func (p *RulePolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(ruleJSON{Rules: p.rules, LoopUnhappyPaths: p.unhappy})
}

// UnmarshalJSON restores lookups written by MarshalJSON. Options set through
// NewRule are kept.
func (p *RulePolicy) UnmarshalJSON(data []byte) error {
	v := ruleJSON{Rules: NewLookup(), LoopUnhappyPaths: NewLookup()}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if p.logger == nil {
		*p = *NewRule()
	}
	p.rules, p.unhappy = v.Rules, v.LoopUnhappyPaths
	return nil
}
