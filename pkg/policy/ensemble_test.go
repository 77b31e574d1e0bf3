package policy_test

import (
	"errors"
	"testing"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedPolicy votes for one action with a fixed confidence.
type fixedPolicy struct {
	name       string
	priority   int
	action     string
	confidence float64
	events     []domain.Event
	err        error
}

func (p fixedPolicy) Name() string  { return p.name }
func (p fixedPolicy) Priority() int { return p.priority }

func (p fixedPolicy) Predict(_ *domain.Tracker, d *domain.Domain) (policy.Prediction, error) {
	if p.err != nil {
		return policy.Prediction{}, p.err
	}
	pred := policy.Prediction{Scores: make([]float64, d.NumActions()), Events: p.events}
	if p.action != "" {
		idx, err := d.IndexForAction(p.action)
		if err != nil {
			return policy.Prediction{}, err
		}
		pred.Scores[idx] = p.confidence
	}
	return pred, nil
}

func decide(t *testing.T, d *domain.Domain, tr *domain.Tracker, policies ...policy.Policy) policy.Decision {
	t.Helper()
	decision, err := policy.NewEnsemble(policies).Decide(tr, d)
	require.NoError(t, err)
	return decision
}

func TestEnsemble_HighestConfidenceWins(t *testing.T) {
	d := testDomain(t)
	tr := tracker(t, d, sessionStart()...)

	decision := decide(t, d, tr,
		fixedPolicy{name: "A", priority: 6, action: "utter_greet", confidence: 0.3},
		fixedPolicy{name: "B", priority: 1, action: "utter_help", confidence: 0.9},
	)
	assert.Equal(t, "utter_help", decision.Action)
	assert.Equal(t, "policy_1_B", decision.Policy)
	assert.Equal(t, 0.9, decision.Confidence)
	assert.Len(t, decision.Scores, d.NumActions())
}

func TestEnsemble_TiesGoToPriorityThenOrder(t *testing.T) {
	d := testDomain(t)
	tr := tracker(t, d, sessionStart()...)

	decision := decide(t, d, tr,
		fixedPolicy{name: "Low", priority: 2, action: "utter_greet", confidence: 1},
		fixedPolicy{name: "High", priority: 6, action: "utter_help", confidence: 1},
	)
	assert.Equal(t, "utter_help", decision.Action)

	decision = decide(t, d, tr,
		fixedPolicy{name: "First", priority: 3, action: "utter_greet", confidence: 1},
		fixedPolicy{name: "Second", priority: 3, action: "utter_help", confidence: 1},
	)
	assert.Equal(t, "utter_greet", decision.Action)
}

func TestEnsemble_AllZeroListens(t *testing.T) {
	d := testDomain(t)
	decision := decide(t, d, tracker(t, d, sessionStart()...),
		fixedPolicy{name: "A", priority: 1},
	)
	assert.Equal(t, domain.ActionListen, decision.Action)

	decision = decide(t, d, tracker(t, d))
	assert.Equal(t, domain.ActionListen, decision.Action)
	assert.Empty(t, decision.Policy)
}

func TestEnsemble_RejectedActionIsNotRepeated(t *testing.T) {
	d := testDomain(t)
	tr := tracker(t, d, inLoop()...)

	decision := decide(t, d, tr,
		fixedPolicy{name: "Loop", priority: 6, action: "city_form", confidence: 1},
		fixedPolicy{name: "Other", priority: 1, action: "utter_chitchat", confidence: 0.5},
	)
	assert.Equal(t, "utter_chitchat", decision.Action)
}

func TestEnsemble_CollectsEventsOfEveryPolicy(t *testing.T) {
	d := testDomain(t)
	validation := &domain.FormValidation{Validate: false}

	decision := decide(t, d, tracker(t, d, sessionStart()...),
		fixedPolicy{name: "Quiet", priority: 6, events: []domain.Event{validation}},
		fixedPolicy{name: "Loud", priority: 1, action: "utter_greet", confidence: 1},
	)
	assert.Equal(t, "utter_greet", decision.Action)
	assert.Equal(t, []domain.Event{validation}, decision.Events)
}

func TestEnsemble_Errors(t *testing.T) {
	d := testDomain(t)
	tr := tracker(t, d, sessionStart()...)

	_, err := policy.NewEnsemble([]policy.Policy{fixedPolicy{name: "A", action: "nope", confidence: 1}}).Decide(tr, d)
	var unknown *domain.UnknownActionError
	assert.ErrorAs(t, err, &unknown)

	boom := errors.New("boom")
	_, err = policy.NewEnsemble([]policy.Policy{fixedPolicy{name: "A", err: boom}}).Decide(tr, d)
	assert.ErrorIs(t, err, boom)
}

func TestEnsemble_ValidateAgainstDomain(t *testing.T) {
	d := testDomain(t)

	assert.NoError(t, policy.Default().ValidateAgainstDomain(d))

	err := policy.NewEnsemble([]policy.Policy{policy.NewRule()}).ValidateAgainstDomain(d)
	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr, "help triggers utter_help")
}

func TestEnsemble_TrainAndDecide(t *testing.T) {
	d := testDomain(t)
	e := policy.Default()
	require.NoError(t, e.Train([]policy.TrainingTracker{greetRule(t, d), greetStory(t, d)}, d))

	tr := tracker(t, d, append(sessionStart(), user("greet"))...)
	decision, err := e.Decide(tr, d)
	require.NoError(t, err)
	assert.Equal(t, "utter_greet", decision.Action)
	assert.Equal(t, "policy_0_RulePolicy", decision.Policy)

	tr = tracker(t, d, append(sessionStart(), user("help"))...)
	decision, err = e.Decide(tr, d)
	require.NoError(t, err)
	assert.Equal(t, "utter_help", decision.Action)
}

func TestEnsemble_DefaultWithSnippetRules(t *testing.T) {
	d := testDomain(t)
	e := policy.Default()
	require.NoError(t, e.Train([]policy.TrainingTracker{greetRule(t, d)}, d))

	tests := []struct {
		name   string
		events []domain.Event
		want   string
	}{
		{"slots only", []domain.Event{&domain.SlotSet{Key: "city", Value: "Porto"}}, domain.ActionDefaultFallback},
		{"first unmatched message", append(sessionStart(), user("chitchat")), domain.ActionDefaultFallback},
		{"after the fallback", append(sessionStart(),
			user("chitchat"),
			action(domain.ActionDefaultFallback),
			&domain.BotUttered{Text: "sorry"},
			&domain.UserUtteranceReverted{},
		), domain.ActionListen},
		{"first matched message", append(sessionStart(), user("greet")), "utter_greet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := e.Decide(tracker(t, d, tt.events...), d)
			require.NoError(t, err)
			assert.Equal(t, tt.want, decision.Action)
		})
	}
}
