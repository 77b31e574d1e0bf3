package policy_test

import (
	"testing"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/policy"
	"github.com/stretchr/testify/require"
)

func testDomain(t *testing.T) *domain.Domain {
	t.Helper()
	d, err := domain.New(domain.Config{
		Intents: []domain.IntentSpec{
			{Name: "greet"},
			{Name: "inform"},
			{Name: "chitchat"},
			{Name: "help", Triggers: "utter_help"},
		},
		Entities: []string{"city"},
		Slots:    []domain.Slot{{Name: "city", Type: domain.SlotText}},
		Responses: map[string][]domain.Response{
			"utter_greet":    {{Text: "hi"}},
			"utter_chitchat": {{Text: "chat"}},
			"utter_help":     {{Text: "help"}},
			"utter_ask_city": {{Text: "city?"}},
		},
		Forms: []domain.Form{{Name: "city_form", RequiredSlots: []string{"city"}}},
	})
	require.NoError(t, err)
	return d
}

func listen() *domain.ActionExecuted { return action(domain.ActionListen) }

func action(name string) *domain.ActionExecuted {
	return &domain.ActionExecuted{ActionName: name}
}

func user(intent string, entities ...domain.Entity) *domain.UserUttered {
	return &domain.UserUttered{Intent: domain.Intent{Name: intent, Confidence: 1}, Entities: entities}
}

func tracker(t *testing.T, d *domain.Domain, events ...domain.Event) *domain.Tracker {
	t.Helper()
	tr := d.NewTracker("test")
	require.NoError(t, tr.Extend(events...))
	return tr
}

func rule(t *testing.T, d *domain.Domain, events ...domain.Event) policy.TrainingTracker {
	return policy.TrainingTracker{Tracker: tracker(t, d, events...), IsRule: true}
}

func story(t *testing.T, d *domain.Domain, events ...domain.Event) policy.TrainingTracker {
	return policy.TrainingTracker{Tracker: tracker(t, d, events...)}
}

// sessionStart is the prefix the processor writes to every new conversation.
func sessionStart() []domain.Event {
	return []domain.Event{action(domain.ActionSessionStart), &domain.SessionStarted{}, listen()}
}

func predicted(t *testing.T, d *domain.Domain, pred policy.Prediction) (string, float64) {
	t.Helper()
	idx, conf := pred.Max()
	name, err := d.ActionForIndex(idx)
	require.NoError(t, err)
	return name, conf
}
