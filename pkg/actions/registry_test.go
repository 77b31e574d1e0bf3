package actions_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/tendril/pkg/actions"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoGenerator renders the first text variant of a response verbatim.
type echoGenerator struct {
	d *domain.Domain
}

func (g echoGenerator) Generate(_ context.Context, template string, _ *domain.Tracker, _ string) (*ports.BotMessage, error) {
	variants, ok := g.d.Responses(template)
	if !ok || len(variants) == 0 {
		return nil, nil
	}
	return &ports.BotMessage{Text: variants[0].Text}, nil
}

func newDomain(t *testing.T) *domain.Domain {
	t.Helper()
	d, err := domain.New(domain.Config{
		Intents:  []domain.IntentSpec{{Name: "greet"}, {Name: "inform"}},
		Entities: []string{"city", "people"},
		Slots: []domain.Slot{
			{Name: "city", Type: domain.SlotText},
			{Name: "people", Type: domain.SlotFloat},
		},
		Responses: map[string][]domain.Response{
			"utter_greet":      {{Text: "Hello!"}},
			"utter_ask_city":   {{Text: "Which city?"}},
			"utter_ask_people": {{Text: "How many?"}},
			"utter_default":    {{Text: "Sorry?"}},
		},
		Actions: []string{"action_check", "utter_missing"},
		Forms:   []domain.Form{{Name: "booking_form", RequiredSlots: []string{"city", "people"}}},
	})
	require.NoError(t, err)
	return d
}

func newRegistry(t *testing.T, opts ...actions.Option) (*actions.Registry, *domain.Domain) {
	d := newDomain(t)
	opts = append([]actions.Option{actions.WithGenerator(echoGenerator{d: d})}, opts...)
	return actions.NewRegistry(d, opts...), d
}

func TestRegistry_Kinds(t *testing.T) {
	r, _ := newRegistry(t)

	tests := map[string]actions.Kind{
		domain.ActionListen: actions.KindDefault,
		domain.ActionBack:   actions.KindDefault,
		"utter_greet":       actions.KindUtterance,
		"utter_missing":     actions.KindUtterance,
		"booking_form":      actions.KindLoop,
		"action_check":      actions.KindCustom,
	}
	for name, want := range tests {
		kind, ok := r.Kind(name)
		require.True(t, ok, name)
		assert.Equal(t, want, kind, name)
	}
	_, ok := r.Kind("nope")
	assert.False(t, ok)
	assert.Equal(t, "loop", actions.KindLoop.String())
}

func TestRegistry_UnknownAction(t *testing.T) {
	r, d := newRegistry(t)
	_, err := r.Run(context.Background(), "nope", d.NewTracker("u"), d)

	var unknown *domain.UnknownActionError
	assert.ErrorAs(t, err, &unknown)
}

func TestRegistry_Register(t *testing.T) {
	r, d := newRegistry(t)
	ctx := context.Background()

	_, err := r.Run(ctx, "action_check", d.NewTracker("u"), d)
	assert.ErrorIs(t, err, actions.ErrNoActionEndpoint)

	assert.Error(t, r.Register("utter_greet", nil))
	assert.Error(t, r.Register("nope", nil))

	require.NoError(t, r.Register("action_check", func(context.Context, *domain.Tracker, *domain.Domain) ([]domain.Event, error) {
		return []domain.Event{&domain.SlotSet{Key: "city", Value: "Oslo"}}, nil
	}))
	events, err := r.Run(ctx, "action_check", d.NewTracker("u"), d)
	require.NoError(t, err)
	assert.Equal(t, []domain.Event{&domain.SlotSet{Key: "city", Value: "Oslo"}}, events)
}

func TestRegistry_ActionServer(t *testing.T) {
	var called string
	server := ports.ActionRunnerFunc(func(_ context.Context, name string, _ *domain.Tracker, _ *domain.Domain) ([]domain.Event, error) {
		called = name
		return nil, errors.New("boom")
	})
	r, d := newRegistry(t, actions.WithActionServer(server))

	_, err := r.Run(context.Background(), "action_check", d.NewTracker("u"), nil)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, "action_check", called)
}

func TestRegistry_Utterance(t *testing.T) {
	r, d := newRegistry(t)
	ctx := context.Background()

	events, err := r.Run(ctx, "utter_greet", d.NewTracker("u"), d)
	require.NoError(t, err)
	require.Len(t, events, 1)
	bot := events[0].(*domain.BotUttered)
	assert.Equal(t, "Hello!", bot.Text)
	assert.Equal(t, "utter_greet", bot.Metadata["utter_action"])

	events, err = r.Run(ctx, "utter_missing", d.NewTracker("u"), d)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRegistry_UtteranceWithoutGenerator(t *testing.T) {
	d := newDomain(t)
	r := actions.NewRegistry(d)

	_, err := r.Run(context.Background(), "utter_greet", d.NewTracker("u"), d)
	assert.Error(t, err)
}
