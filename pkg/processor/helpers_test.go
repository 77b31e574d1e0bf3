package processor_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/actions"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/nlg"
	"github.com/aretw0/tendril/pkg/policy"
	"github.com/aretw0/tendril/pkg/processor"
	"github.com/aretw0/tendril/pkg/session"
	"github.com/stretchr/testify/require"
)

var customActions = []string{
	"action_remind",
	"action_cancel",
	"action_loop",
	"action_reject",
	"action_fail",
	"action_pause",
	"action_followup",
}

func newDomain(t *testing.T) *domain.Domain {
	t.Helper()
	d, err := domain.New(domain.Config{
		Intents:  []domain.IntentSpec{{Name: "greet"}, {Name: "inform"}, {Name: "deny"}},
		Entities: []string{"city"},
		Slots:    []domain.Slot{{Name: "city", Type: domain.SlotText, AutoFill: true}},
		Responses: map[string][]domain.Response{
			"utter_greet":   {{Text: "Hello!"}},
			"utter_default": {{Text: "Sorry, I'm stuck."}},
		},
		Actions: customActions,
	})
	require.NoError(t, err)
	return d
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scripted decides with a plain function of the tracker.
type scripted func(t *domain.Tracker) string

func (s scripted) Decide(t *domain.Tracker, d *domain.Domain) (policy.Decision, error) {
	name := s(t)
	scores := make([]float64, d.NumActions())
	if idx, err := d.IndexForAction(name); err == nil {
		scores[idx] = 1
	}
	return policy.Decision{Action: name, Policy: "scripted", Confidence: 1, Scores: scores}, nil
}

// byIntent answers a fresh user message by intent and listens after any action.
func byIntent(t *domain.Tracker) string {
	if t.LatestActionName() != domain.ActionListen {
		return domain.ActionListen
	}
	switch t.LatestMessage().Intent.Name {
	case "greet":
		return "utter_greet"
	case "inform":
		return "action_remind"
	case "deny":
		return "action_cancel"
	}
	return domain.ActionListen
}

func alwaysListen(*domain.Tracker) string { return domain.ActionListen }

type fixture struct {
	domain   *domain.Domain
	store    *memory.Store
	registry *actions.Registry
	clock    *clock
	out      *processor.Collector
	proc     *processor.Processor
}

func newFixture(t *testing.T, decider processor.Decider, opts ...processor.Option) *fixture {
	t.Helper()
	d := newDomain(t)
	gen := nlg.NewTemplate(d, nlg.WithPicker(func(int) int { return 0 }))
	f := &fixture{
		domain:   d,
		store:    memory.NewStore(),
		registry: actions.NewRegistry(d, actions.WithGenerator(gen)),
		clock:    newClock(),
		out:      processor.NewCollector("test"),
	}
	for _, name := range customActions {
		require.NoError(t, f.registry.Register(name, noop))
	}
	opts = append([]processor.Option{
		processor.WithClock(f.clock.Now),
		processor.WithGenerator(gen),
	}, opts...)
	f.proc = processor.New(d, decider, f.registry, session.NewManager(f.store), opts...)
	return f
}

func noop(context.Context, *domain.Tracker, *domain.Domain) ([]domain.Event, error) {
	return nil, nil
}

func (f *fixture) register(t *testing.T, name string, fn actions.Func) {
	t.Helper()
	require.NoError(t, f.registry.Register(name, fn))
}

func (f *fixture) send(t *testing.T, sender, text string) []domain.Event {
	t.Helper()
	events, err := f.proc.HandleMessage(context.Background(), domain.UserMessage{Text: text, SenderID: sender}, f.out)
	require.NoError(t, err)
	return events
}

func (f *fixture) stored(t *testing.T, sender string) []domain.Event {
	t.Helper()
	dlg, err := f.store.Load(context.Background(), sender)
	require.NoError(t, err)
	return dlg.Events
}

var sessionStart = []string{"action:action_session_start", "session_started", "action:action_listen"}

func names(events []domain.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		switch e := e.(type) {
		case *domain.ActionExecuted:
			out = append(out, "action:"+e.ActionName)
		case *domain.UserUttered:
			out = append(out, "user:"+e.Intent.Name)
		case *domain.SlotSet:
			out = append(out, fmt.Sprintf("slot:%s=%v", e.Key, e.Value))
		case *domain.BotUttered:
			out = append(out, "bot:"+e.Text)
		case *domain.ActionExecutionRejected:
			out = append(out, "rejected:"+e.ActionName)
		default:
			out = append(out, string(e.Type()))
		}
	}
	return out
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
