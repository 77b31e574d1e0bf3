package processor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/tendril/internal/training"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/policy"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessor_ListenAfterGreet(t *testing.T) {
	d := newDomain(t)
	steps, err := training.NewReader(training.WithIDs(training.NewSequentialIDs())).Read([]byte(`
rules:
  - rule: greet back
    steps:
      - intent: greet
      - action: utter_greet
`), "rules.yml")
	require.NoError(t, err)
	trackers, err := training.NewGenerator(d).Generate(steps)
	require.NoError(t, err)
	ensemble := policy.Default()
	require.NoError(t, ensemble.Train(trackers, d))

	f := newFixture(t, ensemble)
	events := f.send(t, "alice", "/greet")

	assert.Equal(t, concat(sessionStart, []string{
		"user:greet",
		"action:utter_greet",
		"bot:Hello!",
		"action:action_listen",
	}), names(events))
	assert.Equal(t, []string{"Hello!"}, f.out.Texts())
	assert.Equal(t, names(events), names(f.stored(t, "alice")))

	greet := events[4].(*domain.ActionExecuted)
	assert.Equal(t, "policy_0_RulePolicy", greet.Policy)
	assert.InDelta(t, 1.0, greet.Confidence, 1e-9)
}

func TestProcessor_FallbackAnswersOnce(t *testing.T) {
	tests := []struct {
		name     string
		ensemble func() *policy.Ensemble
	}{
		{"default ensemble", func() *policy.Ensemble { return policy.Default() }},
		{"rules and mappings", func() *policy.Ensemble {
			return policy.NewEnsemble([]policy.Policy{policy.NewRule(), policy.NewMapping()})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDomain(t)
			steps, err := training.NewReader(training.WithIDs(training.NewSequentialIDs())).Read([]byte(`
rules:
  - rule: greet back
    steps:
      - intent: greet
      - action: utter_greet
`), "rules.yml")
			require.NoError(t, err)
			trackers, err := training.NewGenerator(d).Generate(steps)
			require.NoError(t, err)
			ensemble := tt.ensemble()
			require.NoError(t, ensemble.Train(trackers, d))

			var breaks atomic.Int32
			f := newFixture(t, ensemble, processor.WithOnCircuitBreak(func(context.Context, *domain.Tracker, ports.OutputChannel) error {
				breaks.Add(1)
				return nil
			}))

			events := f.send(t, "nico", "/deny")
			assert.Equal(t, concat(sessionStart, []string{
				"user:deny",
				"action:action_default_fallback",
				"bot:Sorry, I'm stuck.",
				"rewind",
				"action:action_listen",
			}), names(events))
			assert.Equal(t, []string{"Sorry, I'm stuck."}, f.out.Texts())
			assert.Zero(t, breaks.Load())

			events = f.send(t, "nico", "/greet")
			assert.Equal(t, []string{
				"user:greet",
				"action:utter_greet",
				"bot:Hello!",
				"action:action_listen",
			}, names(events))
		})
	}
}

func TestProcessor_CircuitBreaker(t *testing.T) {
	var calls, hookCalls atomic.Int32
	f := newFixture(t, scripted(func(*domain.Tracker) string { return "action_loop" }),
		processor.WithMaxPredictions(3),
		processor.WithOnCircuitBreak(func(context.Context, *domain.Tracker, ports.OutputChannel) error {
			calls.Add(1)
			return nil
		}),
		processor.WithHooks(domain.LifecycleHooks{
			OnCircuitBreak: func(context.Context, string) { hookCalls.Add(1) },
		}),
	)

	events := f.send(t, "bob", "/greet")

	assert.Equal(t, concat(sessionStart, []string{
		"user:greet",
		"action:action_loop",
		"action:action_loop",
		"action:action_loop",
	}), names(events))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), hookCalls.Load())
}

func TestProcessor_CircuitBreaker_NotTrippedByFinalListen(t *testing.T) {
	var calls atomic.Int32
	n := 0
	f := newFixture(t, scripted(func(*domain.Tracker) string {
		n++
		if n < 3 {
			return "action_loop"
		}
		return domain.ActionListen
	}),
		processor.WithMaxPredictions(3),
		processor.WithOnCircuitBreak(func(context.Context, *domain.Tracker, ports.OutputChannel) error {
			calls.Add(1)
			return nil
		}),
	)

	events := f.send(t, "bob", "/greet")
	assert.Equal(t, "action:action_listen", names(events)[len(events)-1])
	assert.Zero(t, calls.Load())
}

func TestProcessor_CircuitBreaker_DefaultUttersDefault(t *testing.T) {
	f := newFixture(t, scripted(func(*domain.Tracker) string { return "action_loop" }), processor.WithMaxPredictions(2))

	events := f.send(t, "bob", "/greet")

	assert.Equal(t, []string{"Sorry, I'm stuck."}, f.out.Texts())
	assert.NotContains(t, names(events), "bot:Sorry, I'm stuck.")
}

func TestProcessor_SessionExpiry(t *testing.T) {
	f := newFixture(t, scripted(alwaysListen))

	first := f.send(t, "carol", `/inform{"city": "Berlin"}`)
	assert.Equal(t, concat(sessionStart, []string{
		"user:inform",
		"slot:city=Berlin",
		"action:action_listen",
	}), names(first))

	f.clock.Advance(30 * time.Minute)
	within := f.send(t, "carol", "/greet")
	assert.Equal(t, []string{"user:greet", "action:action_listen"}, names(within))

	f.clock.Advance(61 * time.Minute)
	expired := f.send(t, "carol", "/greet")
	assert.Equal(t, []string{
		"action:action_session_start",
		"session_started",
		"slot:city=Berlin",
		"action:action_listen",
		"user:greet",
		"action:action_listen",
	}, names(expired))
}

func TestProcessor_SessionStartMetadata(t *testing.T) {
	f := newFixture(t, scripted(alwaysListen))
	events, err := f.proc.HandleMessage(context.Background(), domain.UserMessage{
		Text:     "/greet",
		SenderID: "dave",
		Metadata: map[string]any{"locale": "pt"},
	}, f.out)
	require.NoError(t, err)

	started := events[1].(*domain.SessionStarted)
	assert.Equal(t, "pt", started.Metadata["locale"])
}

func TestProcessor_TimestampsFollowTheirAction(t *testing.T) {
	f := newFixture(t, scripted(byIntent))

	f.send(t, "erin", "/greet")
	events := f.stored(t, "erin")
	for i := 1; i < len(events); i++ {
		assert.True(t, events[i].Time().After(events[i-1].Time()), "event %d (%s) is not after its predecessor", i, events[i].Type())
	}
}

func TestProcessor_Rejection(t *testing.T) {
	var rejected []string
	f := newFixture(t, scripted(func(t *domain.Tracker) string {
		history := t.Events()
		if _, ok := history[len(history)-1].(*domain.ActionExecutionRejected); ok {
			return "utter_greet"
		}
		if t.LatestActionName() == domain.ActionListen {
			return "action_reject"
		}
		return domain.ActionListen
	}), processor.WithHooks(domain.LifecycleHooks{
		OnActionRejected: func(_ context.Context, e *domain.ActionExecutionRejected) { rejected = append(rejected, e.ActionName) },
	}))
	f.register(t, "action_reject", func(context.Context, *domain.Tracker, *domain.Domain) ([]domain.Event, error) {
		return nil, &ports.Rejection{Action: "action_reject", Reason: "not now"}
	})

	events := f.send(t, "frank", "/greet")
	assert.Equal(t, concat(sessionStart, []string{
		"user:greet",
		"rejected:action_reject",
		"action:utter_greet",
		"bot:Hello!",
		"action:action_listen",
	}), names(events))
	assert.Equal(t, []string{"action_reject"}, rejected)
}

func TestProcessor_ActionFailureLosesEvents(t *testing.T) {
	var failed []string
	f := newFixture(t, scripted(func(t *domain.Tracker) string {
		if t.LatestActionName() == domain.ActionListen {
			return "action_fail"
		}
		return domain.ActionListen
	}), processor.WithHooks(domain.LifecycleHooks{
		OnActionFailed: func(_ context.Context, name string, _ error) { failed = append(failed, name) },
	}))
	f.register(t, "action_fail", func(context.Context, *domain.Tracker, *domain.Domain) ([]domain.Event, error) {
		return []domain.Event{&domain.SlotSet{Key: "city", Value: "Rome"}}, errors.New("action server unreachable")
	})

	events := f.send(t, "gina", "/greet")
	assert.Equal(t, concat(sessionStart, []string{
		"user:greet",
		"action:action_fail",
		"action:action_listen",
	}), names(events))
	assert.Equal(t, []string{"action_fail"}, failed)
}

func TestProcessor_UnknownActionIsNotSaved(t *testing.T) {
	f := newFixture(t, scripted(func(*domain.Tracker) string { return "action_nope" }))

	_, err := f.proc.HandleMessage(context.Background(), domain.UserMessage{Text: "/greet", SenderID: "hank"}, f.out)
	var unknown *domain.UnknownActionError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "action_nope", unknown.Action)

	_, err = f.store.Load(context.Background(), "hank")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestProcessor_FollowupAction(t *testing.T) {
	var decided []string
	f := newFixture(t, scripted(func(t *domain.Tracker) string {
		a := byIntent(t)
		if t.LatestActionName() == domain.ActionListen && t.LatestMessage().Intent.Name == "deny" {
			a = "action_followup"
		}
		decided = append(decided, a)
		return a
	}))
	f.register(t, "action_followup", func(context.Context, *domain.Tracker, *domain.Domain) ([]domain.Event, error) {
		return []domain.Event{&domain.FollowupAction{Name: "utter_greet"}}, nil
	})

	events := f.send(t, "ivan", "/deny")
	assert.Equal(t, concat(sessionStart, []string{
		"user:deny",
		"action:action_followup",
		"followup",
		"action:utter_greet",
		"bot:Hello!",
		"action:action_listen",
	}), names(events))
	assert.Equal(t, []string{"action_followup", domain.ActionListen}, decided)
	assert.Empty(t, events[len(events)-3].(*domain.ActionExecuted).Policy)
}

func TestProcessor_UnknownFollowupIsIgnored(t *testing.T) {
	f := newFixture(t, scripted(func(t *domain.Tracker) string {
		if t.LatestActionName() == domain.ActionListen {
			return "action_followup"
		}
		return domain.ActionListen
	}))
	f.register(t, "action_followup", func(context.Context, *domain.Tracker, *domain.Domain) ([]domain.Event, error) {
		return []domain.Event{&domain.FollowupAction{Name: "action_missing"}}, nil
	})

	events := f.send(t, "judy", "/greet")
	assert.Equal(t, concat(sessionStart, []string{
		"user:greet",
		"action:action_followup",
		"followup",
		"action:action_listen",
	}), names(events))
}

func TestProcessor_Paused(t *testing.T) {
	var decisions atomic.Int32
	f := newFixture(t, scripted(func(t *domain.Tracker) string {
		decisions.Add(1)
		if t.LatestActionName() == domain.ActionListen && t.LatestMessage().Intent.Name == "deny" {
			return "action_pause"
		}
		return byIntent(t)
	}))
	f.register(t, "action_pause", func(context.Context, *domain.Tracker, *domain.Domain) ([]domain.Event, error) {
		return []domain.Event{&domain.ConversationPaused{}}, nil
	})

	f.send(t, "kim", "/deny")
	assert.Equal(t, int32(1), decisions.Load())

	events := f.send(t, "kim", "/greet")
	assert.Equal(t, []string{"user:greet"}, names(events))
	assert.Equal(t, int32(1), decisions.Load())

	f.send(t, "kim", "/restart")
	assert.Equal(t, int32(2), decisions.Load())
}

func TestProcessor_PredictNext(t *testing.T) {
	f := newFixture(t, scripted(byIntent))

	pred, err := f.proc.PredictNext(context.Background(), "lena")
	require.NoError(t, err)
	assert.Equal(t, "scripted", pred.Policy)
	require.Len(t, pred.Scores, f.domain.NumActions())
	for _, s := range pred.Scores {
		if s.Action == domain.ActionListen {
			assert.InDelta(t, 1.0, s.Score, 1e-9)
		} else {
			assert.Zero(t, s.Score, s.Action)
		}
	}
	assert.Equal(t, "lena", pred.Tracker.SenderID)

	// the session start is persisted, nothing else ran
	assert.Equal(t, sessionStart, names(f.stored(t, "lena")))
}

func TestProcessor_TriggerIntent(t *testing.T) {
	f := newFixture(t, scripted(byIntent))
	ctx := context.Background()

	_, err := f.proc.TriggerIntent(ctx, "mia", "unknown", nil, f.out)
	require.Error(t, err)

	events, err := f.proc.TriggerIntent(ctx, "mia", "greet", []domain.Entity{{Entity: "city", Value: "Oslo"}}, f.out)
	require.NoError(t, err)
	assert.Equal(t, concat(sessionStart, []string{
		"user:greet",
		"slot:city=Oslo",
		"action:utter_greet",
		"bot:Hello!",
		"action:action_listen",
	}), names(events))
	assert.Equal(t, processor.ExternalPrefix+"greet", events[3].(*domain.UserUttered).Text)
}

func TestProcessor_ExecuteAction(t *testing.T) {
	f := newFixture(t, scripted(byIntent))
	ctx := context.Background()

	_, err := f.proc.ExecuteAction(ctx, "nina", "action_nope", "", 0, f.out)
	var unknown *domain.UnknownActionError
	require.ErrorAs(t, err, &unknown)

	events, err := f.proc.ExecuteAction(ctx, "nina", "utter_greet", "manual", 0.5, f.out)
	require.NoError(t, err)
	assert.Equal(t, concat(sessionStart, []string{"action:utter_greet", "bot:Hello!"}), names(events))
	assert.Equal(t, []string{"Hello!"}, f.out.Texts())
	assert.Equal(t, "manual", events[3].(*domain.ActionExecuted).Policy)
}

type recordingPublisher struct {
	mu      sync.Mutex
	batches map[string][]int
}

func (p *recordingPublisher) Publish(_ context.Context, senderID string, events []domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches[senderID] = append(p.batches[senderID], len(events))
	return nil
}

func TestProcessor_PublishesNewEvents(t *testing.T) {
	pub := &recordingPublisher{batches: map[string][]int{}}
	f := newFixture(t, scripted(byIntent), processor.WithPublisher(pub))

	f.send(t, "omar", "/greet")
	f.send(t, "omar", "/greet")

	assert.Equal(t, []int{7, 4}, pub.batches["omar"])
}

func TestProcessor_ConcurrentMessagesOnOneConversation(t *testing.T) {
	var starts atomic.Int32
	f := newFixture(t, scripted(alwaysListen), processor.WithHooks(domain.LifecycleHooks{
		OnSessionStart: func(context.Context, string) { starts.Add(1) },
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.proc.HandleMessage(context.Background(), domain.UserMessage{Text: "/greet", SenderID: "pat"}, f.out)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.stored(t, "pat"), len(sessionStart)+20*2)
	assert.Equal(t, int32(1), starts.Load())
}

func TestProcessor_DefaultSender(t *testing.T) {
	f := newFixture(t, scripted(alwaysListen))
	f.send(t, "", "/greet")
	assert.NotEmpty(t, f.stored(t, processor.DefaultSenderID))
}

func TestProcessor_AppendEvents(t *testing.T) {
	f := newFixture(t, scripted(alwaysListen))
	f.send(t, "quinn", "/greet")

	added, err := f.proc.AppendEvents(context.Background(), "quinn", []domain.Event{
		&domain.SlotSet{Key: "city", Value: "Porto"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"slot:city=Porto"}, names(added))

	stored := f.stored(t, "quinn")
	last := stored[len(stored)-1]
	assert.Equal(t, "slot:city=Porto", names([]domain.Event{last})[0])
	assert.True(t, last.Time().After(stored[len(stored)-2].Time()))
}

func TestProcessor_AppendEventsKeepsTimestamps(t *testing.T) {
	f := newFixture(t, scripted(alwaysListen))
	f.send(t, "quinn", "/greet")

	imported := time.Date(2023, 11, 5, 18, 30, 0, 0, time.UTC)
	stamped := &domain.SlotSet{Key: "city", Value: "Porto"}
	stamped.SetTime(imported)
	unstamped := &domain.SlotSet{Key: "city", Value: "Lisbon"}

	added, err := f.proc.AppendEvents(context.Background(), "quinn", []domain.Event{stamped, unstamped})
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.True(t, added[0].Time().Equal(imported))
	assert.True(t, added[1].Time().Equal(f.clock.Now()))

	stored := f.stored(t, "quinn")
	assert.True(t, stored[len(stored)-2].Time().Equal(imported))
	assert.False(t, stored[len(stored)-1].Time().IsZero())
}
