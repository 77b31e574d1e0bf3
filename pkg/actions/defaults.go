package actions

import (
	"context"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
)

// Responses the default actions utter when the domain defines them.
const (
	ResponseRestart     = "utter_restart"
	ResponseBack        = "utter_back"
	ResponseAskRephrase = "utter_ask_rephrase"
	IntentOutOfScope    = "out_of_scope"
)

func (r *Registry) defaultActions() map[string]Func {
	return map[string]Func{
		domain.ActionListen:                r.listen,
		domain.ActionRestart:               r.restart,
		domain.ActionSessionStart:          r.sessionStart,
		domain.ActionDefaultFallback:       r.defaultFallback,
		domain.ActionDeactivateLoop:        r.deactivateLoop,
		domain.ActionRevertFallbackEvents:  r.revertFallbackEvents,
		domain.ActionDefaultAskAffirmation: r.askAffirmation,
		domain.ActionDefaultAskRephrase:    r.askRephrase,
		domain.ActionBack:                  r.back,
	}
}

func (r *Registry) listen(context.Context, *domain.Tracker, *domain.Domain) ([]domain.Event, error) {
	return nil, nil
}

func (r *Registry) restart(ctx context.Context, t *domain.Tracker, _ *domain.Domain) ([]domain.Event, error) {
	events, err := r.utter(ctx, ResponseRestart, t, true)
	if err != nil {
		return nil, err
	}
	return append(events, &domain.Restarted{}), nil
}

// sessionStart opens a new session, carrying over slots when configured.
func (r *Registry) sessionStart(_ context.Context, t *domain.Tracker, d *domain.Domain) ([]domain.Event, error) {
	events := []domain.Event{&domain.SessionStarted{}}
	if d.Session().CarryOverSlots {
		for _, e := range t.AppliedEvents() {
			if s, ok := e.(*domain.SlotSet); ok {
				events = append(events, &domain.SlotSet{Base: domain.Base{Metadata: s.Metadata}, Key: s.Key, Value: s.Value})
			}
		}
	}
	return append(events, &domain.ActionExecuted{ActionName: domain.ActionListen}), nil
}

func (r *Registry) defaultFallback(ctx context.Context, t *domain.Tracker, _ *domain.Domain) ([]domain.Event, error) {
	events, err := r.utter(ctx, domain.ResponseDefault, t, true)
	if err != nil {
		return nil, err
	}
	return append(events, &domain.UserUtteranceReverted{}), nil
}

func (r *Registry) deactivateLoop(context.Context, *domain.Tracker, *domain.Domain) ([]domain.Event, error) {
	return []domain.Event{
		&domain.ActiveLoopChanged{},
		&domain.SlotSet{Key: domain.SlotRequested},
	}, nil
}

func (r *Registry) askRephrase(ctx context.Context, t *domain.Tracker, _ *domain.Domain) ([]domain.Event, error) {
	return r.utter(ctx, ResponseAskRephrase, t, true)
}

func (r *Registry) back(ctx context.Context, t *domain.Tracker, _ *domain.Domain) ([]domain.Event, error) {
	events, err := r.utter(ctx, ResponseBack, t, true)
	if err != nil {
		return nil, err
	}
	// the first revert removes the "back" message itself
	return append(events, &domain.UserUtteranceReverted{}, &domain.UserUtteranceReverted{}), nil
}

// askAffirmation asks the user to confirm a low-confidence intent.
func (r *Registry) askAffirmation(_ context.Context, t *domain.Tracker, _ *domain.Domain) ([]domain.Event, error) {
	intent := t.LatestMessage().Intent.Name
	return []domain.Event{&domain.BotUttered{
		Text: fmt.Sprintf("Did you mean '%s'?", intent),
		Data: map[string]any{"buttons": []domain.Button{
			{Title: "Yes", Payload: "/" + intent},
			{Title: "No", Payload: "/" + IntentOutOfScope},
		}},
	}}, nil
}

// revertFallbackEvents undoes the two-stage fallback once the user affirmed
// or rephrased, and replays the last message with full confidence.
func (r *Registry) revertFallbackEvents(_ context.Context, t *domain.Tracker, _ *domain.Domain) ([]domain.Event, error) {
	applied := t.AppliedEvents()
	switch {
	case lastExecutedActionIs(applied, domain.ActionDefaultAskAffirmation, 0):
		events := []domain.Event{
			&domain.UserUtteranceReverted{},
			&domain.UserUtteranceReverted{},
			&domain.ActionExecuted{ActionName: domain.ActionListen},
		}
		if lastExecutedActionIs(applied, domain.ActionDefaultAskRephrase, 1) {
			events = append(events, &domain.UserUtteranceReverted{}, &domain.ActionExecuted{ActionName: domain.ActionListen})
		}
		if last := t.LastUserUttered(); last != nil {
			events = append(events, confident(last))
		}
		return events, nil
	case lastExecutedActionIs(applied, domain.ActionDefaultAskRephrase, 0):
		return []domain.Event{
			&domain.UserUtteranceReverted{},
			&domain.ActionExecuted{ActionName: domain.ActionListen},
			confident(t.LatestMessage()),
		}, nil
	default:
		return nil, nil
	}
}

// lastExecutedActionIs checks the skip-th most recent action other than action_listen.
func lastExecutedActionIs(applied []domain.Event, name string, skip int) bool {
	for i := len(applied) - 1; i >= 0; i-- {
		a, ok := applied[i].(*domain.ActionExecuted)
		if !ok || a.ActionName == domain.ActionListen {
			continue
		}
		if skip == 0 {
			return a.ActionName == name
		}
		skip--
	}
	return false
}

func confident(u *domain.UserUttered) *domain.UserUttered {
	c := *u
	c.Base = domain.Base{Metadata: u.Metadata}
	c.Intent.Confidence = 1
	c.Entities = append([]domain.Entity(nil), u.Entities...)
	return &c
}
