package actions

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// AskPrefix prefixes the response a form utters to request a slot.
const AskPrefix = "utter_ask_"

// formAction fills the required slots of a form from entities named after
// them, asking for one missing slot per turn.
//
// A run activates the loop if needed, then either requests the next slot or,
// once every slot is filled, deactivates it. While validating, a user turn
// that fills nothing is rejected so other policies can handle it.
func (r *Registry) formAction(name string) Func {
	return func(ctx context.Context, t *domain.Tracker, d *domain.Domain) ([]domain.Event, error) {
		form, _ := d.Form(name)
		var events []domain.Event

		active := t.ActiveLoopName() == name
		if !active {
			events = append(events, &domain.ActiveLoopChanged{Name: name})
			events = append(events, extractSlots(form, t)...)
		} else if t.ActiveLoop().Validate && t.HasFreshUserMessage() {
			requested, _ := t.Slot(domain.SlotRequested).(string)
			extracted := extractSlots(form, t)
			if requested != "" && !fills(extracted, requested) {
				return nil, &ports.Rejection{Action: name, Reason: "failed to extract slot " + requested}
			}
			events = append(events, extracted...)
		}

		next := nextSlot(form, t, events)
		if next == "" {
			return append(events,
				&domain.ActiveLoopChanged{},
				&domain.SlotSet{Key: domain.SlotRequested},
			), nil
		}

		events = append(events, &domain.SlotSet{Key: domain.SlotRequested, Value: next})
		asked, err := r.utter(ctx, AskPrefix+next, t, false)
		if err != nil {
			return nil, err
		}
		return append(events, asked...), nil
	}
}

// extractSlots maps entities of the latest message onto required slots.
func extractSlots(form domain.Form, t *domain.Tracker) []domain.Event {
	msg := t.LatestMessage()
	var events []domain.Event
	for _, slot := range form.RequiredSlots {
		var value any
		found := false
		for _, e := range msg.Entities {
			if e.Entity == slot {
				value, found = e.Value, true
			}
		}
		if found {
			events = append(events, &domain.SlotSet{Key: slot, Value: value})
		}
	}
	return events
}

func fills(events []domain.Event, slot string) bool {
	for _, e := range events {
		if s, ok := e.(*domain.SlotSet); ok && s.Key == slot && s.Value != nil {
			return true
		}
	}
	return false
}

// nextSlot returns the first required slot that is empty after events.
func nextSlot(form domain.Form, t *domain.Tracker, events []domain.Event) string {
	for _, slot := range form.RequiredSlots {
		value := t.Slot(slot)
		for _, e := range events {
			if s, ok := e.(*domain.SlotSet); ok && s.Key == slot {
				value = s.Value
			}
		}
		if value == nil {
			return slot
		}
	}
	return ""
}
