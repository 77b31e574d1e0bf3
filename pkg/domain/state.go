package domain

import "sort"

// SubState is one named part of a TurnState (user, slots, prev_action, active_loop).
type SubState map[string]any

// TurnState is the compact snapshot of a conversation at one point in time.
// Empty sub-states are omitted.
type TurnState map[string]SubState

// ActiveState projects the tracker's current projection onto the domain vocabulary.
func (d *Domain) ActiveState(t *Tracker) TurnState {
	state := TurnState{}
	if sub := d.userSubState(t); len(sub) > 0 {
		state[SubStateUser] = sub
	}
	if sub := slotsSubState(t); len(sub) > 0 {
		state[SubStateSlots] = sub
	}
	if t.latestAction != "" {
		state[SubStatePrevAction] = SubState{KeyActionName: t.latestAction}
	}
	// keep the sentinel: rules use it to require that no loop is active
	if t.activeLoop.Name != "" {
		state[SubStateActiveLoop] = SubState{KeyLoopName: t.activeLoop.Name}
	}
	return state
}

// StatesForTracker returns one TurnState per ActionExecuted boundary of the
// applied events, followed by the current state.
func (d *Domain) StatesForTracker(t *Tracker) []TurnState {
	var states []TurnState
	cur := t.InitCopy()
	for _, e := range t.AppliedEvents() {
		if _, ok := e.(*ActionExecuted); ok {
			states = append(states, d.ActiveState(cur))
		}
		// unknown slots are dropped from the projection, as at runtime
		_ = cur.Update(e)
	}
	return append(states, d.ActiveState(cur))
}

// userSubState is empty unless a user message arrived after the last action.
func (d *Domain) userSubState(t *Tracker) SubState {
	if !t.HasFreshUserMessage() {
		return nil
	}
	msg := t.latestMessage
	sub := SubState{}
	if msg.Intent.Name != "" {
		sub[KeyIntent] = msg.Intent.Name
	} else if msg.Text != "" {
		sub["text"] = msg.Text
	}
	if entities := d.featurizedEntities(msg); len(entities) > 0 {
		sub[KeyEntities] = entities
	}
	return sub
}

// featurizedEntities keeps the entity names the message's intent uses.
// Messages with an undeclared intent keep all their entities.
func (d *Domain) featurizedEntities(msg *UserUttered) []string {
	wanted, known := d.usedEntities[msg.Intent.Name]
	seen := make(map[string]bool)
	var names []string
	for _, e := range msg.Entities {
		if e.Entity == "" || seen[e.Entity] {
			continue
		}
		if known && !wanted[e.Entity] {
			continue
		}
		seen[e.Entity] = true
		names = append(names, e.Entity)
	}
	sort.Strings(names)
	return names
}

func slotsSubState(t *Tracker) SubState {
	// nothing happened yet in this session
	if t.latestMessage.IsEmpty() || t.latestAction == "" {
		return nil
	}
	sub := SubState{}
	for _, s := range t.slotDefs {
		if s.FeatureDimensionality() == 0 {
			continue
		}
		value := t.slots[s.Name]
		if v, ok := value.(string); ok && v == ShouldNotBeSet {
			sub[s.Name] = ShouldNotBeSet
			continue
		}
		if features := s.Features(value); anyNonZero(features) {
			sub[s.Name] = features
		}
	}
	return sub
}
