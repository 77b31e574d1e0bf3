package domain

import (
	"errors"
	"sort"
	"time"
)

// LoopState is the projection of the active loop (form).
type LoopState struct {
	Name           string       `json:"name,omitempty"`
	Validate       bool         `json:"validate"`
	Rejected       bool         `json:"rejected"`
	TriggerMessage *UserUttered `json:"trigger_message,omitempty"`
}

// Tracker holds the event log of one conversation and the projection folded
// from it. The projection is never changed except by appending events.
//
// A Tracker is not safe for concurrent use; the session manager guarantees a
// single owner per conversation.
type Tracker struct {
	senderID string
	events   []Event

	slotDefs  []Slot
	slotIndex map[string]int
	slots     map[string]any

	latestMessage      *UserUttered
	latestBotUtterance *BotUttered
	latestAction       string
	followupAction     string
	paused             bool
	activeLoop         LoopState

	// afterUser is true while no action ran since the latest user message.
	afterUser bool
}

// NewTracker creates an empty tracker for the given conversation and slot declarations.
func NewTracker(senderID string, slots []Slot) *Tracker {
	defs := make([]Slot, len(slots))
	copy(defs, slots)
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	t := &Tracker{
		senderID:  senderID,
		slotDefs:  defs,
		slotIndex: make(map[string]int, len(defs)),
	}
	for i, s := range defs {
		t.slotIndex[s.Name] = i
	}
	t.reset()
	return t
}

// SenderID returns the conversation id.
func (t *Tracker) SenderID() string { return t.senderID }

// Events returns a copy of the full event log.
func (t *Tracker) Events() []Event {
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Len returns the number of events in the log.
func (t *Tracker) Len() int { return len(t.events) }

// Update appends e and folds it into the projection. The event is always
// appended; an *UnknownSlotError reports a SlotSet the projection had to ignore.
func (t *Tracker) Update(e Event) error {
	t.events = append(t.events, e)
	return e.applyTo(t)
}

// Extend appends events in order, joining any fold errors.
func (t *Tracker) Extend(events ...Event) error {
	var errs []error
	for _, e := range events {
		if err := t.Update(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Slot returns the current value of a slot, or nil when unset or unknown.
func (t *Tracker) Slot(name string) any {
	return t.slots[name]
}

// Slots returns a copy of every slot value, keyed by slot name.
func (t *Tracker) Slots() map[string]any {
	out := make(map[string]any, len(t.slots))
	for k, v := range t.slots {
		out[k] = v
	}
	return out
}

// SlotDefinitions returns the slot declarations sorted by name.
func (t *Tracker) SlotDefinitions() []Slot { return t.slotDefs }

// LatestMessage returns the latest user message; never nil.
func (t *Tracker) LatestMessage() *UserUttered { return t.latestMessage }

// LatestBotUtterance returns the latest bot message; never nil.
func (t *Tracker) LatestBotUtterance() *BotUttered { return t.latestBotUtterance }

// LatestActionName returns the name of the last executed action.
func (t *Tracker) LatestActionName() string { return t.latestAction }

// FollowupAction returns the action forced to run next, if any.
func (t *Tracker) FollowupAction() string { return t.followupAction }

// IsPaused reports whether the bot is paused for this conversation.
func (t *Tracker) IsPaused() bool { return t.paused }

// ActiveLoop returns the projection of the active loop.
func (t *Tracker) ActiveLoop() LoopState { return t.activeLoop }

// ActiveLoopName returns the active loop, ignoring the rule-only sentinel.
func (t *Tracker) ActiveLoopName() string {
	if t.activeLoop.Name == ShouldNotBeSet {
		return ""
	}
	return t.activeLoop.Name
}

// HasFreshUserMessage reports whether a user message arrived after the last action.
func (t *Tracker) HasFreshUserMessage() bool {
	return t.afterUser && !t.latestMessage.IsEmpty()
}

// EventsSinceLastRestart returns the log suffix after the most recent
// Restarted or SessionStarted event.
func (t *Tracker) EventsSinceLastRestart() []Event {
	start := 0
	for i := len(t.events) - 1; i >= 0; i-- {
		switch t.events[i].(type) {
		case *Restarted, *SessionStarted:
			start = i + 1
		}
		if start > 0 {
			break
		}
	}
	out := make([]Event, len(t.events)-start)
	copy(out, t.events[start:])
	return out
}

// AppliedEvents returns the events that make up the current state: everything
// since the last restart or session start, with reverted events removed.
func (t *Tracker) AppliedEvents() []Event {
	var applied []Event
	undoTill := func(match func(Event) bool) {
		for len(applied) > 0 {
			last := applied[len(applied)-1]
			applied = applied[:len(applied)-1]
			if match(last) {
				return
			}
		}
	}
	isAction := func(e Event) bool { _, ok := e.(*ActionExecuted); return ok }
	isUser := func(e Event) bool { _, ok := e.(*UserUttered); return ok }

	for _, e := range t.events {
		switch e.(type) {
		case *Restarted, *SessionStarted:
			applied = nil
		case *ActionReverted:
			undoTill(isAction)
		case *UserUtteranceReverted:
			// a user message implies the action_listen right before it
			undoTill(isUser)
			undoTill(isAction)
		default:
			applied = append(applied, e)
		}
	}
	return applied
}

// LastUserUttered returns the latest applied user message, or nil.
func (t *Tracker) LastUserUttered() *UserUttered {
	applied := t.AppliedEvents()
	for i := len(applied) - 1; i >= 0; i-- {
		if u, ok := applied[i].(*UserUttered); ok {
			return u
		}
	}
	return nil
}

// LatestEventTime returns the timestamp of the last event.
func (t *Tracker) LatestEventTime() time.Time {
	if len(t.events) == 0 {
		return time.Time{}
	}
	return t.events[len(t.events)-1].Time()
}

// PriorSnapshots returns one tracker per ActionExecuted boundary of the
// applied events (the state right before that action ran), followed by the
// current state.
func (t *Tracker) PriorSnapshots() []*Tracker {
	var out []*Tracker
	cur := t.InitCopy()
	for _, e := range t.AppliedEvents() {
		if _, ok := e.(*ActionExecuted); ok {
			out = append(out, cur.clone())
		}
		_ = cur.Update(e)
	}
	return append(out, cur)
}

// InitCopy returns an empty tracker with the same id and slot declarations.
func (t *Tracker) InitCopy() *Tracker {
	return NewTracker(t.senderID, t.slotDefs)
}

// Copy rebuilds an independent tracker by replaying the log.
func (t *Tracker) Copy() *Tracker {
	c := t.InitCopy()
	_ = c.Extend(t.events...)
	return c
}

// Dialogue returns the persistable form of the conversation.
func (t *Tracker) Dialogue() *Dialogue {
	return &Dialogue{SenderID: t.senderID, Events: t.Events()}
}

func (t *Tracker) clone() *Tracker {
	c := *t
	c.events = t.events[:len(t.events):len(t.events)]
	c.slots = t.Slots()
	return &c
}

func (t *Tracker) setSlot(name string, value any) error {
	if _, ok := t.slotIndex[name]; !ok {
		return &UnknownSlotError{Slot: name}
	}
	t.slots[name] = value
	return nil
}

func (t *Tracker) changeLoopTo(name string) {
	if name == "" {
		t.activeLoop = LoopState{}
		return
	}
	t.activeLoop = LoopState{
		Name:           name,
		Validate:       true,
		TriggerMessage: t.latestMessage,
	}
}

func (t *Tracker) resetSlots() {
	t.slots = make(map[string]any, len(t.slotDefs))
	for _, s := range t.slotDefs {
		if s.InitialValue != nil {
			t.slots[s.Name] = s.InitialValue
		}
	}
}

func (t *Tracker) reset() {
	t.resetSlots()
	t.paused = false
	t.latestAction = ""
	t.latestMessage = &UserUttered{}
	t.latestBotUtterance = &BotUttered{}
	t.followupAction = ""
	t.activeLoop = LoopState{}
	t.afterUser = false
}

func (t *Tracker) replayApplied() error {
	t.reset()
	var errs []error
	for _, e := range t.AppliedEvents() {
		if err := e.applyTo(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TrackerSnapshot is the JSON view of a tracker returned by the APIs.
type TrackerSnapshot struct {
	SenderID         string         `json:"sender_id"`
	Slots            map[string]any `json:"slots"`
	LatestMessage    *UserUttered   `json:"latest_message,omitempty"`
	LatestActionName string         `json:"latest_action_name,omitempty"`
	LatestEventTime  float64        `json:"latest_event_time"`
	FollowupAction   string         `json:"followup_action,omitempty"`
	Paused           bool           `json:"paused"`
	ActiveLoop       *LoopState     `json:"active_loop,omitempty"`
	Events           Events         `json:"events,omitempty"`
}

// Snapshot returns the current state, optionally with the full log.
func (t *Tracker) Snapshot(withEvents bool) TrackerSnapshot {
	s := TrackerSnapshot{
		SenderID:         t.senderID,
		Slots:            t.Slots(),
		LatestActionName: t.latestAction,
		LatestEventTime:  toUnixSeconds(t.LatestEventTime()),
		FollowupAction:   t.followupAction,
		Paused:           t.paused,
	}
	if !t.latestMessage.IsEmpty() {
		s.LatestMessage = t.latestMessage
	}
	if t.activeLoop.Name != "" {
		loop := t.activeLoop
		s.ActiveLoop = &loop
	}
	if withEvents {
		s.Events = t.Events()
	}
	return s
}
