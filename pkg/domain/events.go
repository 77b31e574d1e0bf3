package domain

import (
	"context"
	"time"
)

// EventType is the wire name of an event variant.
type EventType string

const (
	EventUser                    EventType = "user"
	EventBot                     EventType = "bot"
	EventAction                  EventType = "action"
	EventSlot                    EventType = "slot"
	EventActiveLoop              EventType = "active_loop"
	EventSessionStarted          EventType = "session_started"
	EventReminder                EventType = "reminder"
	EventCancelReminder          EventType = "cancel_reminder"
	EventActionExecutionRejected EventType = "action_execution_rejected"
	EventRestart                 EventType = "restart"
	EventResetSlots              EventType = "reset_slots"
	EventFollowup                EventType = "followup"
	EventPause                   EventType = "pause"
	EventResume                  EventType = "resume"
	EventRewind                  EventType = "rewind"
	EventUndo                    EventType = "undo"
	EventLoopInterrupted         EventType = "loop_interrupted"
	EventFormValidation          EventType = "form_validation"
)

// Event is an immutable, timestamped fact about a conversation.
// The set of variants is closed: only types in this package implement it.
type Event interface {
	Type() EventType
	Time() time.Time
	SetTime(time.Time)
	applyTo(t *Tracker) error
}

// Base carries the fields shared by every event.
type Base struct {
	Timestamp time.Time      `json:"-"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Time returns the moment the event happened.
func (b *Base) Time() time.Time { return b.Timestamp }

// SetTime stamps the event. Only the processor stamps events, before they are
// folded into a tracker.
func (b *Base) SetTime(ts time.Time) { b.Timestamp = ts }

// UserUttered records a message sent by the user.
type UserUttered struct {
	Base
	Text         string   `json:"text,omitempty"`
	Intent       Intent   `json:"intent"`
	Entities     []Entity `json:"entities,omitempty"`
	InputChannel string   `json:"input_channel,omitempty"`
	MessageID    string   `json:"message_id,omitempty"`
}

func (e *UserUttered) Type() EventType { return EventUser }

// IsEmpty reports whether the utterance carries neither text nor intent.
func (e *UserUttered) IsEmpty() bool {
	return e == nil || (e.Text == "" && e.Intent.Name == "" && len(e.Entities) == 0)
}

func (e *UserUttered) applyTo(t *Tracker) error {
	t.latestMessage = e
	t.followupAction = ""
	t.afterUser = true
	return nil
}

// BotUttered records a message sent by the bot.
type BotUttered struct {
	Base
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

func (e *BotUttered) Type() EventType { return EventBot }

func (e *BotUttered) applyTo(t *Tracker) error {
	t.latestBotUtterance = e
	return nil
}

// ActionExecuted records that an action ran, and which policy chose it.
type ActionExecuted struct {
	Base
	ActionName string  `json:"name"`
	Policy     string  `json:"policy,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

func (e *ActionExecuted) Type() EventType { return EventAction }

func (e *ActionExecuted) applyTo(t *Tracker) error {
	t.latestAction = e.ActionName
	t.followupAction = ""
	t.afterUser = false
	// running the loop action itself clears a previous rejection
	if t.activeLoop.Name != "" && t.activeLoop.Name == e.ActionName {
		t.activeLoop.Validate = true
		t.activeLoop.Rejected = false
	}
	return nil
}

// SlotSet stores a value in a slot. A nil value clears it.
type SlotSet struct {
	Base
	Key   string `json:"name"`
	Value any    `json:"value"`
}

func (e *SlotSet) Type() EventType { return EventSlot }

func (e *SlotSet) applyTo(t *Tracker) error {
	return t.setSlot(e.Key, e.Value)
}

// ActiveLoopChanged activates a loop (form) or, with an empty name, clears it.
type ActiveLoopChanged struct {
	Base
	Name string `json:"name"`
}

func (e *ActiveLoopChanged) Type() EventType { return EventActiveLoop }

func (e *ActiveLoopChanged) applyTo(t *Tracker) error {
	t.changeLoopTo(e.Name)
	return nil
}

// SessionStarted marks the beginning of a new session.
type SessionStarted struct {
	Base
}

func (e *SessionStarted) Type() EventType { return EventSessionStarted }

func (e *SessionStarted) applyTo(t *Tracker) error {
	t.reset()
	return nil
}

// ReminderScheduled asks the host to trigger Intent at TriggerAt.
type ReminderScheduled struct {
	Base
	Intent            string    `json:"intent"`
	TriggerAt         time.Time `json:"date_time"`
	Entities          []Entity  `json:"entities,omitempty"`
	Name              string    `json:"name"`
	KillOnUserMessage bool      `json:"kill_on_user_msg"`
}

func (e *ReminderScheduled) Type() EventType { return EventReminder }

func (e *ReminderScheduled) applyTo(*Tracker) error { return nil }

// ReminderCancelled cancels scheduled reminders. Empty fields match everything.
type ReminderCancelled struct {
	Base
	Name     string   `json:"name,omitempty"`
	Intent   string   `json:"intent,omitempty"`
	Entities []Entity `json:"entities,omitempty"`
}

func (e *ReminderCancelled) Type() EventType { return EventCancelReminder }

func (e *ReminderCancelled) applyTo(*Tracker) error { return nil }

// Matches reports whether the scheduled reminder r is covered by this
// cancellation.
func (e *ReminderCancelled) Matches(r *ReminderScheduled) bool {
	if e.Name != "" && e.Name != r.Name {
		return false
	}
	if e.Intent != "" && e.Intent != r.Intent {
		return false
	}
	if len(e.Entities) > 0 && entitiesKey(e.Entities) != entitiesKey(r.Entities) {
		return false
	}
	return true
}

// ActionExecutionRejected records that an action declined to run.
type ActionExecutionRejected struct {
	Base
	ActionName string  `json:"name"`
	Policy     string  `json:"policy,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

func (e *ActionExecutionRejected) Type() EventType { return EventActionExecutionRejected }

func (e *ActionExecutionRejected) applyTo(t *Tracker) error {
	if t.activeLoop.Name != "" && t.activeLoop.Name == e.ActionName {
		t.activeLoop.Rejected = true
	}
	return nil
}

// Restarted resets the conversation. A session start follows it.
type Restarted struct {
	Base
}

func (e *Restarted) Type() EventType { return EventRestart }

func (e *Restarted) applyTo(t *Tracker) error {
	t.reset()
	t.followupAction = ActionSessionStart
	return nil
}

// AllSlotsReset clears every slot back to its initial value.
type AllSlotsReset struct {
	Base
}

func (e *AllSlotsReset) Type() EventType { return EventResetSlots }

func (e *AllSlotsReset) applyTo(t *Tracker) error {
	t.resetSlots()
	return nil
}

// FollowupAction forces the next action, bypassing prediction.
type FollowupAction struct {
	Base
	Name string `json:"name"`
}

func (e *FollowupAction) Type() EventType { return EventFollowup }

func (e *FollowupAction) applyTo(t *Tracker) error {
	t.followupAction = e.Name
	return nil
}

// ConversationPaused stops the bot from predicting until resumed.
type ConversationPaused struct {
	Base
}

func (e *ConversationPaused) Type() EventType { return EventPause }

func (e *ConversationPaused) applyTo(t *Tracker) error {
	t.paused = true
	return nil
}

// ConversationResumed undoes a ConversationPaused.
type ConversationResumed struct {
	Base
}

func (e *ConversationResumed) Type() EventType { return EventResume }

func (e *ConversationResumed) applyTo(t *Tracker) error {
	t.paused = false
	return nil
}

// UserUtteranceReverted undoes the last user message and everything after it.
type UserUtteranceReverted struct {
	Base
}

func (e *UserUtteranceReverted) Type() EventType { return EventRewind }

func (e *UserUtteranceReverted) applyTo(t *Tracker) error {
	return t.replayApplied()
}

// ActionReverted undoes the last bot action.
type ActionReverted struct {
	Base
}

func (e *ActionReverted) Type() EventType { return EventUndo }

func (e *ActionReverted) applyTo(t *Tracker) error {
	return t.replayApplied()
}

// LoopInterrupted marks whether the active loop was interrupted by another action.
type LoopInterrupted struct {
	Base
	IsInterrupted bool `json:"is_interrupted"`
}

func (e *LoopInterrupted) Type() EventType { return EventLoopInterrupted }

func (e *LoopInterrupted) applyTo(t *Tracker) error {
	if t.activeLoop.Name != "" {
		t.activeLoop.Validate = !e.IsInterrupted
	}
	return nil
}

// FormValidation toggles input validation of the active loop.
type FormValidation struct {
	Base
	Validate bool `json:"validate"`
}

func (e *FormValidation) Type() EventType { return EventFormValidation }

func (e *FormValidation) applyTo(t *Tracker) error {
	if t.activeLoop.Name != "" {
		t.activeLoop.Validate = e.Validate
	}
	return nil
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnMessage        func(context.Context, *UserUttered)
	OnPrediction     func(context.Context, PredictionEvent)
	OnActionExecuted func(context.Context, *ActionExecuted)
	OnActionRejected func(context.Context, *ActionExecutionRejected)
	OnActionFailed   func(context.Context, string, error)
	OnCircuitBreak   func(context.Context, string)
	OnSessionStart   func(context.Context, string)
}

// PredictionEvent describes a single decision of the policy ensemble.
type PredictionEvent struct {
	SenderID   string
	Action     string
	Policy     string
	Confidence float64
}
