package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

var eventFactories = map[EventType]func() Event{
	EventUser:                    func() Event { return &UserUttered{} },
	EventBot:                     func() Event { return &BotUttered{} },
	EventAction:                  func() Event { return &ActionExecuted{} },
	EventSlot:                    func() Event { return &SlotSet{} },
	EventActiveLoop:              func() Event { return &ActiveLoopChanged{} },
	EventSessionStarted:          func() Event { return &SessionStarted{} },
	EventReminder:                func() Event { return &ReminderScheduled{} },
	EventCancelReminder:          func() Event { return &ReminderCancelled{} },
	EventActionExecutionRejected: func() Event { return &ActionExecutionRejected{} },
	EventRestart:                 func() Event { return &Restarted{} },
	EventResetSlots:              func() Event { return &AllSlotsReset{} },
	EventFollowup:                func() Event { return &FollowupAction{} },
	EventPause:                   func() Event { return &ConversationPaused{} },
	EventResume:                  func() Event { return &ConversationResumed{} },
	EventRewind:                  func() Event { return &UserUtteranceReverted{} },
	EventUndo:                    func() Event { return &ActionReverted{} },
	EventLoopInterrupted:         func() Event { return &LoopInterrupted{} },
	EventFormValidation:          func() Event { return &FormValidation{} },
}

// NewEvent returns an empty event of the given type.
func NewEvent(t EventType) (Event, error) {
	factory, ok := eventFactories[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
	}
	return factory(), nil
}

type envelope struct {
	Event     EventType `json:"event"`
	Timestamp float64   `json:"timestamp"`
}

// MarshalEvent encodes an event as a flat JSON object with "event" and
// "timestamp" (fractional unix seconds) next to its own fields.
func MarshalEvent(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", e.Type(), err)
	}

	var buf bytes.Buffer
	buf.WriteString(`{"event":`)
	name, _ := json.Marshal(string(e.Type()))
	buf.Write(name)
	buf.WriteString(`,"timestamp":`)
	buf.WriteString(strconv.FormatFloat(toUnixSeconds(e.Time()), 'f', -1, 64))

	inner := bytes.TrimSpace(body)
	inner = bytes.TrimPrefix(inner, []byte("{"))
	if len(bytes.TrimSpace(inner)) > 1 {
		buf.WriteByte(',')
	}
	buf.Write(inner)
	return buf.Bytes(), nil
}

// UnmarshalEvent decodes an event produced by MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to read event envelope: %w", err)
	}
	e, err := NewEvent(env.Event)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s event: %w", env.Event, err)
	}
	e.SetTime(fromUnixSeconds(env.Timestamp))
	return e, nil
}

// Events is an ordered event list with a JSON array encoding.
type Events []Event

func (es Events) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range es {
		if i > 0 {
			buf.WriteByte(',')
		}
		data, err := MarshalEvent(e)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (es *Events) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Events, 0, len(raw))
	for i, r := range raw {
		e, err := UnmarshalEvent(r)
		if err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		out = append(out, e)
	}
	*es = out
	return nil
}

// Dialogue is the persisted shape of a conversation: enough to rebuild its
// tracker by replay.
type Dialogue struct {
	SenderID string `json:"sender_id"`
	Events   Events `json:"events"`
}

func toUnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(f float64) time.Time {
	if f == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC()
}

// entitiesKey is an order-insensitive representation of an entity list.
func entitiesKey(entities []Entity) string {
	parts := make([]string, 0, len(entities))
	for _, e := range entities {
		parts = append(parts, fmt.Sprintf("%s=%v", e.Entity, e.Value))
	}
	sort.Strings(parts)
	data, _ := json.Marshal(parts)
	return string(data)
}
