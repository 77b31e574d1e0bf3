package domain

import (
	"errors"
	"fmt"
)

// ErrConversationNotFound is returned when a conversation cannot be found in the store.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrUnknownActionIndex is returned when an index is outside the domain action list.
var ErrUnknownActionIndex = errors.New("unknown action index")

// ErrUnknownIntent is returned when an intent is not part of the domain.
var ErrUnknownIntent = errors.New("intent is not defined in the domain")

// ErrUnknownEventType is returned when decoding an event with an unregistered type name.
var ErrUnknownEventType = errors.New("unknown event type")

// ConfigurationError is a fatal problem in a domain or agent definition.
// Cause usually holds a schema.AggregateError listing every violation.
type ConfigurationError struct {
	Cause error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Cause)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// UnknownSlotError is returned when a SlotSet names a slot the domain does not declare.
type UnknownSlotError struct {
	Slot string
}

func (e *UnknownSlotError) Error() string {
	return fmt.Sprintf("slot %q is not defined in the domain", e.Slot)
}

// UnknownActionError is returned when an action name is not part of the domain.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("action %q is not defined in the domain", e.Action)
}
