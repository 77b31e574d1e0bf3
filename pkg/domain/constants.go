package domain

// Default action names. They are always part of a Domain and come first in its
// action list, so action_listen owns index 0.
const (
	ActionListen                = "action_listen"
	ActionRestart               = "action_restart"
	ActionSessionStart          = "action_session_start"
	ActionDefaultFallback       = "action_default_fallback"
	ActionDeactivateLoop        = "action_deactivate_loop"
	ActionRevertFallbackEvents  = "action_revert_fallback_events"
	ActionDefaultAskAffirmation = "action_default_ask_affirmation"
	ActionDefaultAskRephrase    = "action_default_ask_rephrase"
	ActionBack                  = "action_back"

	// RuleSnippetAction marks the start of a rule that is not anchored at the
	// beginning of a conversation. It is never part of a Domain.
	RuleSnippetAction = "..."
)

// Default intents, added to every Domain.
const (
	IntentRestart      = "restart"
	IntentBack         = "back"
	IntentSessionStart = "session_start"
)

// Turn state keys.
const (
	SubStateUser       = "user"
	SubStateSlots      = "slots"
	SubStatePrevAction = "prev_action"
	SubStateActiveLoop = "active_loop"

	KeyIntent     = "intent"
	KeyEntities   = "entities"
	KeyActionName = "action_name"
	KeyLoopName   = "name"
)

const (
	// ShouldNotBeSet is the sentinel used by rules for slots and loops that must
	// be absent for the rule to apply.
	ShouldNotBeSet = "should_not_be_set"

	// SlotRequested holds the name of the slot a form is currently asking for.
	SlotRequested = "requested_slot"

	// UtterPrefix prefixes every response-backed action.
	UtterPrefix = "utter_"

	// ResponseDefault is uttered by the default circuit breaker callback.
	ResponseDefault = "utter_default"
)

// DefaultActions lists the built-in actions in domain order.
var DefaultActions = []string{
	ActionListen,
	ActionRestart,
	ActionSessionStart,
	ActionDefaultFallback,
	ActionDeactivateLoop,
	ActionRevertFallbackEvents,
	ActionDefaultAskAffirmation,
	ActionDefaultAskRephrase,
	ActionBack,
}

// DefaultIntents lists the built-in intents.
var DefaultIntents = []string{IntentRestart, IntentBack, IntentSessionStart}

// IsDefaultAction reports whether name is a built-in action.
func IsDefaultAction(name string) bool {
	for _, a := range DefaultActions {
		if a == name {
			return true
		}
	}
	return false
}
