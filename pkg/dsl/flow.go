package dsl

const (
	sectionStories = "stories"
	sectionRules   = "rules"
)

// FlowBuilder provides a fluent API for the steps of a story or rule.
type FlowBuilder struct {
	section string
	name    string

	steps             []map[string]any
	condition         []map[string]any
	conversationStart bool
	waitForUserInput  *bool
}

// Intent adds a user turn. entities maps entity names to values.
func (f *FlowBuilder) Intent(name string, entities ...map[string]any) *FlowBuilder {
	step := map[string]any{"intent": name}
	if len(entities) > 0 {
		list := make([]any, 0, len(entities))
		for _, e := range entities {
			list = append(list, e)
		}
		step["entities"] = list
	}
	f.steps = append(f.steps, step)
	return f
}

// OrIntents adds a user turn matching any of the intents.
func (f *FlowBuilder) OrIntents(names ...string) *FlowBuilder {
	alternatives := make([]any, 0, len(names))
	for _, name := range names {
		alternatives = append(alternatives, map[string]any{"intent": name})
	}
	f.steps = append(f.steps, map[string]any{"or": alternatives})
	return f
}

// Action adds an action the bot runs.
func (f *FlowBuilder) Action(name string) *FlowBuilder {
	f.steps = append(f.steps, map[string]any{"action": name})
	return f
}

// SlotWasSet records that the previous action set slot to value.
func (f *FlowBuilder) SlotWasSet(slot string, value any) *FlowBuilder {
	f.steps = append(f.steps, map[string]any{"slot_was_set": []any{map[string]any{slot: value}}})
	return f
}

// ActiveLoop records a loop activation. An empty name deactivates.
func (f *FlowBuilder) ActiveLoop(name string) *FlowBuilder {
	var loop any
	if name != "" {
		loop = name
	}
	f.steps = append(f.steps, map[string]any{"active_loop": loop})
	return f
}

// Checkpoint joins this flow to others using the same checkpoint name.
func (f *FlowBuilder) Checkpoint(name string) *FlowBuilder {
	f.steps = append(f.steps, map[string]any{"checkpoint": name})
	return f
}

// When adds a rule condition on a slot. A nil value requires the slot unset.
func (f *FlowBuilder) When(slot string, value any) *FlowBuilder {
	f.condition = append(f.condition, map[string]any{"slot_was_set": []any{map[string]any{slot: value}}})
	return f
}

// WhenLoop adds a rule condition on the active loop. An empty name requires
// no loop to be active.
func (f *FlowBuilder) WhenLoop(name string) *FlowBuilder {
	var loop any
	if name != "" {
		loop = name
	}
	f.condition = append(f.condition, map[string]any{"active_loop": loop})
	return f
}

// ConversationStart restricts a rule to the start of a conversation.
func (f *FlowBuilder) ConversationStart() *FlowBuilder {
	f.conversationStart = true
	return f
}

// WithoutWaiting lets a rule end without listening to the user.
func (f *FlowBuilder) WithoutWaiting() *FlowBuilder {
	wait := false
	f.waitForUserInput = &wait
	return f
}

func (f *FlowBuilder) document() map[string]any {
	key := "story"
	if f.section == sectionRules {
		key = "rule"
	}
	doc := map[string]any{key: f.name, "steps": f.steps}
	if len(f.condition) > 0 {
		doc["condition"] = f.condition
	}
	if f.conversationStart {
		doc["conversation_start"] = true
	}
	if f.waitForUserInput != nil {
		doc["wait_for_user_input"] = *f.waitForUserInput
	}
	return doc
}
