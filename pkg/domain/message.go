package domain

// Intent is the classified intention of a user message.
type Intent struct {
	Name       string  `json:"name" mapstructure:"name"`
	Confidence float64 `json:"confidence" mapstructure:"confidence"`
}

// Entity is a piece of structured information extracted from a user message.
type Entity struct {
	Entity    string `json:"entity" mapstructure:"entity"`
	Value     any    `json:"value" mapstructure:"value"`
	Start     int    `json:"start,omitempty" mapstructure:"start"`
	End       int    `json:"end,omitempty" mapstructure:"end"`
	Role      string `json:"role,omitempty" mapstructure:"role"`
	Group     string `json:"group,omitempty" mapstructure:"group"`
	Extractor string `json:"extractor,omitempty" mapstructure:"extractor"`
}

// ParseResult is what an interpreter produces for a piece of text.
type ParseResult struct {
	Text     string   `json:"text"`
	Intent   Intent   `json:"intent"`
	Entities []Entity `json:"entities"`
}

// UserMessage is an incoming message before it is folded into a tracker.
type UserMessage struct {
	Text         string         `json:"text"`
	SenderID     string         `json:"sender"`
	InputChannel string         `json:"input_channel,omitempty"`
	MessageID    string         `json:"message_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	// ParseData skips interpretation when already known, e.g. on replay.
	ParseData *ParseResult `json:"parse_data,omitempty"`
}
