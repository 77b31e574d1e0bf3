package domain_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const domainYAML = `
version: "2.0"
intents:
  - greet
  - inform:
      use_entities: [cuisine]
  - chitchat:
      use_entities: false
  - help:
      triggers: utter_help
entities:
  - cuisine
  - people
slots:
  cuisine:
    type: text
  people:
    type: float
    min_value: 1
    max_value: 10
    auto_fill: false
  outdoor:
    type: categorical
    values: [yes, no]
responses:
  utter_greet:
    - text: "Hey {name}!"
    - text: "Hi there"
      channel: web
  utter_help:
    - text: "I can book tables."
      buttons:
        - title: Book
          payload: /request_table
actions:
  - action_check_availability
forms:
  restaurant_form:
    required_slots:
      people: []
      cuisine: []
      outdoor: []
session_config:
  session_expiration_time: 30
`

func TestParseYAML(t *testing.T) {
	cfg, err := domain.ParseYAML([]byte(domainYAML))
	require.NoError(t, err)

	require.Len(t, cfg.Intents, 4)
	assert.Equal(t, []string{"cuisine"}, cfg.Intents[1].UseEntities)
	assert.True(t, cfg.Intents[2].IgnoreAllEntities)
	assert.Equal(t, "utter_help", cfg.Intents[3].Triggers)

	require.Len(t, cfg.Slots, 3)
	people := cfg.Slots[2]
	assert.Equal(t, "people", people.Name)
	assert.Equal(t, 10.0, people.MaxValue)
	assert.False(t, people.AutoFill)
	assert.True(t, cfg.Slots[0].AutoFill)

	require.Len(t, cfg.Forms, 1)
	assert.Equal(t, []string{"people", "cuisine", "outdoor"}, cfg.Forms[0].RequiredSlots)

	require.NotNil(t, cfg.Session)
	assert.Equal(t, 30.0, cfg.Session.ExpirationMinutes)
	assert.True(t, cfg.Session.CarryOverSlots)

	require.Len(t, cfg.Responses["utter_greet"], 2)
	assert.Equal(t, "web", cfg.Responses["utter_greet"][1].Channel)
	assert.Equal(t, "/request_table", cfg.Responses["utter_help"][0].Buttons[0].Payload)
}

func TestConfigFromMap_SortsMappedRequiredSlots(t *testing.T) {
	cfg, err := domain.ConfigFromMap(map[string]any{
		"forms": map[string]any{
			"f": map[string]any{"required_slots": map[string]any{"b": nil, "a": nil}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cfg.Forms[0].RequiredSlots)
}

func TestParseYAML_Invalid(t *testing.T) {
	_, err := domain.ParseYAML([]byte("intents: {greet: 1}"))
	assert.Error(t, err)

	_, err = domain.ParseYAML([]byte("intents: [a: 1, b: 2]\n"))
	assert.NoError(t, err)

	_, err = domain.ParseYAML([]byte("slots: [a]"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domain.yml")
	require.NoError(t, os.WriteFile(path, []byte(domainYAML), 0o600))

	d, err := domain.LoadFile(path)
	require.NoError(t, err)

	assert.True(t, d.HasAction("action_check_availability"))
	assert.True(t, d.HasAction("restaurant_form"))
	assert.True(t, d.HasAction("utter_help"))
	assert.Equal(t, 30.0, d.Session().ExpirationMinutes)

	_, ok := d.Slot(domain.SlotRequested)
	assert.True(t, ok)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := domain.LoadFile(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
