package validator

import (
	"strings"
	"testing"

	"github.com/aretw0/tendril/internal/training"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const domainYAML = `
intents:
  - greet
  - bye
  - unused
entities:
  - city
slots:
  city:
    type: text
responses:
  utter_greet:
    - text: "Hi"
  utter_bye:
    - text: "Bye"
actions:
  - action_idle
`

func load(t *testing.T, doc string) (*domain.Domain, []*training.StoryStep) {
	t.Helper()
	cfg, err := domain.ParseYAML([]byte(domainYAML))
	require.NoError(t, err)
	d, err := domain.New(cfg)
	require.NoError(t, err)
	steps, err := training.NewReader(training.WithIDs(training.NewSequentialIDs())).Read([]byte(doc), "data.yml")
	require.NoError(t, err)
	return d, steps
}

func TestValidate_ValidProject(t *testing.T) {
	d, steps := load(t, `
stories:
  - story: greet
    steps:
      - intent: greet
        entities:
          - city: Porto
      - action: utter_greet
      - slot_was_set:
          - city: Porto
      - checkpoint: greeted
  - story: leave
    steps:
      - checkpoint: greeted
      - intent: bye
      - action: utter_bye
rules:
  - rule: bye anytime
    steps:
      - intent: bye
      - action: utter_bye
`)
	report := Validate(d, steps)
	assert.NoError(t, report.Err())
	assert.ElementsMatch(t, []string{
		`intent "unused" is not used in any story or rule`,
		`action "action_idle" is not used in any story or rule`,
	}, report.Warnings)
}

func TestValidate_BrokenReferences(t *testing.T) {
	d, steps := load(t, `
stories:
  - story: broken
    steps:
      - intent: shout
        entities:
          - color: red
      - action: action_missing
      - slot_was_set:
          - mood: happy
      - active_loop: not_a_form
  - story: orphan
    steps:
      - checkpoint: ghost
      - intent: greet
      - action: utter_greet
`)
	report := Validate(d, steps)
	errs := schema.ValidationErrors(report.Err())
	require.Len(t, errs, 6)

	var reasons []string
	for _, err := range errs {
		var verr *schema.ValidationError
		require.ErrorAs(t, err, &verr)
		reasons = append(reasons, verr.Reason)
	}
	assert.Equal(t, []string{
		`intent "shout" is not defined in the domain`,
		`entity "color" is not defined in the domain`,
		`action "action_missing" is not defined in the domain`,
		`slot "mood" is not defined in the domain`,
		`loop "not_a_form" is not a form of the domain`,
		`checkpoint "ghost" is never reached by another step`,
	}, reasons)
	assert.Contains(t, report.Warnings, "data.yml: orphan: step is unreachable from the start of a story")
	assert.Contains(t, Format(report), "error: data.yml: broken: ")
}

func TestValidate_DanglingCheckpoint(t *testing.T) {
	d, steps := load(t, `
stories:
  - story: greet
    steps:
      - intent: greet
      - action: utter_greet
      - checkpoint: nowhere
`)
	report := Validate(d, steps)
	assert.NoError(t, report.Err())
	assert.Contains(t, report.Warnings, `checkpoint "nowhere" is never continued`)
}

func TestValidate_SlotValueMismatch(t *testing.T) {
	d, steps := load(t, `
stories:
  - story: numeric city
    steps:
      - intent: greet
      - action: utter_greet
      - slot_was_set:
          - city: 42
`)
	report := Validate(d, steps)
	assert.NoError(t, report.Err())

	var found bool
	for _, w := range report.Warnings {
		if strings.HasPrefix(w, "data.yml: numeric city: ") && strings.Contains(w, "expected text") {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", report.Warnings)
}
