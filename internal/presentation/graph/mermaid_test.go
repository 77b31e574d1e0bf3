package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/tendril/internal/presentation/graph"
	"github.com/aretw0/tendril/internal/training"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stories = `
stories:
  - story: greet
    steps:
      - intent: greet
      - action: utter_greet
      - checkpoint: "greeted"
  - story: leave
    steps:
      - checkpoint: "greeted"
        slot_was_set:
          - polite: true
      - intent: bye
      - action: utter_bye
  - story: choice
    steps:
      - intent: ask
      - or:
          - intent: affirm
          - intent: deny
      - action: utter_ok
rules:
  - rule: help
    steps:
      - intent: help
      - action: "utter_\"help\""
`

func read(t *testing.T) []*training.StoryStep {
	t.Helper()
	steps, err := training.NewReader(training.WithIDs(training.NewSequentialIDs())).Read([]byte(stories), "data.yml")
	require.NoError(t, err)
	return steps
}

func TestGenerateMermaid(t *testing.T) {
	got := graph.GenerateMermaid(read(t), nil)

	tests := []struct {
		name     string
		contains []string
	}{
		{"Header and terminals", []string{"graph TD\n", `STORY_START(("START"))`, `STORY_END(("END"))`}},
		{"Story step shape", []string{`["greet<br/>greet → utter_greet"]`}},
		{"Rule step shape", []string{`[["help<br/>help → utter_'help'"]]`}},
		{"Checkpoint edge with conditions", []string{`-- "greeted{'polite':true}" -->`}},
		{"Generated checkpoints are dotted", []string{" -.-> "}},
		{"Ends reach the story end", []string{" --> STORY_END"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("GenerateMermaid() = \n%v\nWant substring: %v", got, want)
				}
			}
		})
	}
	assert.NotContains(t, got, "classDef", "no overlay styles without an overlay")
}

func TestOverlay(t *testing.T) {
	steps := read(t)
	events := []domain.Event{
		&domain.ActionExecuted{ActionName: domain.ActionSessionStart},
		&domain.ActionExecuted{ActionName: domain.ActionListen},
		&domain.UserUttered{Intent: domain.Intent{Name: "greet"}},
		&domain.ActionExecuted{ActionName: "utter_greet"},
		&domain.ActionExecuted{ActionName: domain.ActionListen},
		&domain.UserUttered{Intent: domain.Intent{Name: "bye"}},
		&domain.ActionExecuted{ActionName: "utter_bye"},
		&domain.ActionExecuted{ActionName: domain.ActionListen},
	}

	overlay := graph.Overlay(steps, events)
	var names []string
	for _, id := range overlay.VisitedSteps {
		for _, s := range steps {
			if s.ID == id {
				names = append(names, s.BlockName)
			}
		}
	}
	assert.ElementsMatch(t, []string{"greet", "leave"}, names)
	require.NotEmpty(t, overlay.CurrentStep)

	out := graph.GenerateMermaid(steps, overlay)
	assert.Contains(t, out, "classDef current")
	assert.Contains(t, out, "class step_"+overlay.CurrentStep+" current;")
}
