package main

import (
	"bytes"
	"testing"

	"github.com/aretw0/tendril/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const domainYAML = `
intents:
  - greet
responses:
  utter_greet:
    - text: "Hello!"
`

const rulesYAML = `
rules:
  - rule: greet back
    steps:
      - intent: greet
      - action: utter_greet
`

func writeProject(t *testing.T, domain string) string {
	t.Helper()
	return testutils.WriteProject(t, domain, map[string]string{"rules": rulesYAML})
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tendril version dev")
}

func TestValidateCommand(t *testing.T) {
	out, err := run(t, "validate", "--dir", writeProject(t, domainYAML))
	require.NoError(t, err)
	assert.Contains(t, out, "Project is valid!")
}

func TestGraphCommand(t *testing.T) {
	out, err := run(t, "graph", "--dir", writeProject(t, domainYAML))
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "greet back")
}

func TestTrackerCommands(t *testing.T) {
	dir := writeProject(t, domainYAML)

	out, err := run(t, "tracker", "ls", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No conversations found.")

	_, err = run(t, "tracker", "rm", "--dir", dir)
	assert.Error(t, err, "rm needs ids or --all")
}
