package tui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "v1.2.3")
	assert.Contains(t, buf.String(), "v1.2.3")
	assert.GreaterOrEqual(t, strings.Count(buf.String(), "\n"), len(bannerLines)+2)
}

func TestNewRenderer(t *testing.T) {
	out, err := NewRenderer(40)("**Hello** there")
	require.NoError(t, err)
	assert.Contains(t, out, "Hello")
}
