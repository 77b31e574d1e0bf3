package tui

import (
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders bot replies as markdown.
// Replies keep their original text when the terminal renderer cannot be built.
func NewRenderer(wordWrap int) func(string) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if wordWrap > 0 {
		opts = append(opts, glamour.WithWordWrap(wordWrap))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return func(s string) (string, error) { return s, nil }
	}
	return r.Render
}
