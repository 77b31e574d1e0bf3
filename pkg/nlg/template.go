// Package nlg renders the responses declared in a domain into bot messages.
package nlg

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_\-]+)\}`)

// Template implements ports.Generator over the responses of a domain.
//
// A variant is chosen among those declared for the output channel, falling
// back to variants without a channel. "{slot}" placeholders are filled with
// the tracker's slot values; unset slots keep their placeholder.
type Template struct {
	domain *domain.Domain
	pick   func(n int) int
}

// Option configures a Template generator.
type Option func(*Template)

// WithPicker replaces the random variant choice, e.g. with func(int) int { return 0 }.
func WithPicker(pick func(n int) int) Option {
	return func(t *Template) {
		t.pick = pick
	}
}

// NewTemplate returns a generator for the responses of d.
func NewTemplate(d *domain.Domain, opts ...Option) *Template {
	t := &Template{domain: d, pick: rand.IntN}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Generate returns nil when the domain has no usable variant of template.
func (g *Template) Generate(_ context.Context, template string, tracker *domain.Tracker, channel string) (*ports.BotMessage, error) {
	variants, ok := g.domain.Responses(template)
	if !ok {
		return nil, nil
	}
	candidates := forChannel(variants, channel)
	if len(candidates) == 0 {
		return nil, nil
	}
	r := candidates[g.pick(len(candidates))]

	var slots map[string]any
	if tracker != nil {
		slots = tracker.Slots()
	}
	msg := &ports.BotMessage{
		Text:   Fill(r.Text, slots),
		Image:  Fill(r.Image, slots),
		Custom: r.Custom,
	}
	for _, b := range r.Buttons {
		msg.Buttons = append(msg.Buttons, domain.Button{Title: Fill(b.Title, slots), Payload: Fill(b.Payload, slots)})
	}
	return msg, nil
}

func forChannel(variants []domain.Response, channel string) []domain.Response {
	var specific, generic []domain.Response
	for _, v := range variants {
		switch {
		case v.Channel == "":
			generic = append(generic, v)
		case channel != "" && v.Channel == channel:
			specific = append(specific, v)
		}
	}
	if len(specific) > 0 {
		return specific
	}
	return generic
}

// Fill replaces "{name}" with values[name] when it is set.
func Fill(text string, values map[string]any) string {
	if text == "" || len(values) == 0 {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		v, ok := values[m[1:len(m)-1]]
		if !ok || v == nil {
			return m
		}
		return fmt.Sprint(v)
	})
}
