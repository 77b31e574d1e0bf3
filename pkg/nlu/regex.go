// Package nlu parses the structured "/intent{json}@confidence" message form.
//
// It is the only interpretation the engine performs itself. Free text goes
// to whatever ports.Interpreter the agent was assembled with.
package nlu

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
)

// IntentPrefix marks a message that names its intent directly.
const IntentPrefix = "/"

var intentPattern = regexp.MustCompile(`^/([^{@]+)(@[0-9.]+)?(\{.+\})?(.*)$`)

// Regex implements ports.Interpreter for "/greet", "/inform{\"city\": \"Lisbon\"}"
// and "/affirm@0.4". Text without the prefix yields an empty intent.
type Regex struct {
	logger *slog.Logger
}

// Option configures a Regex interpreter.
type Option func(*Regex)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Regex) {
		r.logger = logger
	}
}

// NewRegex returns a Regex interpreter.
func NewRegex(opts ...Option) *Regex {
	r := &Regex{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsStructured reports whether text uses the "/intent" form.
func IsStructured(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), IntentPrefix)
}

// Parse never fails; malformed parts are logged and dropped.
func (r *Regex) Parse(_ context.Context, text string) (domain.ParseResult, error) {
	result := domain.ParseResult{Text: text}
	m := intentPattern.FindStringSubmatchIndex(strings.TrimSpace(text))
	if m == nil {
		return result, nil
	}
	trimmed := strings.TrimSpace(text)
	group := func(i int) (string, int, int) {
		if m[2*i] < 0 {
			return "", -1, -1
		}
		return trimmed[m[2*i]:m[2*i+1]], m[2*i], m[2*i+1]
	}

	name, _, _ := group(1)
	result.Intent = domain.Intent{Name: strings.TrimSpace(name), Confidence: r.confidence(group(2))}

	raw, start, end := group(3)
	if raw != "" {
		result.Entities = r.entities(raw, start, end)
	}
	if rest, _, _ := group(4); strings.TrimSpace(rest) != "" {
		r.logger.Warn("ignored trailing text of structured message", "text", text, "rest", rest)
	}
	return result, nil
}

func (r *Regex) confidence(raw string, _, _ int) float64 {
	if raw == "" {
		return 1
	}
	c, err := strconv.ParseFloat(strings.TrimPrefix(raw, "@"), 64)
	if err != nil {
		r.logger.Warn("invalid intent confidence", "confidence", raw, "err", err)
		return 1
	}
	if c > 1 {
		r.logger.Warn("intent confidence above 1", "confidence", c)
		return 1
	}
	return c
}

// entities accepts {"name": value} and {"name": [value, ...]}.
func (r *Regex) entities(raw string, start, end int) []domain.Entity {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		r.logger.Warn("invalid entities in structured message", "entities", raw, "err", err)
		return nil
	}
	names := make([]string, 0, len(parsed))
	for k := range parsed {
		names = append(names, k)
	}
	sort.Strings(names)

	var out []domain.Entity
	for _, name := range names {
		values, ok := parsed[name].([]any)
		if !ok {
			values = []any{parsed[name]}
		}
		for _, v := range values {
			out = append(out, domain.Entity{Entity: name, Value: v, Start: start, End: end})
		}
	}
	return out
}
