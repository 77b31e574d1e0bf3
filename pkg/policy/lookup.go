package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/aretw0/tendril/pkg/domain"
)

// Lookup maps canonical state-sequence keys to action names or markers.
// Keys keep their insertion order, which breaks ties between equally long
// matches and is preserved by the JSON encoding.
type Lookup struct {
	keys   []string
	values map[string]string
	states map[string][]domain.TurnState
}

// NewLookup returns an empty lookup.
func NewLookup() *Lookup {
	return &Lookup{
		values: make(map[string]string),
		states: make(map[string][]domain.TurnState),
	}
}

// Key serializes states with sorted map keys, so structurally equal
// histories produce identical keys.
func Key(states []domain.TurnState) (string, error) {
	if len(states) == 0 {
		return "", nil
	}
	data, err := json.Marshal(states)
	if err != nil {
		return "", fmt.Errorf("encode states: %w", err)
	}
	return string(data), nil
}

// canonical round-trips states through their key encoding so live states
// compare equal to decoded rule states.
func canonical(states []domain.TurnState) ([]domain.TurnState, error) {
	key, err := Key(states)
	if err != nil || key == "" {
		return nil, err
	}
	var out []domain.TurnState
	if err := json.Unmarshal([]byte(key), &out); err != nil {
		return nil, fmt.Errorf("decode states: %w", err)
	}
	return out, nil
}

// Set stores value under key, keeping the original position of existing keys.
func (l *Lookup) Set(key, value string) error {
	if _, ok := l.values[key]; !ok {
		var states []domain.TurnState
		if err := json.Unmarshal([]byte(key), &states); err != nil {
			return fmt.Errorf("invalid lookup key %q: %w", key, err)
		}
		l.keys = append(l.keys, key)
		l.states[key] = states
	}
	l.values[key] = value
	return nil
}

// Get returns the value stored under key.
func (l *Lookup) Get(key string) (string, bool) {
	v, ok := l.values[key]
	return v, ok
}

// Delete removes key.
func (l *Lookup) Delete(key string) {
	if _, ok := l.values[key]; !ok {
		return
	}
	delete(l.values, key)
	delete(l.states, key)
	for i, k := range l.keys {
		if k == key {
			l.keys = append(l.keys[:i], l.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of keys.
func (l *Lookup) Len() int { return len(l.keys) }

// Keys returns the keys in insertion order.
func (l *Lookup) Keys() []string {
	return append([]string(nil), l.keys...)
}

// Matching returns, in insertion order, the keys whose state sequence
// matches the tail of the canonical live history.
func (l *Lookup) Matching(live []domain.TurnState) []string {
	var out []string
	for _, key := range l.keys {
		if applicable(l.states[key], live) {
			out = append(out, key)
		}
	}
	return out
}

// Longest returns the matching key with the longest encoding, the first one
// on ties, and whether any key matched.
func (l *Lookup) Longest(live []domain.TurnState) (string, bool) {
	best := ""
	found := false
	for _, key := range l.Matching(live) {
		if !found || len(key) > len(best) {
			best, found = key, true
		}
	}
	return best, found
}

// applicable compares rule and live turns backwards. Rule turns beyond the
// live history are unconstrained.
func applicable(rule, live []domain.TurnState) bool {
	for i := 0; i < len(live); i++ {
		if i >= len(rule) {
			return true
		}
		r := rule[len(rule)-1-i]
		s := live[len(live)-1-i]
		switch {
		case len(r) == 0 && len(s) == 0:
		case len(r) > 0 && len(s) > 0 && stateMatches(r, s):
		default:
			return false
		}
	}
	return true
}

// stateMatches reports whether every field set in the rule turn has the same
// value in the live turn. The "must be unset" sentinel only matches absence.
func stateMatches(rule, live domain.TurnState) bool {
	for name, sub := range rule {
		liveSub := live[name]
		for key, value := range sub {
			got := liveSub[key]
			if value == domain.ShouldNotBeSet {
				if truthy(got) {
					return false
				}
				continue
			}
			if truthy(value) && !reflect.DeepEqual(got, value) {
				return false
			}
		}
	}
	return true
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case float64:
		return x != 0
	case bool:
		return x
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

// MarshalJSON encodes the lookup as an object with keys in insertion order.
func (l *Lookup) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range l.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(l.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping the order of its keys.
func (l *Lookup) UnmarshalJSON(data []byte) error {
	*l = *NewLookup()
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("lookup: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("lookup value for %q: %w", key, err)
		}
		if err := l.Set(key, value); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}
