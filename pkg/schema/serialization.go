package schema

import (
	"encoding/json"
	"fmt"
)

// Names maps every field to the name of its type, the form slot types take
// on the wire. A field with a nil type is an error.
func (s Schema) Names() (map[string]string, error) {
	names := make(map[string]string, len(s))
	for field, t := range s {
		if t == nil {
			return nil, fmt.Errorf("schema: field %s has no type", field)
		}
		names[field] = t.Name()
	}
	return names, nil
}

func (s Schema) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	names, err := s.Names()
	if err != nil {
		return nil, err
	}
	return json.Marshal(names)
}

// UnmarshalJSON reads the output of MarshalJSON back through ParseTypeMap,
// so only the built-in types survive.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var names map[string]string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if names == nil {
		*s = nil
		return nil
	}
	parsed, err := ParseTypeMap(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
