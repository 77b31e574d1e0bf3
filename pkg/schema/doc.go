// Package schema validates slot values against the types a domain declares.
//
// A Schema maps slot names to Types. Domains build one with
// domain.Domain.SlotSchema; the validator and the processor use it to check
// SlotSet values coming from training data and custom actions:
//
//	s := schema.Schema{
//	    "city":    schema.Optional(schema.String()),
//	    "size":    schema.Optional(schema.OneOf("small", "large")),
//	    "toppings": schema.Optional(schema.Slice(schema.Any())),
//	}
//
//	if err := schema.Validate(s, map[string]any{"size": "medium"}); err != nil {
//	    for _, e := range schema.ValidationErrors(err) { ... }
//	}
//
// Failures are collected into an AggregateError so a single pass reports every
// problem; the domain loader uses the same type for configuration errors.
package schema
