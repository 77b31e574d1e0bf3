package nlu_test

import (
	"context"
	"testing"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/nlu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegex_Parse(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		intent     string
		confidence float64
		entities   []domain.Entity
	}{
		{name: "Intent Only", text: "/greet", intent: "greet", confidence: 1},
		{name: "With Confidence", text: "/affirm@0.4", intent: "affirm", confidence: 0.4},
		{
			name: "With Entities", text: `/inform{"city": "Lisbon"}`, intent: "inform", confidence: 1,
			entities: []domain.Entity{{Entity: "city", Value: "Lisbon", Start: 7, End: 25}},
		},
		{
			name: "List Values", text: `/inform{"topping": ["ham", "olives"]}`, intent: "inform", confidence: 1,
			entities: []domain.Entity{
				{Entity: "topping", Value: "ham", Start: 7, End: 37},
				{Entity: "topping", Value: "olives", Start: 7, End: 37},
			},
		},
		{name: "Confidence Capped", text: "/deny@3", intent: "deny", confidence: 1},
		{name: "Broken Entities", text: `/inform{"city": }`, intent: "inform", confidence: 1},
		{name: "Free Text", text: "hello there"},
	}

	r := nlu.NewRegex()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Parse(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.text, got.Text)
			assert.Equal(t, tt.intent, got.Intent.Name)
			assert.InDelta(t, tt.confidence, got.Intent.Confidence, 1e-9)
			assert.Equal(t, tt.entities, got.Entities)
		})
	}
}

func TestIsStructured(t *testing.T) {
	assert.True(t, nlu.IsStructured("/greet"))
	assert.True(t, nlu.IsStructured("  /greet"))
	assert.False(t, nlu.IsStructured("greet"))
}
