package policy_test

import (
	"encoding/json"
	"testing"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_IsStable(t *testing.T) {
	a, err := policy.Key([]domain.TurnState{{
		domain.SubStateUser:       {domain.KeyIntent: "greet"},
		domain.SubStatePrevAction: {domain.KeyActionName: domain.ActionListen},
	}})
	require.NoError(t, err)
	b, err := policy.Key([]domain.TurnState{{
		domain.SubStatePrevAction: {domain.KeyActionName: domain.ActionListen},
		domain.SubStateUser:       {domain.KeyIntent: "greet"},
	}})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, `[{"prev_action":{"action_name":"action_listen"},"user":{"intent":"greet"}}]`, a)

	empty, err := policy.Key(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLookup_LongestMatchWins(t *testing.T) {
	l := policy.NewLookup()
	require.NoError(t, l.Set(`[{"user":{"intent":"greet"}}]`, "utter_greet"))
	require.NoError(t, l.Set(`[{"prev_action":{"action_name":"utter_help"}},{"user":{"intent":"greet"}}]`, "utter_welcome_back"))

	live := []domain.TurnState{
		{"prev_action": {"action_name": "utter_help"}},
		{"prev_action": {"action_name": "action_listen"}, "user": {"intent": "greet"}},
	}
	assert.Len(t, l.Matching(live), 2)

	best, ok := l.Longest(live)
	require.True(t, ok)
	v, _ := l.Get(best)
	assert.Equal(t, "utter_welcome_back", v)
}

func TestLookup_TiesGoToFirstInserted(t *testing.T) {
	l := policy.NewLookup()
	require.NoError(t, l.Set(`[{"user":{"intent":"aaaa"}}]`, "first"))
	require.NoError(t, l.Set(`[{"user":{"entities":"xx"}}]`, "second"))

	live := []domain.TurnState{{"user": {"intent": "aaaa", "entities": "xx"}}}
	best, ok := l.Longest(live)
	require.True(t, ok)
	v, _ := l.Get(best)
	assert.Equal(t, "first", v)
}

func TestLookup_ShouldNotBeSetMatchesOnlyAbsence(t *testing.T) {
	l := policy.NewLookup()
	require.NoError(t, l.Set(`[{"slots":{"city":"should_not_be_set"}}]`, "utter_ask_city"))

	withCity := []domain.TurnState{{"slots": {"city": []any{1.0}}, "prev_action": {"action_name": "x"}}}
	withoutCity := []domain.TurnState{{"prev_action": {"action_name": "x"}}}

	assert.Empty(t, l.Matching(withCity))
	assert.Len(t, l.Matching(withoutCity), 1)
}

func TestLookup_EmptyTurns(t *testing.T) {
	l := policy.NewLookup()
	require.NoError(t, l.Set(`[{},{"user":{"intent":"greet"}}]`, "utter_greet"))

	assert.Len(t, l.Matching([]domain.TurnState{{}, {"user": {"intent": "greet"}}}), 1)
	assert.Empty(t, l.Matching([]domain.TurnState{{"prev_action": {"action_name": "x"}}, {"user": {"intent": "greet"}}}))
	assert.Len(t, l.Matching([]domain.TurnState{{"user": {"intent": "greet"}}}), 1, "rule longer than history")
}

func TestLookup_JSONKeepsOrder(t *testing.T) {
	l := policy.NewLookup()
	require.NoError(t, l.Set(`[{"user":{"intent":"b"}}]`, "x"))
	require.NoError(t, l.Set(`[{"user":{"intent":"a"}}]`, "y"))
	require.NoError(t, l.Set(`[{"user":{"intent":"b"}}]`, "z"))

	data, err := json.Marshal(l)
	require.NoError(t, err)
	assert.Equal(t, `{"[{\"user\":{\"intent\":\"b\"}}]":"z","[{\"user\":{\"intent\":\"a\"}}]":"y"}`, string(data))

	back := policy.NewLookup()
	require.NoError(t, json.Unmarshal(data, back))
	assert.Equal(t, l.Keys(), back.Keys())

	l.Delete(`[{"user":{"intent":"b"}}]`)
	assert.Equal(t, 1, l.Len())
}

func TestLookup_RejectsInvalidKey(t *testing.T) {
	assert.Error(t, policy.NewLookup().Set("not json", "x"))
}
