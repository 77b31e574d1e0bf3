package training_test

import (
	"testing"

	"github.com/aretw0/tendril/internal/training"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopologicalSort(t *testing.T) {
	t.Run("acyclic", func(t *testing.T) {
		ordered, removed := training.TopologicalSort(map[string][]string{
			"a": {"b", "c"},
			"b": {"c"},
			"c": {},
		})
		assert.Equal(t, []string{"a", "b", "c"}, ordered)
		assert.Empty(t, removed)
	})

	t.Run("cycle", func(t *testing.T) {
		ordered, removed := training.TopologicalSort(map[string][]string{
			"a": {"b"},
			"b": {"c"},
			"c": {"a"},
		})
		assert.Equal(t, []string{"c", "a", "b"}, ordered)
		assert.Equal(t, [][2]string{{"b", "c"}}, removed)
	})

	t.Run("self loop", func(t *testing.T) {
		ordered, removed := training.TopologicalSort(map[string][]string{"a": {"a"}})
		assert.Equal(t, []string{"a"}, ordered)
		assert.Equal(t, [][2]string{{"a", "a"}}, removed)
	})
}

func loopingSteps() []*training.StoryStep {
	return []*training.StoryStep{
		{
			ID:     "00001",
			Start:  []training.Checkpoint{{Name: training.StoryStart}},
			End:    []training.Checkpoint{{Name: "more"}},
			Events: []domain.Event{&domain.ActionExecuted{ActionName: "utter_greet"}},
		},
		{
			ID:     "00002",
			Start:  []training.Checkpoint{{Name: "more"}},
			End:    []training.Checkpoint{{Name: "more"}},
			Events: []domain.Event{&domain.ActionExecuted{ActionName: "utter_inform"}},
		},
	}
}

func TestGraph_Order(t *testing.T) {
	g := training.NewGraph(loopingSteps(), nil)

	var ids []string
	for _, s := range g.OrderedSteps() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"00001", "00002"}, ids)

	cycles := g.CyclicEdges()
	require.Len(t, cycles, 1)
	assert.Equal(t, "00002", cycles[0][0].ID)
	assert.Equal(t, "00002", cycles[0][1].ID)

	s, ok := g.Step("00002")
	require.True(t, ok)
	assert.Equal(t, "more", s.Start[0].Name)
	_, ok = g.Step("nope")
	assert.False(t, ok)
}

func TestGraph_WithCyclesRemoved(t *testing.T) {
	g := training.NewGraph(loopingSteps(), nil)
	acyclic := g.WithCyclesRemoved(training.NewSequentialIDs())

	assert.Empty(t, acyclic.CyclicEdges())
	assert.Len(t, g.CyclicEdges(), 1, "the original graph is left untouched")

	sink := "GENR_CYCL_SINK_00001"
	source := "GENR_CYCL_SRC_00001"
	assert.Equal(t, map[string]string{sink: source}, acyclic.StoryEndCheckpoints())

	s, ok := acyclic.Step("00002")
	require.True(t, ok)
	assert.Equal(t, []training.Checkpoint{{Name: "more"}, {Name: source}}, s.Start)
	assert.Equal(t, []training.Checkpoint{{Name: sink}}, s.End)

	orig, _ := g.Step("00002")
	assert.Equal(t, []training.Checkpoint{{Name: "more"}}, orig.End)
}

func TestGraph_WithCyclesRemoved_Connector(t *testing.T) {
	steps := []*training.StoryStep{
		{ID: "00001", Start: []training.Checkpoint{{Name: training.StoryStart}}, End: []training.Checkpoint{{Name: "x"}}},
		{ID: "00002", Start: []training.Checkpoint{{Name: "x"}}, End: []training.Checkpoint{{Name: "y"}}},
		{ID: "00003", Start: []training.Checkpoint{{Name: "y"}}, End: []training.Checkpoint{{Name: "x"}}},
		{ID: "00004", Start: []training.Checkpoint{{Name: "x"}}},
		{ID: "00005", Start: []training.Checkpoint{{Name: "y"}}},
	}
	g := training.NewGraph(steps, nil)
	cycles := g.CyclicEdges()
	require.Len(t, cycles, 1)
	assert.Equal(t, "00002", cycles[0][0].ID)
	assert.Equal(t, "00003", cycles[0][1].ID)

	acyclic := g.WithCyclesRemoved(training.NewSequentialIDs())
	assert.Empty(t, acyclic.CyclicEdges())
	require.Len(t, acyclic.Steps(), 5)

	closing, _ := acyclic.Step("00002")
	assert.Equal(t, []training.Checkpoint{{Name: "GENR_CYCL_SINK_00001"}, {Name: "GENR_CYCL_CONN_00001"}}, closing.End)

	target, _ := acyclic.Step("00003")
	assert.Equal(t, []training.Checkpoint{{Name: "GENR_CYCL_SRC_00001"}}, target.Start)

	other, _ := acyclic.Step("00005")
	assert.Equal(t, []training.Checkpoint{{Name: "GENR_CYCL_CONN_00001"}}, other.Start)
}

func TestGraph_Merge(t *testing.T) {
	a := training.NewGraph(loopingSteps()[:1], nil)
	b := training.NewGraph(loopingSteps()[1:], map[string]string{"s": "t"})

	merged := a.Merge(b)
	assert.Len(t, merged.Steps(), 2)
	assert.Len(t, merged.CyclicEdges(), 1)
	assert.Equal(t, map[string]string{"s": "t"}, merged.StoryEndCheckpoints())
	assert.Same(t, a, a.Merge(nil))
	assert.True(t, training.NewGraph(nil, nil).IsEmpty())
}
