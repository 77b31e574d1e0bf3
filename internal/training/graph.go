package training

import (
	"sort"
	"strings"
)

// Graph is an arena of story steps connected through checkpoints: a step
// leads to every step that starts with one of its end checkpoints.
//
// A Graph is immutable. WithCyclesRemoved returns a new graph.
type Graph struct {
	steps    []*StoryStep
	index    map[string]int
	ordered  []string
	cycles   [][2]string
	storyEnd map[string]string
}

// NewGraph indexes and orders steps. storyEnd maps generated sink
// checkpoints to the source checkpoint that continues them.
func NewGraph(steps []*StoryStep, storyEnd map[string]string) *Graph {
	g := &Graph{
		steps:    steps,
		index:    make(map[string]int, len(steps)),
		storyEnd: make(map[string]string, len(storyEnd)),
	}
	for i, s := range steps {
		g.index[s.ID] = i
	}
	for k, v := range storyEnd {
		g.storyEnd[k] = v
	}
	g.ordered, g.cycles = TopologicalSort(edges(steps))
	return g
}

func edges(steps []*StoryStep) map[string][]string {
	byStart := make(map[string][]string)
	for _, s := range steps {
		for _, cp := range s.Start {
			byStart[cp.Name] = append(byStart[cp.Name], s.ID)
		}
	}
	graph := make(map[string][]string, len(steps))
	for _, s := range steps {
		seen := make(map[string]bool)
		next := []string{}
		for _, cp := range s.End {
			for _, id := range byStart[cp.Name] {
				if !seen[id] {
					seen[id] = true
					next = append(next, id)
				}
			}
		}
		graph[s.ID] = next
	}
	return graph
}

// Steps returns the steps in insertion order.
func (g *Graph) Steps() []*StoryStep { return g.steps }

// Step looks a step up by id.
func (g *Graph) Step(id string) (*StoryStep, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.steps[i], true
}

// OrderedSteps returns the steps in topological order.
func (g *Graph) OrderedSteps() []*StoryStep {
	out := make([]*StoryStep, 0, len(g.ordered))
	for _, id := range g.ordered {
		out = append(out, g.steps[g.index[id]])
	}
	return out
}

// CyclicEdges returns the (from, to) step pairs that close a cycle.
func (g *Graph) CyclicEdges() [][2]*StoryStep {
	out := make([][2]*StoryStep, 0, len(g.cycles))
	for _, e := range g.cycles {
		out = append(out, [2]*StoryStep{g.steps[g.index[e[0]]], g.steps[g.index[e[1]]]})
	}
	return out
}

// StoryEndCheckpoints returns the generated sink to source mapping.
func (g *Graph) StoryEndCheckpoints() map[string]string {
	out := make(map[string]string, len(g.storyEnd))
	for k, v := range g.storyEnd {
		out[k] = v
	}
	return out
}

// IsEmpty reports whether the graph has no steps.
func (g *Graph) IsEmpty() bool { return len(g.steps) == 0 }

// Merge returns a graph with the steps of both graphs.
func (g *Graph) Merge(other *Graph) *Graph {
	if other == nil {
		return g
	}
	steps := append(append([]*StoryStep(nil), g.steps...), other.steps...)
	storyEnd := g.StoryEndCheckpoints()
	for k, v := range other.storyEnd {
		storyEnd[k] = v
	}
	return NewGraph(steps, storyEnd)
}

// TopologicalSort orders the nodes of a directed graph with a depth-first
// search. Edges that reach a node still on the stack close a cycle; they are
// skipped and returned, sorted, so the remaining graph is acyclic.
func TopologicalSort(graph map[string][]string) ([]string, [][2]string) {
	const (
		gray = iota + 1
		black
	)

	unprocessed := make([]string, 0, len(graph))
	for node := range graph {
		unprocessed = append(unprocessed, node)
	}
	sort.Strings(unprocessed)
	pending := make(map[string]bool, len(unprocessed))
	for _, n := range unprocessed {
		pending[n] = true
	}

	color := make(map[string]int, len(graph))
	var (
		reversed []string
		removed  [][2]string
		dfs      func(node string)
	)
	dfs = func(node string) {
		color[node] = gray
		next := append([]string(nil), graph[node]...)
		sort.Strings(next)
		for _, k := range next {
			switch color[k] {
			case gray:
				removed = append(removed, [2]string{node, k})
				continue
			case black:
				continue
			}
			delete(pending, k)
			dfs(k)
		}
		reversed = append(reversed, node)
		color[node] = black
	}

	for len(unprocessed) > 0 {
		node := unprocessed[len(unprocessed)-1]
		unprocessed = unprocessed[:len(unprocessed)-1]
		if !pending[node] {
			continue
		}
		delete(pending, node)
		dfs(node)
	}

	ordered := make([]string, len(reversed))
	for i, n := range reversed {
		ordered[len(reversed)-1-i] = n
	}
	sort.Slice(removed, func(i, j int) bool {
		if removed[i][0] != removed[j][0] {
			return removed[i][0] < removed[j][0]
		}
		return removed[i][1] < removed[j][1]
	})
	return ordered, removed
}

// WithCyclesRemoved returns a new acyclic graph. Each cyclic edge is
// replaced by a generated sink checkpoint on its origin, mapped to a
// generated source checkpoint on its target, so a generator can still walk
// the cycle a bounded number of times.
func (g *Graph) WithCyclesRemoved(ids IDGenerator) *Graph {
	storyEnd := g.StoryEndCheckpoints()
	order := make([]string, len(g.steps))
	steps := make(map[string]*StoryStep, len(g.steps))
	for i, s := range g.steps {
		order[i] = s.ID
		steps[s.ID] = s
	}

	allOverlapping := make(map[string]bool)
	for _, edge := range g.cycles {
		from, to := edge[0], edge[1]
		cid := shortID(ids.NextID())
		prefix := GeneratedPrefix + CyclePrefix
		sink := prefix + "SINK_" + cid
		connector := prefix + "CONN_" + cid
		source := prefix + "SRC_" + cid
		storyEnd[sink] = source

		overlapping := overlappingNames(steps[from].End, steps[to].Start)
		for name := range overlapping {
			allOverlapping[name] = true
		}

		start := steps[from].copyWith()
		kept := start.End[:0]
		for _, cp := range start.End {
			if !overlapping[cp.Name] {
				kept = append(kept, cp)
			}
		}
		start.End = append(kept, Checkpoint{Name: sink})
		steps[from] = start

		needsConnector := false
		for _, id := range order {
			step := steps[id]
			var additional []Checkpoint
			for _, cp := range step.Start {
				if !overlapping[cp.Name] {
					continue
				}
				name := connector
				if id == to {
					name = source
				} else {
					needsConnector = true
				}
				if !hasCheckpoint(step.Start, name, cp.Conditions) && !hasCheckpoint(additional, name, cp.Conditions) {
					additional = append(additional, Checkpoint{Name: name, Conditions: cp.Conditions})
				}
			}
			if len(additional) > 0 {
				updated := step.copyWith()
				updated.Start = append(updated.Start, additional...)
				steps[id] = updated
			}
		}

		if needsConnector {
			updated := steps[from].copyWith()
			updated.End = append(updated.End, Checkpoint{Name: connector})
			steps[from] = updated
		}
	}

	removeUnusedGenerated(order, steps, allOverlapping, storyEnd)

	out := make([]*StoryStep, 0, len(steps))
	for _, id := range order {
		if s, ok := steps[id]; ok {
			out = append(out, s)
		}
	}
	return NewGraph(out, storyEnd)
}

func overlappingNames(ends, starts []Checkpoint) map[string]bool {
	names := make(map[string]bool)
	for _, e := range ends {
		for _, s := range starts {
			if e.Name == s.Name {
				names[e.Name] = true
			}
		}
	}
	return names
}

// removeUnusedGenerated drops checkpoints that nothing connects to anymore,
// and the steps that only hung off such checkpoints.
func removeUnusedGenerated(order []string, steps map[string]*StoryStep, overlapping map[string]bool, storyEnd map[string]string) {
	unused := unusedCheckpoints(steps, storyEnd)

	for _, id := range order {
		step, ok := steps[id]
		if !ok {
			continue
		}
		updated := step.copyWith()
		updated.Start = filterCheckpoints(updated.Start, func(name string) bool {
			return unused[name] && overlapping[name]
		})
		updated.End = filterCheckpoints(updated.End, func(name string) bool {
			return unused[name] && strings.HasPrefix(name, GeneratedPrefix)
		})
		if (len(step.Start) > 0 && len(updated.Start) == 0) || (len(step.End) > 0 && len(updated.End) == 0) {
			delete(steps, id)
			continue
		}
		steps[id] = updated
	}
}

func unusedCheckpoints(steps map[string]*StoryStep, storyEnd map[string]string) map[string]bool {
	started := map[string]bool{StoryStart: true, "": true}
	ended := map[string]bool{StoryStart: true, "": true}
	for _, s := range steps {
		for _, cp := range s.Start {
			started[cp.Name] = true
		}
		for _, cp := range s.End {
			if mapped, ok := storyEnd[cp.Name]; ok {
				ended[mapped] = true
			} else {
				ended[cp.Name] = true
			}
		}
	}
	unused := make(map[string]bool)
	for name := range started {
		if !ended[name] {
			unused[name] = true
		}
	}
	for name := range ended {
		if !started[name] {
			unused[name] = true
		}
	}
	return unused
}

func filterCheckpoints(cps []Checkpoint, drop func(string) bool) []Checkpoint {
	var out []Checkpoint
	for _, cp := range cps {
		if !drop(cp.Name) {
			out = append(out, cp)
		}
	}
	return out
}
