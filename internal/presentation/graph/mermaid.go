package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/tendril/internal/training"
	"github.com/aretw0/tendril/pkg/domain"
)

const (
	startNode = "STORY_START"
	endNode   = "STORY_END"
)

// GraphOverlay contains conversation data to visualize on the graph.
type GraphOverlay struct {
	VisitedSteps []string
	CurrentStep  string
}

// GenerateMermaid produces a Mermaid flowchart of the story graph.
// It applies semantic styling:
// - Story start and end: ((Circle))
// - Rule step: [[Subroutine]]
// - Story step: [Rectangle]
// Checkpoints become edges; generated checkpoints are drawn dotted.
// It also applies overlay styles (Visited/Current) if provided.
func GenerateMermaid(steps []*training.StoryStep, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	fmt.Fprintf(&sb, "    %s((\"START\"))\n", startNode)
	fmt.Fprintf(&sb, "    %s((\"END\"))\n", endNode)

	byStart := make(map[string][]*training.StoryStep)
	for _, s := range steps {
		for _, cp := range s.Start {
			byStart[cp.Name] = append(byStart[cp.Name], s)
		}
	}

	for _, s := range steps {
		safeID := nodeID(s.ID)
		opener, closer := "[", "]"
		if s.IsRule {
			opener, closer = "[[", "]]"
		}
		label := escape(s.BlockName)
		if summary := Summarize(s); summary != "" {
			label += "<br/>" + escape(summary)
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, label, closer)
	}

	for _, s := range steps {
		safeID := nodeID(s.ID)
		for _, cp := range s.Start {
			if cp.Name == training.StoryStart {
				fmt.Fprintf(&sb, "    %s --> %s\n", startNode, safeID)
			}
		}
		if len(s.End) == 0 {
			fmt.Fprintf(&sb, "    %s --> %s\n", safeID, endNode)
			continue
		}
		for _, cp := range s.End {
			for _, next := range byStart[cp.Name] {
				sb.WriteString(edge(safeID, nodeID(next.ID), cp, next))
			}
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// black text stays readable on both light and dark themes
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedSteps {
			safeID := nodeID(id)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}
		if overlay.CurrentStep != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", nodeID(overlay.CurrentStep))
		}
	}

	return sb.String()
}

func edge(from, to string, end training.Checkpoint, next *training.StoryStep) string {
	label := end.Name
	for _, cp := range next.Start {
		if cp.Name == end.Name && len(cp.Conditions) > 0 {
			label = cp.String()
		}
	}
	label = escape(label)

	if isGenerated(end.Name) {
		return fmt.Sprintf("    %s -.-> %s\n", from, to)
	}
	return fmt.Sprintf("    %s -- \"%s\" --> %s\n", from, label, to)
}

func isGenerated(name string) bool {
	return strings.HasPrefix(name, training.GeneratedPrefix) || strings.HasPrefix(name, training.CyclePrefix)
}

// Summarize lists the intents and actions of a step, e.g. "greet → utter_greet".
func Summarize(s *training.StoryStep) string {
	return strings.Join(tokens(s.Events), " → ")
}

// Overlay marks the steps whose intents and actions appear, in order and
// without gaps, in the conversation. The step matching the most recent turn
// is the current one.
func Overlay(steps []*training.StoryStep, events []domain.Event) *GraphOverlay {
	history := tokens(events)
	overlay := &GraphOverlay{}
	bestEnd := -1
	for _, s := range steps {
		want := tokens(s.Events)
		end := lastMatch(history, want)
		if end < 0 {
			continue
		}
		overlay.VisitedSteps = append(overlay.VisitedSteps, s.ID)
		if end > bestEnd {
			bestEnd = end
			overlay.CurrentStep = s.ID
		}
	}
	sort.Strings(overlay.VisitedSteps)
	return overlay
}

// lastMatch returns the index just past the last occurrence of want in
// history, or -1.
func lastMatch(history, want []string) int {
	if len(want) == 0 || len(want) > len(history) {
		return -1
	}
	for i := len(history) - len(want); i >= 0; i-- {
		match := true
		for j, w := range want {
			if history[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return i + len(want)
		}
	}
	return -1
}

func tokens(events []domain.Event) []string {
	var out []string
	for _, e := range events {
		switch ev := e.(type) {
		case *domain.UserUttered:
			if ev.Intent.Name != "" {
				out = append(out, ev.Intent.Name)
			}
		case *domain.ActionExecuted:
			switch ev.ActionName {
			case domain.ActionListen, domain.RuleSnippetAction, domain.ActionSessionStart, "":
			default:
				out = append(out, ev.ActionName)
			}
		}
	}
	return out
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

// nodeID prefixes step ids, which may start with a digit.
func nodeID(id string) string {
	if id == "" {
		return ""
	}
	return "step_" + sanitizeMermaidID(id)
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
