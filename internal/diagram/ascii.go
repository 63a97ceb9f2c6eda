package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rendis/relaysim/pkg/schema"
)

var statusTags = map[schema.StageStatus]string{
	schema.StageStatusComplete: "[OK]",
	schema.StageStatusActive:   "[RUN]",
	schema.StageStatusPending:  "[PEND]",
}

// RenderASCII draws the pipeline top to bottom as equally wide boxes joined
// by arrows. Revealed items are listed under their stage. This is the frame
// format of the CLI's play command.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder
	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	var column []*Node
	for _, level := range model.Levels {
		for _, id := range level {
			if n := findNode(model.Nodes, id); n != nil {
				column = append(column, n)
			}
		}
	}

	inner := 0
	for _, n := range column {
		if w := utf8.RuneCountInString(boxText(n)); w > inner {
			inner = w
		}
	}

	for i, n := range column {
		if i > 0 {
			b.WriteString("  │\n  ▼\n")
		}
		text := boxText(n)
		pad := strings.Repeat(" ", inner-utf8.RuneCountInString(text))
		edge := strings.Repeat("─", inner+2)
		fmt.Fprintf(&b, "┌%s┐\n│ %s%s │\n└%s┘\n", edge, text, pad, edge)
	}

	for _, n := range column {
		for _, sg := range n.Children {
			fmt.Fprintf(&b, "\n--- %s ---\n  [%s]\n", n.ID, sg.Label)
			for k, item := range sg.Nodes {
				fmt.Fprintf(&b, "    %d. %s\n", k+1, firstLine(item.Label))
			}
		}
	}
	return b.String()
}

// boxText is the single line shown inside a node's box: status tag, label
// and recorded duration.
func boxText(n *Node) string {
	parts := make([]string, 0, 3)
	if n.Status != nil {
		if tag := statusTags[schema.StageStatus(n.Status.Status)]; tag != "" {
			parts = append(parts, tag)
		}
	}
	parts = append(parts, firstLine(n.Label))
	if n.Status != nil && n.Status.DurationMs > 0 {
		parts = append(parts, fmt.Sprintf("%dms", n.Status.DurationMs))
	}
	return strings.Join(parts, " ")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
