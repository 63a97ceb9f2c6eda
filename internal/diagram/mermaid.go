package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/relaysim/pkg/schema"
)

var mermaidClasses = []struct {
	status schema.StageStatus
	style  string
}{
	{schema.StageStatusComplete, "fill:#2d6a2d,stroke:#1a4a1a,color:#fff"},
	{schema.StageStatusActive, "fill:#1a5276,stroke:#0e3a52,color:#fff"},
	{schema.StageStatusPending, "fill:#6b6b6b,stroke:#4a4a4a,color:#fff"},
}

var mermaidID = strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace

// mermaidLines accumulates indented flowchart statements.
type mermaidLines struct{ strings.Builder }

func (m *mermaidLines) add(depth int, format string, args ...any) {
	m.WriteString(strings.Repeat("    ", depth))
	fmt.Fprintf(m, format, args...)
	m.WriteByte('\n')
}

// RenderMermaid renders the model as a top-down Mermaid flowchart. Stage
// status maps to a class of the same name; revealed items form a subgraph
// linked to their stage with a dotted edge.
func RenderMermaid(model *DiagramModel) string {
	var m mermaidLines
	m.add(0, "graph TD")
	if model.Title != "" {
		m.add(1, "%%%% %s", model.Title)
	}

	for _, n := range model.Nodes {
		m.add(1, "%s", mermaidShape(n))
		for _, sg := range n.Children {
			m.add(1, "subgraph %s[\"%s: %s\"]", mermaidID(n.ID+"_"+sg.Label), n.ID, sg.Label)
			for _, item := range sg.Nodes {
				m.add(2, "%s", mermaidShape(item))
			}
			for _, e := range sg.Edges {
				m.add(2, "%s", mermaidArrow(e))
			}
			m.add(1, "end")
			if len(sg.Nodes) > 0 {
				m.add(1, "%s -.- %s", mermaidID(n.ID), mermaidID(sg.Nodes[0].ID))
			}
		}
	}
	for _, e := range model.Edges {
		m.add(1, "%s", mermaidArrow(e))
	}

	m.WriteByte('\n')
	known := make(map[string]bool, len(mermaidClasses))
	for _, c := range mermaidClasses {
		m.add(1, "classDef %s %s", c.status, c.style)
		known[string(c.status)] = true
	}
	for _, n := range model.Nodes {
		if n.Status != nil && known[n.Status.Status] {
			m.add(1, "class %s %s", mermaidID(n.ID), n.Status.Status)
		}
	}
	return m.String()
}

func mermaidArrow(e Edge) string {
	if e.Label == "" {
		return mermaidID(e.From) + " --> " + mermaidID(e.To)
	}
	return fmt.Sprintf("%s -->|%s| %s", mermaidID(e.From), e.Label, mermaidID(e.To))
}

func mermaidShape(n *Node) string {
	label := firstLine(n.Label)
	if n.Status != nil && n.Status.DurationMs > 0 {
		label = fmt.Sprintf("%s %dms", label, n.Status.DurationMs)
	}
	id := mermaidID(n.ID)
	switch n.Kind {
	case NodeKindItem:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	}
	return fmt.Sprintf("%s[%q]", id, label)
}
