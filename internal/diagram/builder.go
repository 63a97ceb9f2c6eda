package diagram

import (
	"fmt"

	"github.com/rendis/relaysim/internal/stages"
	"github.com/rendis/relaysim/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// Input is the slice of run state a diagram shows.
type Input struct {
	Title  string
	Mode   schema.Mode
	Stages []schema.Stage
	Items  []schema.Item
}

// Build constructs a DiagramModel for a linear stage pipeline. Stage status
// and recorded durations become overlays; revealed items hang off the
// transport stage as a subgraph.
func Build(in Input) *DiagramModel {
	nodes := make([]*Node, 0, len(in.Stages)+2)
	levels := make([][]string, 0, len(in.Stages)+2)

	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	levels = append(levels, []string{startID})

	for _, st := range in.Stages {
		node := &Node{ID: st.ID, Label: stageLabel(st), Kind: NodeKindStage}
		overlay := &StatusOverlay{Status: string(st.Status)}
		if st.DurationMs != nil {
			overlay.DurationMs = *st.DurationMs
		}
		node.Status = overlay
		if st.ID == stages.Transport && len(in.Items) > 0 {
			node.Children = append(node.Children, itemSubGraph(st.ID, in.Items))
		}
		nodes = append(nodes, node)
		levels = append(levels, []string{st.ID})
	}

	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})
	levels = append(levels, []string{endID})

	title := in.Title
	if title == "" {
		title = "Relay pipeline"
	}
	if in.Mode != "" {
		title = fmt.Sprintf("%s (%s)", title, in.Mode)
	}

	return &DiagramModel{
		Title:  title,
		Nodes:  nodes,
		Edges:  buildEdges(in),
		Levels: levels,
	}
}

func stageLabel(st schema.Stage) string {
	if st.Name != "" && st.Name != st.ID {
		return fmt.Sprintf("%s\n(%s)", st.Name, st.ID)
	}
	return st.ID
}

// itemSubGraph lists items in arrival order, chained by edges.
func itemSubGraph(parentID string, items []schema.Item) *SubGraph {
	sg := &SubGraph{Label: "items"}
	for i, it := range items {
		id := fmt.Sprintf("%s.items.%d", parentID, i+1)
		sg.Nodes = append(sg.Nodes, &Node{ID: id, Label: itemLabel(it), Kind: NodeKindItem})
		if i > 0 {
			sg.Edges = append(sg.Edges, Edge{From: fmt.Sprintf("%s.items.%d", parentID, i), To: id})
		}
	}
	return sg
}

func itemLabel(it schema.Item) string {
	switch it.Kind {
	case schema.ItemContent:
		return fmt.Sprintf("content %q", it.Text)
	case schema.ItemToolCall:
		return "tool_call " + it.ToolName
	case schema.ItemFinish:
		return "finish " + it.FinishReason
	case schema.ItemUsage:
		if it.Usage != nil {
			return fmt.Sprintf("usage %d/%d", it.Usage.Input, it.Usage.Output)
		}
	}
	return string(it.Kind)
}

// buildEdges chains start, every stage and end. The edge leaving transport
// carries the transport mode as its label.
func buildEdges(in Input) []Edge {
	ids := make([]string, 0, len(in.Stages)+2)
	ids = append(ids, startID)
	for _, st := range in.Stages {
		ids = append(ids, st.ID)
	}
	ids = append(ids, endID)

	edges := make([]Edge, 0, len(ids)-1)
	for i := 1; i < len(ids); i++ {
		e := Edge{From: ids[i-1], To: ids[i]}
		if e.From == stages.Transport && in.Mode != "" {
			e.Label = string(in.Mode)
		}
		edges = append(edges, e)
	}
	return edges
}
