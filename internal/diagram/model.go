// Package diagram renders the simulated pipeline as ASCII boxes, Mermaid
// flowcharts or PNG images.
package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindStage NodeKind = "stage"
	NodeKindItem  NodeKind = "item"
	NodeKindStart NodeKind = "start"
	NodeKindEnd   NodeKind = "end"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is a pipeline stage or a virtual start/end marker.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Status   *StatusOverlay
	Children []*SubGraph // items revealed during transport
}

// SubGraph holds nested nodes rendered next to their parent.
type SubGraph struct {
	Label string
	Nodes []*Node
	Edges []Edge
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string // from schema.StageStatus
	DurationMs int64
}

// Edge connects two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
