package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/rendis/relaysim/pkg/schema"
)

type nodeColors struct{ fill, font string }

var statusColors = map[schema.StageStatus]nodeColors{
	schema.StageStatusComplete: {"#2d6a2d", "white"},
	schema.StageStatusActive:   {"#1a5276", "white"},
	schema.StageStatusPending:  {"#d3d3d3", "black"},
}

// gvGraph is the subset of cgraph shared by graphs and clusters.
type gvGraph interface {
	CreateNodeByName(name string) (*cgraph.Node, error)
}

// RenderImage lays the model out with dot and returns PNG bytes. Items
// revealed during transport are drawn in a dashed cluster.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()
	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()
	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	placed := make(map[string]*cgraph.Node)
	place := func(g gvGraph, n *Node) error {
		gn, err := g.CreateNodeByName(n.ID)
		if err != nil {
			return fmt.Errorf("diagram: create node %s: %w", n.ID, err)
		}
		styleNode(gn, n)
		placed[n.ID] = gn
		return nil
	}
	connect := func(e Edge) {
		from, to := placed[e.From], placed[e.To]
		if from == nil || to == nil {
			return
		}
		if ge, err := graph.CreateEdgeByName("", from, to); err == nil && e.Label != "" {
			ge.SetLabel(e.Label)
		}
	}

	for _, n := range model.Nodes {
		if err := place(graph, n); err != nil {
			return nil, err
		}
	}
	for _, n := range model.Nodes {
		for _, sg := range n.Children {
			cluster, err := graph.CreateSubGraphByName("cluster_" + n.ID + "_" + sg.Label)
			if err != nil {
				return nil, fmt.Errorf("diagram: create cluster for %s: %w", n.ID, err)
			}
			cluster.SetLabel(sg.Label)
			cluster.SetStyle(cgraph.DashedGraphStyle)
			for _, item := range sg.Nodes {
				if err := place(cluster, item); err != nil {
					return nil, err
				}
			}
			for _, e := range sg.Edges {
				connect(e)
			}
		}
	}
	for _, e := range model.Edges {
		connect(e)
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func styleNode(gn *cgraph.Node, n *Node) {
	label := firstLine(n.Label)
	switch n.Kind {
	case NodeKindStage:
		gn.SetShape(cgraph.BoxShape)
	case NodeKindItem:
		gn.SetShape(cgraph.EllipseShape)
	case NodeKindStart, NodeKindEnd:
		gn.SetShape(cgraph.CircleShape)
		gn.SetWidth(0.5)
		gn.SetHeight(0.5)
	}
	if n.Status != nil {
		if n.Status.DurationMs > 0 {
			label = fmt.Sprintf("%s\n%dms", label, n.Status.DurationMs)
		}
		if c, ok := statusColors[schema.StageStatus(n.Status.Status)]; ok {
			gn.SetStyle(cgraph.FilledNodeStyle)
			gn.SetFillColor(c.fill)
			gn.SetFontColor(c.font)
		}
	}
	gn.SetLabel(label)
}
