package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderImage renders a DiagramModel as a PNG image using graphviz.
// Returns the PNG bytes.
func RenderImage(model *DiagramModel) ([]byte, error) {
	ctx := context.Background()

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

	skipped := make(map[string]bool, len(model.Skipped))
	for _, id := range model.Skipped {
		skipped[id] = true
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(firstLine(node.Label))
		applyNodeStyle(gvNode, node, skipped[node.ID])
		gvNodes[node.ID] = gvNode
	}

	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV != nil && toGV != nil {
			if _, err := graph.CreateEdgeByName("", fromGV, toGV); err != nil {
				return nil, fmt.Errorf("diagram: create edge %s -> %s: %w", edge.From, edge.To, err)
			}
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// applyNodeStyle sets graphviz attributes based on node kind and status.
func applyNodeStyle(gvNode *cgraph.Node, node *Node, skipped bool) {
	switch node.Kind {
	case NodeKindMain:
		gvNode.SetShape(cgraph.EllipseShape)
	case NodeKindResult:
		gvNode.SetShape(cgraph.CircleShape)
	default:
		gvNode.SetShape(cgraph.BoxShape)
	}

	switch {
	case node.Status != nil:
		applyStatusColor(gvNode, node.Status.Status)
	case skipped:
		applyStatusColor(gvNode, "skipped")
	}
}

// applyStatusColor sets fill color and style based on status.
func applyStatusColor(gvNode *cgraph.Node, status string) {
	gvNode.SetStyle(cgraph.FilledNodeStyle)
	switch status {
	case "completed":
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case "error":
		gvNode.SetFillColor("#8b1a1a")
		gvNode.SetFontColor("white")
	case "processing":
		gvNode.SetFillColor("#1a5276")
		gvNode.SetFontColor("white")
	case "skipped":
		gvNode.SetFillColor("#e8e8e8")
		gvNode.SetFontColor("#888888")
		gvNode.SetStyle(cgraph.DashedNodeStyle)
	}
}
