package diagram

import (
	"fmt"

	"github.com/rendis/agentgraph/internal/engine"
	"github.com/rendis/agentgraph/internal/graph"
	"github.com/rendis/agentgraph/internal/store"
	"github.com/rendis/agentgraph/pkg/schema"
)

// Build constructs a DiagramModel from a workflow and optional replayed node
// states. Without states, non-idle statuses stored on the nodes are shown.
// Nodes are laid out in execution order; skipped nodes come last.
func Build(wf *schema.Workflow, states map[string]*store.NodeState) (*DiagramModel, error) {
	g := graph.New(wf)
	main, err := g.Main()
	if err != nil {
		return nil, fmt.Errorf("diagram: %w", err)
	}
	sched := engine.Analyze(g, main.ID)

	model := &DiagramModel{Title: titleFrom(wf)}
	model.Nodes = append(model.Nodes, toNode(main, NodeKindMain, states))
	for _, id := range sched.Order {
		n := g.Node(id)
		kind := NodeKindAgent
		if n.Kind == schema.NodeKindResult {
			kind = NodeKindResult
		}
		model.Nodes = append(model.Nodes, toNode(n, kind, states))
	}
	skipped := append(append([]string{}, sched.Unscheduled...), sched.Unreachable...)
	for _, id := range skipped {
		n := g.Node(id)
		kind := NodeKindAgent
		if n.Kind == schema.NodeKindResult {
			kind = NodeKindResult
		}
		model.Nodes = append(model.Nodes, toNode(n, kind, states))
	}
	model.Skipped = skipped

	for _, e := range g.Edges() {
		if g.Node(e.Source) == nil || g.Node(e.Target) == nil {
			continue
		}
		model.Edges = append(model.Edges, Edge{From: e.Source, To: e.Target})
	}
	model.Levels = buildLevels(g, main.ID, sched.Order)
	return model, nil
}

func toNode(n *schema.Node, kind NodeKind, states map[string]*store.NodeState) *Node {
	node := &Node{ID: n.ID, Label: n.ID, Kind: kind}
	if n.Agent != nil {
		node.Category = string(n.Agent.Category)
		if n.Agent.Name != "" {
			node.Label = fmt.Sprintf("%s\n(%s)", n.ID, n.Agent.Name)
		}
	}
	if st, ok := states[n.ID]; ok {
		node.Status = &StatusOverlay{Status: string(st.Status), DurationMs: st.DurationMs, Error: string(st.Error)}
	} else if n.Status != "" && n.Status != schema.NodeStatusIdle {
		node.Status = &StatusOverlay{Status: string(n.Status), Error: n.Error}
	}
	return node
}

// buildLevels assigns each scheduled node the longest path length from the
// main agent. order is topological, so one forward pass suffices.
func buildLevels(g *graph.Graph, mainID string, order []string) [][]string {
	depth := map[string]int{mainID: 0}
	maxDepth := 0
	for _, id := range order {
		d := 1
		for _, pred := range g.Predecessors(id) {
			if pd, ok := depth[pred.ID]; ok && pd+1 > d {
				d = pd + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}
	levels := make([][]string, maxDepth+1)
	levels[0] = []string{mainID}
	for _, id := range order {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}

func titleFrom(wf *schema.Workflow) string {
	if wf.Name != "" {
		return wf.Name
	}
	if wf.ID != "" {
		return wf.ID
	}
	return "Workflow"
}
