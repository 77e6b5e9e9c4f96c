// Package graph provides a read view over a workflow's nodes and edges.
package graph

import (
	"fmt"

	"github.com/rendis/agentgraph/pkg/schema"
)

// Graph indexes a workflow's nodes and edges for one run.
// Node pointers are shared with the workflow; mutations to node state are visible to both.
type Graph struct {
	nodes   map[string]*schema.Node
	order   []string // node IDs in declaration order
	edges   []schema.Edge
	forward map[string][]string
	reverse map[string][]string
}

// New builds a Graph from the workflow. It does not validate; call Validate.
func New(wf *schema.Workflow) *Graph {
	g := &Graph{
		nodes:   make(map[string]*schema.Node, len(wf.Nodes)),
		order:   make([]string, 0, len(wf.Nodes)),
		edges:   wf.Edges,
		forward: make(map[string][]string),
		reverse: make(map[string][]string),
	}
	for _, n := range wf.Nodes {
		if _, dup := g.nodes[n.ID]; dup {
			continue
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	for _, e := range wf.Edges {
		g.forward[e.Source] = append(g.forward[e.Source], e.Target)
		g.reverse[e.Target] = append(g.reverse[e.Target], e.Source)
	}
	return g
}

// Node returns the node with id, or nil.
func (g *Graph) Node(id string) *schema.Node {
	return g.nodes[id]
}

// Nodes returns all nodes in declaration order.
func (g *Graph) Nodes() []*schema.Node {
	out := make([]*schema.Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns the edge list.
func (g *Graph) Edges() []schema.Edge {
	return g.edges
}

// Successors returns the targets of edges leaving id, in edge order.
func (g *Graph) Successors(id string) []string {
	return g.forward[id]
}

// Predecessors returns the existing source nodes of edges entering id, in edge order.
func (g *Graph) Predecessors(id string) []*schema.Node {
	var out []*schema.Node
	for _, src := range g.reverse[id] {
		if n := g.nodes[src]; n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Main returns the single main agent node.
func (g *Graph) Main() (*schema.Node, error) {
	var main *schema.Node
	for _, id := range g.order {
		n := g.nodes[id]
		if !n.IsMainAgent {
			continue
		}
		if main != nil {
			return nil, schema.NewErrorf(schema.ErrCodeGraphIntegrity,
				"multiple main agents: %q and %q", main.ID, n.ID)
		}
		main = n
	}
	if main == nil {
		return nil, schema.NewError(schema.ErrCodeGraphIntegrity, "workflow has no main agent")
	}
	return main, nil
}

// Validate checks structural integrity: exactly one main agent, unique node IDs,
// edges referencing existing nodes, and agent nodes carrying a definition.
func (g *Graph) Validate(wf *schema.Workflow) error {
	res := &schema.ValidationResult{}

	seen := make(map[string]struct{}, len(wf.Nodes))
	for i, n := range wf.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if n.ID == "" {
			res.AddError(path+".id", schema.ErrCodeGraphIntegrity, "node id is empty")
			continue
		}
		if _, dup := seen[n.ID]; dup {
			res.AddError(path+".id", schema.ErrCodeGraphIntegrity, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = struct{}{}
		if n.Kind == schema.NodeKindAgent && n.Agent == nil {
			res.AddError(path+".agent", schema.ErrCodeGraphIntegrity,
				fmt.Sprintf("agent node %q has no resolved definition (agent_ref %q)", n.ID, n.AgentRef))
		}
	}

	if _, err := g.Main(); err != nil {
		res.AddError("nodes", schema.ErrCodeGraphIntegrity, err.(*schema.AgentGraphError).Message)
	}

	for i, e := range wf.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if _, ok := g.nodes[e.Source]; !ok {
			res.AddError(path+".source", schema.ErrCodeGraphIntegrity,
				fmt.Sprintf("edge %q references missing source node %q", e.ID, e.Source))
		}
		if _, ok := g.nodes[e.Target]; !ok {
			res.AddError(path+".target", schema.ErrCodeGraphIntegrity,
				fmt.Sprintf("edge %q references missing target node %q", e.ID, e.Target))
		}
	}

	return res.ToError()
}

// Reachable returns the nodes reachable by forward traversal from root,
// excluding root, in breadth-first discovery order.
func (g *Graph) Reachable(rootID string) []string {
	visited := map[string]bool{rootID: true}
	queue := []string{rootID}
	var out []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range g.forward[id] {
			if visited[next] {
				continue
			}
			if _, ok := g.nodes[next]; !ok {
				continue
			}
			visited[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out
}
