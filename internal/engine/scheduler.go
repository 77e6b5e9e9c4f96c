package engine

import (
	"github.com/rendis/agentgraph/internal/graph"
	"github.com/rendis/agentgraph/pkg/schema"
)

// Schedule is the execution plan for the nodes downstream of a root.
type Schedule struct {
	Order       []string // topological order, root excluded
	Unscheduled []string // reachable nodes that never became ready (cycle members and their descendants)
	Unreachable []string // nodes with no forward path from the root
}

// HasCycle reports whether some reachable node was blocked by a cycle.
func (s Schedule) HasCycle() bool {
	return len(s.Unscheduled) > 0
}

// Order computes the execution order of the nodes reachable from rootID.
// Unreachable nodes and nodes blocked by a cycle are dropped.
func Order(nodes []*schema.Node, edges []schema.Edge, rootID string) []string {
	g := graph.New(&schema.Workflow{Nodes: nodes, Edges: edges})
	return Analyze(g, rootID).Order
}

// Analyze runs Kahn's algorithm over the subgraph reachable from rootID.
// Only edges whose source is reachable count toward in-degree; edges leaving the
// root are satisfied up front since the root always runs first. Ready nodes are
// dequeued FIFO, seeded and tie-broken by breadth-first discovery order.
func Analyze(g *graph.Graph, rootID string) Schedule {
	reachable := g.Reachable(rootID)
	index := make(map[string]int, len(reachable))
	for i, id := range reachable {
		index[id] = i
	}

	inDegree := make(map[string]int, len(reachable))
	for _, e := range g.Edges() {
		if e.Source == rootID {
			continue
		}
		_, srcOK := index[e.Source]
		_, dstOK := index[e.Target]
		if srcOK && dstOK {
			inDegree[e.Target]++
		}
	}

	queue := make([]string, 0, len(reachable))
	for _, id := range reachable {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(reachable))
	scheduled := make(map[string]bool, len(reachable))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		scheduled[id] = true

		for _, next := range g.Successors(id) {
			if _, ok := index[next]; !ok || scheduled[next] {
				continue
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	s := Schedule{Order: order}
	for _, id := range reachable {
		if !scheduled[id] {
			s.Unscheduled = append(s.Unscheduled, id)
		}
	}
	for _, n := range g.Nodes() {
		if _, ok := index[n.ID]; !ok && n.ID != rootID {
			s.Unreachable = append(s.Unreachable, n.ID)
		}
	}
	return s
}
