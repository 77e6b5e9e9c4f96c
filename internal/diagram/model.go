// Package diagram renders workflow graphs and run state as Mermaid, ASCII or PNG.
package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindMain   NodeKind = "main"
	NodeKindAgent  NodeKind = "agent"
	NodeKindResult NodeKind = "result"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
	// Levels groups scheduled nodes by longest distance from the main agent.
	Levels [][]string
	// Skipped lists nodes that will not run: unreachable or blocked by a cycle.
	Skipped []string
}

// Node is one workflow node in the diagram.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Category string
	Status   *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string // schema.NodeStatus
	DurationMs int64
	Error      string
}

// Edge is a dependency between two nodes.
type Edge struct {
	From string
	To   string
}

// Node returns the node with id, or nil.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
