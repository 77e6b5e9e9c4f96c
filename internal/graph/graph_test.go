package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentgraph/pkg/schema"
)

func agent(id string, main bool) *schema.Node {
	return &schema.Node{
		ID:          id,
		Kind:        schema.NodeKindAgent,
		AgentRef:    id,
		Agent:       &schema.AgentDefinition{ID: id, Category: schema.CategorySales},
		IsMainAgent: main,
	}
}

func sampleWorkflow() *schema.Workflow {
	return &schema.Workflow{
		ID:    "wf",
		Nodes: []*schema.Node{agent("root", true), agent("a", false), agent("b", false), agent("c", false)},
		Edges: []schema.Edge{
			{ID: "e1", Source: "root", Target: "a"},
			{ID: "e2", Source: "root", Target: "b"},
			{ID: "e3", Source: "a", Target: "c"},
			{ID: "e4", Source: "b", Target: "c"},
		},
	}
}

func TestGraph_Lookups(t *testing.T) {
	wf := sampleWorkflow()
	g := New(wf)

	assert.Same(t, wf.Nodes[1], g.Node("a"))
	assert.Nil(t, g.Node("missing"))
	assert.Equal(t, []string{"a", "b"}, g.Successors("root"))

	preds := g.Predecessors("c")
	require.Len(t, preds, 2)
	assert.Equal(t, "a", preds[0].ID)
	assert.Equal(t, "b", preds[1].ID)

	var ids []string
	for _, n := range g.Nodes() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"root", "a", "b", "c"}, ids)
	assert.Len(t, g.Edges(), 4)
}

func TestGraph_PredecessorsSkipMissingSources(t *testing.T) {
	wf := sampleWorkflow()
	wf.Edges = append(wf.Edges, schema.Edge{ID: "e5", Source: "ghost", Target: "c"})
	assert.Len(t, New(wf).Predecessors("c"), 2)
}

func TestGraph_Main(t *testing.T) {
	main, err := New(sampleWorkflow()).Main()
	require.NoError(t, err)
	assert.Equal(t, "root", main.ID)

	wf := sampleWorkflow()
	wf.Nodes[0].IsMainAgent = false
	_, err = New(wf).Main()
	assert.True(t, schema.HasCode(err, schema.ErrCodeGraphIntegrity))

	wf = sampleWorkflow()
	wf.Nodes[2].IsMainAgent = true
	_, err = New(wf).Main()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple main agents")
}

func TestGraph_ValidateOK(t *testing.T) {
	wf := sampleWorkflow()
	assert.NoError(t, New(wf).Validate(wf))
}

func TestGraph_ValidateProblems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*schema.Workflow)
		want   string
	}{
		{"duplicate id", func(wf *schema.Workflow) {
			wf.Nodes = append(wf.Nodes, agent("a", false))
		}, `duplicate node id "a"`},
		{"empty id", func(wf *schema.Workflow) {
			wf.Nodes = append(wf.Nodes, agent("", false))
		}, "node id is empty"},
		{"missing target", func(wf *schema.Workflow) {
			wf.Edges = append(wf.Edges, schema.Edge{ID: "bad", Source: "a", Target: "ghost"})
		}, `missing target node "ghost"`},
		{"missing source", func(wf *schema.Workflow) {
			wf.Edges = append(wf.Edges, schema.Edge{ID: "bad", Source: "ghost", Target: "a"})
		}, `missing source node "ghost"`},
		{"unresolved agent", func(wf *schema.Workflow) {
			wf.Nodes[1].Agent = nil
		}, "has no resolved definition"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := sampleWorkflow()
			tt.mutate(wf)
			err := New(wf).Validate(wf)
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeGraphIntegrity))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGraph_Reachable(t *testing.T) {
	wf := sampleWorkflow()
	wf.Nodes = append(wf.Nodes, agent("orphan", false))
	wf.Edges = append(wf.Edges, schema.Edge{ID: "loop", Source: "c", Target: "root"})

	assert.Equal(t, []string{"a", "b", "c"}, New(wf).Reachable("root"))
	assert.Empty(t, New(wf).Reachable("orphan"))
}
