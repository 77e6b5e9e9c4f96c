package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentgraph/internal/engine"
	"github.com/rendis/agentgraph/internal/runner"
	"github.com/rendis/agentgraph/internal/store"
	"github.com/rendis/agentgraph/pkg/schema"
)

// --- Mock runner ---

type mockRunner struct {
	mu        sync.Mutex
	runResult *engine.RunResult
	runErr    error
	runPolicy *engine.ContinuationPolicy
	order     *runner.OrderView
	orderErr  error
	views     map[string]*runner.RunView
	runs      []*store.Run
	runsLimit int
	workflows map[string]*schema.Workflow
}

func (m *mockRunner) Run(_ context.Context, _ string, policy *engine.ContinuationPolicy) (*engine.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runPolicy = policy
	return m.runResult, m.runErr
}

func (m *mockRunner) Order(_ context.Context, _ string) (*runner.OrderView, error) {
	return m.order, m.orderErr
}

func (m *mockRunner) Status(_ context.Context, runID string) (*runner.RunView, error) {
	if v, ok := m.views[runID]; ok {
		return v, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", runID)
}

func (m *mockRunner) Runs(_ context.Context, workflowID string, limit int) ([]*store.Run, error) {
	m.runsLimit = limit
	var out []*store.Run
	for _, r := range m.runs {
		if r.WorkflowID == workflowID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRunner) Workflow(_ context.Context, workflowID string) (*schema.Workflow, error) {
	if wf, ok := m.workflows[workflowID]; ok {
		return wf, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", workflowID)
}

type mockLister struct {
	summaries []*store.WorkflowSummary
	filter    store.WorkflowFilter
}

func (m *mockLister) ListWorkflows(_ context.Context, filter store.WorkflowFilter) ([]*store.WorkflowSummary, error) {
	m.filter = filter
	return m.summaries, nil
}

type mockCatalog []*schema.AgentDefinition

func (m mockCatalog) Agents() []*schema.AgentDefinition { return m }

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), target))
}

func sampleWorkflow() *schema.Workflow {
	return &schema.Workflow{
		ID:   "wf-1",
		Name: "Campanha",
		Nodes: []*schema.Node{
			{ID: "root", Kind: schema.NodeKindAgent, IsMainAgent: true,
				Agent: &schema.AgentDefinition{ID: "setup", Name: "Setup", Category: schema.CategorySetup}},
			{ID: "n1", Kind: schema.NodeKindAgent,
				Agent: &schema.AgentDefinition{ID: "headline", Name: "Headline", Category: schema.CategoryCopywriting}},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "root", Target: "n1"}},
	}
}

// --- workflow.run ---

func TestRunTool(t *testing.T) {
	now := time.Now().UTC()
	r := &mockRunner{runResult: &engine.RunResult{
		RunID:      "run-1",
		WorkflowID: "wf-1",
		Policy:     "continue_on_error",
		Status:     schema.RunStatusCompleted,
		Order:      []string{"n1"},
		StartedAt:  now,
	}}
	s := NewServer(ServerDeps{Runner: r})

	result, err := s.handleRun(context.Background(), buildRequest("workflow.run", map[string]any{
		"workflow_id": "wf-1",
		"policy":      "continue_on_error",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var got engine.RunResult
	unmarshalResult(t, result, &got)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, schema.RunStatusCompleted, got.Status)
	require.NotNil(t, r.runPolicy)
	assert.Equal(t, engine.ContinueOnError, *r.runPolicy)
}

func TestRunToolDefaultPolicy(t *testing.T) {
	r := &mockRunner{runResult: &engine.RunResult{RunID: "run-1", Status: schema.RunStatusCompleted}}
	s := NewServer(ServerDeps{Runner: r})

	result, err := s.handleRun(context.Background(), buildRequest("workflow.run", map[string]any{"workflow_id": "wf-1"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Nil(t, r.runPolicy)
}

func TestRunToolFailedRunIsNotToolError(t *testing.T) {
	r := &mockRunner{
		runResult: &engine.RunResult{RunID: "run-1", Status: schema.RunStatusFailed, Error: "node n1 failed"},
		runErr:    schema.NewError(schema.ErrCodeAgentInvocation, "upstream rejected"),
	}
	s := NewServer(ServerDeps{Runner: r})

	result, err := s.handleRun(context.Background(), buildRequest("workflow.run", map[string]any{"workflow_id": "wf-1"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, extractText(t, result), `"status":"failed"`)
}

func TestRunToolErrors(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		r    *mockRunner
	}{
		{"missing workflow_id", map[string]any{}, &mockRunner{}},
		{"bad policy", map[string]any{"workflow_id": "wf-1", "policy": "yolo"}, &mockRunner{}},
		{"run never started", map[string]any{"workflow_id": "wf-1"},
			&mockRunner{runErr: schema.NewError(schema.ErrCodeRunInProgress, "busy")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewServer(ServerDeps{Runner: tc.r})
			result, err := s.handleRun(context.Background(), buildRequest("workflow.run", tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

// --- workflow.order ---

func TestOrderTool(t *testing.T) {
	r := &mockRunner{order: &runner.OrderView{
		WorkflowID:  "wf-1",
		Main:        "root",
		Order:       []string{"n1", "n2"},
		Unreachable: []string{"orphan"},
	}}
	s := NewServer(ServerDeps{Runner: r})

	result, err := s.handleOrder(context.Background(), buildRequest("workflow.order", map[string]any{"workflow_id": "wf-1"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var view runner.OrderView
	unmarshalResult(t, result, &view)
	assert.Equal(t, "root", view.Main)
	assert.Equal(t, []string{"n1", "n2"}, view.Order)
	assert.Equal(t, []string{"orphan"}, view.Unreachable)
}

func TestOrderToolGraphError(t *testing.T) {
	r := &mockRunner{orderErr: schema.NewError(schema.ErrCodeGraphIntegrity, "workflow has no main agent")}
	s := NewServer(ServerDeps{Runner: r})

	result, err := s.handleOrder(context.Background(), buildRequest("workflow.order", map[string]any{"workflow_id": "wf-1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "no main agent")
}

// --- workflow.status ---

func TestStatusToolByRun(t *testing.T) {
	r := &mockRunner{views: map[string]*runner.RunView{
		"run-1": {
			Run:   &store.Run{ID: "run-1", WorkflowID: "wf-1", Status: schema.RunStatusPartial},
			Nodes: map[string]*store.NodeState{"n1": {NodeID: "n1", Status: schema.NodeStatusError}},
		},
	}}
	s := NewServer(ServerDeps{Runner: r})

	result, err := s.handleStatus(context.Background(), buildRequest("workflow.status", map[string]any{"run_id": "run-1"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var view runner.RunView
	unmarshalResult(t, result, &view)
	assert.Equal(t, schema.RunStatusPartial, view.Run.Status)
	assert.Equal(t, schema.NodeStatusError, view.Nodes["n1"].Status)
}

func TestStatusToolByWorkflow(t *testing.T) {
	r := &mockRunner{runs: []*store.Run{
		{ID: "run-2", WorkflowID: "wf-1", Status: schema.RunStatusCompleted},
		{ID: "run-1", WorkflowID: "wf-1", Status: schema.RunStatusFailed},
		{ID: "run-x", WorkflowID: "wf-2", Status: schema.RunStatusCompleted},
	}}
	s := NewServer(ServerDeps{Runner: r})

	result, err := s.handleStatus(context.Background(), buildRequest("workflow.status", map[string]any{
		"workflow_id": "wf-1",
		"limit":       5,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, 5, r.runsLimit)

	var got struct {
		WorkflowID string       `json:"workflow_id"`
		Runs       []*store.Run `json:"runs"`
	}
	unmarshalResult(t, result, &got)
	require.Len(t, got.Runs, 2)
	assert.Equal(t, "run-2", got.Runs[0].ID)
}

func TestStatusToolErrors(t *testing.T) {
	s := NewServer(ServerDeps{Runner: &mockRunner{}})

	result, err := s.handleStatus(context.Background(), buildRequest("workflow.status", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleStatus(context.Background(), buildRequest("workflow.status", map[string]any{"run_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "not found")
}

// --- workflow.diagram ---

func TestDiagramTool(t *testing.T) {
	r := &mockRunner{
		workflows: map[string]*schema.Workflow{"wf-1": sampleWorkflow()},
		views: map[string]*runner.RunView{
			"run-1": {
				Run: &store.Run{ID: "run-1", WorkflowID: "wf-1"},
				Nodes: map[string]*store.NodeState{
					"root": {NodeID: "root", Status: schema.NodeStatusCompleted},
					"n1":   {NodeID: "n1", Status: schema.NodeStatusError},
				},
			},
			"run-other": {Run: &store.Run{ID: "run-other", WorkflowID: "wf-2"}},
		},
	}
	s := NewServer(ServerDeps{Runner: r})
	ctx := context.Background()

	result, err := s.handleDiagram(ctx, buildRequest("workflow.diagram", map[string]any{
		"workflow_id": "wf-1", "format": "mermaid",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text := extractText(t, result)
	assert.Contains(t, text, "graph TD")
	assert.Contains(t, text, "root --> n1")

	result, err = s.handleDiagram(ctx, buildRequest("workflow.diagram", map[string]any{
		"workflow_id": "wf-1", "format": "ascii", "run_id": "run-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text = extractText(t, result)
	assert.Contains(t, text, "[OK]")
	assert.Contains(t, text, "[FAIL]")

	result, err = s.handleDiagram(ctx, buildRequest("workflow.diagram", map[string]any{
		"workflow_id": "wf-1", "format": "ascii", "run_id": "run-other",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDiagramToolImage(t *testing.T) {
	r := &mockRunner{workflows: map[string]*schema.Workflow{"wf-1": sampleWorkflow()}}
	s := NewServer(ServerDeps{Runner: r})

	result, err := s.handleDiagram(context.Background(), buildRequest("workflow.diagram", map[string]any{
		"workflow_id": "wf-1", "format": "image",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	png, decodeErr := base64.StdEncoding.DecodeString(extractText(t, result))
	require.NoError(t, decodeErr)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestDiagramToolErrors(t *testing.T) {
	r := &mockRunner{workflows: map[string]*schema.Workflow{"wf-1": sampleWorkflow()}}
	s := NewServer(ServerDeps{Runner: r})

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing workflow_id", map[string]any{"format": "ascii"}},
		{"missing format", map[string]any{"workflow_id": "wf-1"}},
		{"bad format", map[string]any{"workflow_id": "wf-1", "format": "svg"}},
		{"unknown workflow", map[string]any{"workflow_id": "ghost", "format": "ascii"}},
		{"unknown run", map[string]any{"workflow_id": "wf-1", "format": "ascii", "run_id": "ghost"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := s.handleDiagram(context.Background(), buildRequest("workflow.diagram", tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

// --- workflow.list / agents.list ---

func TestListTool(t *testing.T) {
	l := &mockLister{summaries: []*store.WorkflowSummary{{ID: "wf-1", Name: "Campanha", NodeCount: 3}}}
	s := NewServer(ServerDeps{Workflows: l})

	result, err := s.handleList(context.Background(), buildRequest("workflow.list", map[string]any{
		"user_id": "user-1",
		"limit":   10,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "user-1", l.filter.UserID)
	assert.Equal(t, 10, l.filter.Limit)

	var got struct {
		Workflows []*store.WorkflowSummary `json:"workflows"`
	}
	unmarshalResult(t, result, &got)
	require.Len(t, got.Workflows, 1)
	assert.Equal(t, 3, got.Workflows[0].NodeCount)
}

func TestListToolEmpty(t *testing.T) {
	s := NewServer(ServerDeps{Workflows: &mockLister{}})
	result, err := s.handleList(context.Background(), buildRequest("workflow.list", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"workflows":[]}`, extractText(t, result))
}

func TestAgentsTool(t *testing.T) {
	cat := mockCatalog{
		{ID: "headline", Category: schema.CategoryCopywriting},
		{ID: "seo", Category: schema.CategorySEO},
		{ID: "setup", Category: schema.CategorySetup},
	}
	s := NewServer(ServerDeps{Catalog: cat})

	result, err := s.handleAgents(context.Background(), buildRequest("agents.list", map[string]any{"category": "seo"}))
	require.NoError(t, err)
	var got struct {
		Agents []*schema.AgentDefinition `json:"agents"`
	}
	unmarshalResult(t, result, &got)
	require.Len(t, got.Agents, 1)
	assert.Equal(t, "seo", got.Agents[0].ID)

	result, err = s.handleAgents(context.Background(), buildRequest("agents.list", nil))
	require.NoError(t, err)
	unmarshalResult(t, result, &got)
	assert.Len(t, got.Agents, 3)
}

func TestListingToolsWithoutDeps(t *testing.T) {
	s := NewServer(ServerDeps{})

	result, err := s.handleList(context.Background(), buildRequest("workflow.list", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleAgents(context.Background(), buildRequest("agents.list", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
