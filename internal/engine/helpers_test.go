package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rendis/agentgraph/internal/credentials"
	"github.com/rendis/agentgraph/internal/llm"
	"github.com/rendis/agentgraph/internal/logging"
	"github.com/rendis/agentgraph/pkg/schema"
)

// --- agent and workflow builders ---

func agentDef(id string, cat schema.Category, template string, outputs ...string) *schema.AgentDefinition {
	def := &schema.AgentDefinition{ID: id, Name: id, Category: cat, Template: template}
	for _, o := range outputs {
		def.Outputs = append(def.Outputs, schema.OutputSpec{ID: o, Type: schema.OutputTypeText})
	}
	return def
}

func agentNode(id string, def *schema.AgentDefinition) *schema.Node {
	return &schema.Node{ID: id, Kind: schema.NodeKindAgent, AgentRef: def.ID, Agent: def, Status: schema.NodeStatusIdle}
}

func mainNode(id string, def *schema.AgentDefinition) *schema.Node {
	n := agentNode(id, def)
	n.IsMainAgent = true
	return n
}

func workflow(nodes []*schema.Node, edges ...schema.Edge) *schema.Workflow {
	return &schema.Workflow{ID: "wf-test", UserID: "user-1", Nodes: nodes, Edges: edges}
}

func setupRoot() *schema.Node {
	return mainNode("root", agentDef("setup", schema.CategorySetup, "Descreva o produto", "produto"))
}

// --- scripted invoker ---

type invokeHandler func(ctx context.Context, req llm.Request) (*llm.Result, error)

// scriptedInvoker dispatches by agent ID and records every request.
type scriptedInvoker struct {
	mu       sync.Mutex
	calls    []llm.Request
	handlers map[string]invokeHandler
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{handlers: make(map[string]invokeHandler)}
}

func (s *scriptedInvoker) on(agentID string, h invokeHandler) *scriptedInvoker {
	s.handlers[agentID] = h
	return s
}

func (s *scriptedInvoker) returns(agentID string, outputs map[string]any) *scriptedInvoker {
	return s.on(agentID, func(context.Context, llm.Request) (*llm.Result, error) {
		return okResult(outputs), nil
	})
}

func (s *scriptedInvoker) fails(agentID string, err error) *scriptedInvoker {
	return s.on(agentID, func(context.Context, llm.Request) (*llm.Result, error) {
		return nil, err
	})
}

func (s *scriptedInvoker) Invoke(ctx context.Context, req llm.Request) (*llm.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	h := s.handlers[req.Agent.ID]
	s.mu.Unlock()

	if h != nil {
		return h(ctx, req)
	}
	return okResult(map[string]any{req.Agent.PrimaryOutput().ID: "out-" + req.Agent.ID}), nil
}

func (s *scriptedInvoker) Calls() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.calls...)
}

// CallOrder lists invoked agent IDs in order.
func (s *scriptedInvoker) CallOrder() []string {
	var out []string
	for _, c := range s.Calls() {
		out = append(out, c.Agent.ID)
	}
	return out
}

// Request returns the last request made for agentID.
func (s *scriptedInvoker) Request(agentID string) (llm.Request, bool) {
	calls := s.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Agent.ID == agentID {
			return calls[i], true
		}
	}
	return llm.Request{}, false
}

func okResult(outputs map[string]any) *llm.Result {
	return &llm.Result{
		Success: true,
		Outputs: outputs,
		Usage:   llm.Usage{Tokens: 10, Cost: 0.01},
		Model:   "gpt-test",
		Decode:  schema.DecodeOK,
	}
}

// --- engine wiring ---

var testCreds = credentials.Static{Creds: credentials.Credentials{APIKey: "sk-test"}}

func testRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond, Backoff: BackoffConstant}
}

func newTestExecutor(t *testing.T, inv llm.Invoker, app EventAppender) *NodeExecutor {
	t.Helper()
	x, err := NewNodeExecutor(inv, NewNodeFSM(app), app,
		ExecutorConfig{Retry: testRetry(), DefaultModel: "gpt-default"}, logging.Discard())
	require.NoError(t, err)
	return x
}

func newTestCoordinator(t *testing.T, inv llm.Invoker, cycles CyclePolicy, provider credentials.Provider) (*Coordinator, *mockAppender) {
	t.Helper()
	app := &mockAppender{}
	fsm := NewNodeFSM(app)
	x, err := NewNodeExecutor(inv, fsm, app,
		ExecutorConfig{Retry: testRetry(), DefaultModel: "gpt-default"}, logging.Discard())
	require.NoError(t, err)
	return NewCoordinator(x, fsm, app, CoordinatorConfig{Cycles: cycles, Credentials: provider}, logging.Discard()), app
}

func resultNodes(wf *schema.Workflow) []*schema.Node {
	var out []*schema.Node
	for _, n := range wf.Nodes {
		if n.Kind == schema.NodeKindResult {
			out = append(out, n)
		}
	}
	return out
}
