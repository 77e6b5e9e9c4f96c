package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/agentgraph/internal/engine"
	"github.com/rendis/agentgraph/internal/runner"
	"github.com/rendis/agentgraph/internal/store"
	"github.com/rendis/agentgraph/internal/streaming"
	"github.com/rendis/agentgraph/pkg/schema"
)

// WorkflowRunner is the subset of the runner the tools drive.
type WorkflowRunner interface {
	Run(ctx context.Context, workflowID string, policy *engine.ContinuationPolicy) (*engine.RunResult, error)
	Order(ctx context.Context, workflowID string) (*runner.OrderView, error)
	Status(ctx context.Context, runID string) (*runner.RunView, error)
	Runs(ctx context.Context, workflowID string, limit int) ([]*store.Run, error)
	Workflow(ctx context.Context, workflowID string) (*schema.Workflow, error)
}

// WorkflowLister lists stored workflows.
type WorkflowLister interface {
	ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*store.WorkflowSummary, error)
}

// AgentCatalog exposes the known agent definitions.
type AgentCatalog interface {
	Agents() []*schema.AgentDefinition
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runner    WorkflowRunner
	Workflows WorkflowLister
	Catalog   AgentCatalog
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// Server wraps an MCP server with the agentgraph tool handlers.
type Server struct {
	runner    WorkflowRunner
	workflows WorkflowLister
	catalog   AgentCatalog
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  *RunNotifier
	mcpServer *server.MCPServer
}

// NewServer creates a Server with every tool registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		runner:    deps.Runner,
		workflows: deps.Workflows,
		catalog:   deps.Catalog,
		hub:       deps.Hub,
		logger:    logger,
		sessions:  NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"agentgraph",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("agentgraph runs graphs of LLM agents. Use workflow.order to preview the execution order, workflow.run to execute a stored workflow, workflow.status to inspect a run, workflow.diagram to render the graph, and workflow.list or agents.list to discover what exists."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewRunNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin
// closes. Run events are relayed to the session that started the run.
func (s *Server) Serve(ctx context.Context) error {
	if s.hub != nil {
		go func() {
			if err := s.notifier.Relay(ctx, s.hub); err != nil {
				s.logger.WarnContext(ctx, "run event relay stopped", slog.String("error", err.Error()))
			}
		}()
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: orderTool(), Handler: s.handleOrder},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: agentsTool(), Handler: s.handleAgents},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("workflow.run",
		mcp.WithDescription("Execute a stored workflow from its main agent to the result node"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to execute")),
		mcp.WithString("policy",
			mcp.Enum("fail_fast", "continue_on_error"),
			mcp.Description("Continuation policy (default: server configuration)"),
		),
	)
}

func orderTool() mcp.Tool {
	return mcp.NewTool("workflow.order",
		mcp.WithDescription("Compute the execution order of a workflow without running it"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("workflow.status",
		mcp.WithDescription("Get the status of a run, or the recent runs of a workflow"),
		mcp.WithString("run_id", mcp.Description("ID of the run to inspect")),
		mcp.WithString("workflow_id", mcp.Description("List recent runs of this workflow when run_id is omitted")),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to list (default: 10)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("workflow.diagram",
		mcp.WithDescription("Render a workflow graph as ASCII art, Mermaid flowchart syntax, or a base64-encoded PNG image"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format"),
		),
		mcp.WithString("run_id", mcp.Description("Overlay node states recorded by this run")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("workflow.list",
		mcp.WithDescription("List stored workflows"),
		mcp.WithString("user_id", mcp.Description("Only workflows owned by this user")),
		mcp.WithNumber("limit", mcp.Description("Maximum workflows to return (default: 50)")),
	)
}

func agentsTool() mcp.Tool {
	return mcp.NewTool("agents.list",
		mcp.WithDescription("List the agent definitions workflows can reference"),
		mcp.WithString("category", mcp.Description("Only agents of this category")),
	)
}
