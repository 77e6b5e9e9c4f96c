package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/agentgraph/internal/diagram"
	"github.com/rendis/agentgraph/internal/engine"
	"github.com/rendis/agentgraph/internal/store"
	"github.com/rendis/agentgraph/pkg/schema"
)

// handleRun executes a stored workflow and returns the run summary. A run
// that fails after starting is still reported as a result, not a tool error.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	var policy *engine.ContinuationPolicy
	if raw := req.GetString("policy", ""); raw != "" {
		p, perr := engine.ParseContinuationPolicy(raw)
		if perr != nil {
			return mcp.NewToolResultError(perr.Error()), nil
		}
		policy = &p
	}

	s.captureSession(ctx, workflowID)

	res, runErr := s.runner.Run(ctx, workflowID, policy)
	if res == nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow run failed: %v", runErr)), nil
	}
	return marshalResult(res)
}

// handleOrder returns the planned execution order.
func (s *Server) handleOrder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	view, orderErr := s.runner.Order(ctx, workflowID)
	if orderErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("order failed: %v", orderErr)), nil
	}
	return marshalResult(view)
}

// handleStatus returns one run with its node states, or the recent runs of a workflow.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if runID := req.GetString("run_id", ""); runID != "" {
		view, err := s.runner.Status(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", err)), nil
		}
		return marshalResult(view)
	}

	workflowID := req.GetString("workflow_id", "")
	if workflowID == "" {
		return mcp.NewToolResultError("one of run_id or workflow_id is required"), nil
	}
	runs, err := s.runner.Runs(ctx, workflowID, req.GetInt("limit", 10))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", err)), nil
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	return marshalResult(map[string]any{"workflow_id": workflowID, "runs": runs})
}

// handleDiagram renders the workflow graph, optionally overlaid with a run's node states.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	wf, wfErr := s.runner.Workflow(ctx, workflowID)
	if wfErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow not found: %v", wfErr)), nil
	}

	var states map[string]*store.NodeState
	if runID := req.GetString("run_id", ""); runID != "" {
		view, viewErr := s.runner.Status(ctx, runID)
		if viewErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", viewErr)), nil
		}
		if view.Run.WorkflowID != workflowID {
			return mcp.NewToolResultError(fmt.Sprintf("run %q does not belong to workflow %q", runID, workflowID)), nil
		}
		states = view.Nodes
	}

	model, buildErr := diagram.Build(wf, states)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

// handleList lists stored workflows.
func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.workflows == nil {
		return mcp.NewToolResultError("workflow listing is not available"), nil
	}
	workflows, err := s.workflows.ListWorkflows(ctx, store.WorkflowFilter{
		UserID: req.GetString("user_id", ""),
		Limit:  req.GetInt("limit", 50),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if workflows == nil {
		workflows = []*store.WorkflowSummary{}
	}
	return marshalResult(map[string]any{"workflows": workflows})
}

// handleAgents lists the catalog, optionally filtered by category.
func (s *Server) handleAgents(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.catalog == nil {
		return mcp.NewToolResultError("agent catalog is not available"), nil
	}
	category := schema.Category(req.GetString("category", ""))
	agents := make([]*schema.AgentDefinition, 0)
	for _, def := range s.catalog.Agents() {
		if category != "" && def.Category != category {
			continue
		}
		agents = append(agents, def)
	}
	return marshalResult(map[string]any{"agents": agents})
}

// --- Internal helpers ---

// captureSession routes events of workflowID to the calling MCP session.
func (s *Server) captureSession(ctx context.Context, workflowID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(workflowID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
