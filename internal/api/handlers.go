package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rendis/agentgraph/internal/diagram"
	"github.com/rendis/agentgraph/internal/engine"
	"github.com/rendis/agentgraph/internal/store"
	"github.com/rendis/agentgraph/pkg/schema"
)

// savedWorkflow is the response of a create or update.
type savedWorkflow struct {
	Workflow *schema.Workflow         `json:"workflow"`
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
}

// GET /api/v1/workflows
func (s *Server) listWorkflows(c echo.Context) error {
	filter := store.WorkflowFilter{
		UserID: c.QueryParam("user_id"),
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	filter.Scheduled, _ = strconv.ParseBool(c.QueryParam("scheduled"))

	workflows, err := s.deps.Store.ListWorkflows(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if workflows == nil {
		workflows = []*store.WorkflowSummary{}
	}
	return c.JSON(http.StatusOK, workflows)
}

// POST /api/v1/workflows imports a workflow document. A missing id is generated.
func (s *Server) createWorkflow(c echo.Context) error {
	wf, err := s.decodeWorkflow(c)
	if err != nil {
		return err
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	return s.saveWorkflow(c, wf, http.StatusCreated)
}

// PUT /api/v1/workflows/:id
func (s *Server) putWorkflow(c echo.Context) error {
	wf, err := s.decodeWorkflow(c)
	if err != nil {
		return err
	}
	wf.ID = c.Param("id")
	return s.saveWorkflow(c, wf, http.StatusOK)
}

// POST /api/v1/workflows/:id/validate checks the stored workflow against the current catalog.
func (s *Server) validateWorkflow(c echo.Context) error {
	wf, err := s.deps.Store.GetWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.deps.Validator.Validate(wf))
}

func (s *Server) saveWorkflow(c echo.Context, wf *schema.Workflow, status int) error {
	if s.deps.Runner.Executing(wf.ID) {
		return schema.NewErrorf(schema.ErrCodeRunInProgress, "workflow %q is executing", wf.ID)
	}
	result := s.deps.Validator.Validate(wf)
	if err := result.ToError(); err != nil {
		return err
	}
	saved, err := s.deps.Runner.SaveWorkflow(c.Request().Context(), wf.ID, wf)
	if err != nil {
		return err
	}
	return c.JSON(status, savedWorkflow{Workflow: saved, Warnings: result.Warnings})
}

// decodeWorkflow validates the raw document before decoding so unknown
// fields are reported instead of dropped.
func (s *Server) decodeWorkflow(c echo.Context) (*schema.Workflow, error) {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}
	if err := s.deps.Validator.ValidateDocument(raw); err != nil {
		return nil, err
	}
	var wf schema.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode workflow: %s", err.Error()).WithCause(err)
	}
	return &wf, nil
}

// GET /api/v1/workflows/:id
func (s *Server) getWorkflow(c echo.Context) error {
	wf, err := s.deps.Store.GetWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wf)
}

// DELETE /api/v1/workflows/:id
func (s *Server) deleteWorkflow(c echo.Context) error {
	id := c.Param("id")
	if s.deps.Runner.Executing(id) {
		return schema.NewErrorf(schema.ErrCodeRunInProgress, "workflow %q is executing", id)
	}
	if err := s.deps.Store.DeleteWorkflow(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// GET /api/v1/workflows/:id/order
func (s *Server) getOrder(c echo.Context) error {
	view, err := s.deps.Runner.Order(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// GET /api/v1/workflows/:id/diagram?format=mermaid|ascii|png&run=<run-id>
func (s *Server) getDiagram(c echo.Context) error {
	ctx := c.Request().Context()
	wf, err := s.deps.Runner.Workflow(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	var states map[string]*store.NodeState
	if runID := c.QueryParam("run"); runID != "" {
		view, err := s.deps.Runner.Status(ctx, runID)
		if err != nil {
			return err
		}
		if view.Run.WorkflowID != wf.ID {
			return schema.NewErrorf(schema.ErrCodeNotFound, "run %q does not belong to workflow %q", runID, wf.ID)
		}
		states = view.Nodes
	}

	model, err := diagram.Build(wf, states)
	if err != nil {
		return schema.NewError(schema.ErrCodeGraphIntegrity, err.Error()).WithCause(err)
	}
	switch format := c.QueryParam("format"); format {
	case "", "mermaid":
		return c.String(http.StatusOK, diagram.RenderMermaid(model))
	case "ascii":
		return c.String(http.StatusOK, diagram.RenderASCII(model))
	case "png":
		png, err := diagram.RenderImage(model)
		if err != nil {
			return err
		}
		return c.Blob(http.StatusOK, "image/png", png)
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown diagram format %q", format)
	}
}

// POST /api/v1/workflows/:id/runs?policy=fail_fast|continue_on_error
//
// The run executes synchronously. A failed run still answers 200 with the
// run summary; only runs that never started map to an error status.
func (s *Server) startRun(c echo.Context) error {
	var policy *engine.ContinuationPolicy
	if raw := c.QueryParam("policy"); raw != "" {
		p, err := engine.ParseContinuationPolicy(raw)
		if err != nil {
			return err
		}
		policy = &p
	}

	res, err := s.deps.Runner.Run(c.Request().Context(), c.Param("id"), policy)
	if res == nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// GET /api/v1/workflows/:id/runs
func (s *Server) listRuns(c echo.Context) error {
	runs, err := s.deps.Runner.Runs(c.Request().Context(), c.Param("id"), queryInt(c, "limit", 20))
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

// GET /api/v1/runs/:id
func (s *Server) getRun(c echo.Context) error {
	view, err := s.deps.Runner.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// GET /api/v1/runs/:id/events?since=<sequence>
func (s *Server) getRunEvents(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("id")
	if _, err := s.deps.Store.GetRun(ctx, runID); err != nil {
		return err
	}
	since, _ := strconv.ParseInt(c.QueryParam("since"), 10, 64)
	events, err := s.deps.Store.GetEvents(ctx, runID, since)
	if err != nil {
		return err
	}
	if events == nil {
		events = []*store.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

// GET /api/v1/agents
func (s *Server) listAgents(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Catalog.Agents())
}

// GET /api/v1/agents/:id
func (s *Server) getAgent(c echo.Context) error {
	def, ok := s.deps.Catalog.LookupAgent(c.Param("id"))
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "agent %q not found", c.Param("id"))
	}
	return c.JSON(http.StatusOK, def)
}

// PUT /api/v1/agents/:id stores a definition and makes it visible to validation.
func (s *Server) putAgent(c echo.Context) error {
	var def schema.AgentDefinition
	if err := json.NewDecoder(c.Request().Body).Decode(&def); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "decode agent: %s", err.Error()).WithCause(err)
	}
	def.ID = c.Param("id")
	if err := s.deps.Validator.ValidateAgent(&def); err != nil {
		return err
	}
	if err := s.deps.Store.UpsertAgent(c.Request().Context(), &def); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "store agent %q", def.ID).WithCause(err)
	}
	s.deps.Catalog.Put(&def)
	return c.JSON(http.StatusOK, &def)
}
