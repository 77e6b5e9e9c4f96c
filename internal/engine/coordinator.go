package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/agentgraph/internal/credentials"
	"github.com/rendis/agentgraph/internal/llm"
	"github.com/rendis/agentgraph/internal/logging"
	"github.com/rendis/agentgraph/internal/store"
	"github.com/rendis/agentgraph/pkg/schema"
)

// ContinuationPolicy decides what a node failure does to the rest of the run.
type ContinuationPolicy int

const (
	// FailFast aborts the run at the first failing node.
	FailFast ContinuationPolicy = iota
	// ContinueOnError records the failure and proceeds with the next node.
	ContinueOnError
)

func (p ContinuationPolicy) String() string {
	if p == ContinueOnError {
		return "continue_on_error"
	}
	return "fail_fast"
}

// ParseContinuationPolicy parses "fail_fast" or "continue_on_error". Empty means fail_fast.
func ParseContinuationPolicy(s string) (ContinuationPolicy, error) {
	switch s {
	case "", "fail_fast":
		return FailFast, nil
	case "continue_on_error":
		return ContinueOnError, nil
	}
	return FailFast, schema.NewErrorf(schema.ErrCodeValidation, "unknown continuation policy %q", s)
}

// CyclePolicy decides how nodes blocked by a cycle are handled.
type CyclePolicy int

const (
	// CycleStrict rejects the run before any node executes.
	CycleStrict CyclePolicy = iota
	// CycleSilentDrop leaves blocked nodes out of the order.
	CycleSilentDrop
)

// ParseCyclePolicy parses "strict" or "drop". Empty means strict.
func ParseCyclePolicy(s string) (CyclePolicy, error) {
	switch s {
	case "", "strict":
		return CycleStrict, nil
	case "drop":
		return CycleSilentDrop, nil
	}
	return CycleStrict, schema.NewErrorf(schema.ErrCodeValidation, "unknown cycle policy %q", s)
}

// NodeRunRecord is the outcome of one executed node, in execution order.
type NodeRunRecord struct {
	NodeID  string         `json:"node_id"`
	Outputs map[string]any `json:"outputs,omitempty"`
	Error   string         `json:"error,omitempty"`
	Code    string         `json:"code,omitempty"`
}

// RunResult summarizes a run.
type RunResult struct {
	RunID        string           `json:"run_id"`
	WorkflowID   string           `json:"workflow_id"`
	Policy       string           `json:"policy"`
	Status       schema.RunStatus `json:"status"`
	Order        []string         `json:"order,omitempty"`
	Records      []NodeRunRecord  `json:"records"`
	ResultNodeID string           `json:"result_node_id,omitempty"`
	Error        string           `json:"error,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
	Usage        llm.Usage        `json:"usage"`
}

// RunOptions parameterize one run.
type RunOptions struct {
	Policy ContinuationPolicy
	RunID  string // generated when empty
}

// CoordinatorConfig holds configuration for the coordinator.
type CoordinatorConfig struct {
	Cycles      CyclePolicy
	Credentials credentials.Provider
}

// Coordinator drives a workflow run: it resets prior state, executes the main
// node, then every scheduled node in order, one at a time.
type Coordinator struct {
	executor *NodeExecutor
	fsm      *NodeFSM
	appender EventAppender
	config   CoordinatorConfig
	logger   *slog.Logger

	executing sync.Map // workflow ID -> run ID, present only while a run is in progress
}

// NewCoordinator creates a Coordinator. appender may be nil.
func NewCoordinator(executor *NodeExecutor, fsm *NodeFSM, appender EventAppender, cfg CoordinatorConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		executor: executor,
		fsm:      fsm,
		appender: appender,
		config:   cfg,
		logger:   logger,
	}
}

// Executing reports whether a run of workflowID is in progress.
func (c *Coordinator) Executing(workflowID string) bool {
	_, ok := c.executing.Load(workflowID)
	return ok
}

// Run executes wf in memory and returns the run summary. The workflow's nodes,
// edges and global context are mutated; persisting them is the caller's job.
// In FailFast mode a node failure is also returned as the error.
func (c *Coordinator) Run(ctx context.Context, wf *schema.Workflow, opts RunOptions) (*RunResult, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	if _, busy := c.executing.LoadOrStore(wf.ID, runID); busy {
		return nil, schema.NewErrorf(schema.ErrCodeRunInProgress, "workflow %q is already executing", wf.ID)
	}
	defer c.executing.Delete(wf.ID)
	ctx = logging.WithRunID(logging.WithWorkflowID(ctx, wf.ID), runID)

	result := &RunResult{
		RunID:      runID,
		WorkflowID: wf.ID,
		Policy:     opts.Policy.String(),
		Status:     schema.RunStatusRunning,
		Records:    []NodeRunRecord{},
		StartedAt:  time.Now().UTC(),
	}

	if err := c.reset(ctx, wf, runID); err != nil {
		return c.finish(ctx, nil, wf, result, err)
	}

	ec := NewExecutionContext(runID, wf, opts.Policy, c.config.Credentials, c.logger)
	if err := ec.Graph.Validate(wf); err != nil {
		return c.finish(ctx, ec, wf, result, err)
	}
	main, err := ec.Graph.Main()
	if err != nil {
		return c.finish(ctx, ec, wf, result, err)
	}

	sched := Analyze(ec.Graph, main.ID)
	if sched.HasCycle() {
		if c.config.Cycles == CycleStrict {
			return c.finish(ctx, ec, wf, result, schema.NewErrorf(schema.ErrCodeGraphIntegrity,
				"cycle blocks %d reachable node(s)", len(sched.Unscheduled)).
				WithDetails(map[string]any{"nodes": sched.Unscheduled}))
		}
		c.logger.WarnContext(ctx, "dropping nodes blocked by a cycle", slog.Any("nodes", sched.Unscheduled))
	}
	if len(sched.Unreachable) > 0 {
		c.logger.DebugContext(ctx, "nodes unreachable from main agent", slog.Any("nodes", sched.Unreachable))
	}
	result.Order = sched.Order

	c.emit(ctx, wf.ID, runID, schema.EventRunStarted, map[string]any{
		"policy": result.Policy,
		"main":   main.ID,
		"order":  sched.Order,
	})

	if _, err := c.executor.Execute(ctx, ec, main); err != nil {
		return c.finish(ctx, ec, wf, result, err)
	}

	last := main
	for _, id := range sched.Order {
		node := ec.Graph.Node(id)
		if node.Kind == schema.NodeKindResult {
			continue
		}

		outputs, err := c.executor.Execute(ctx, ec, node)
		if err != nil {
			rec := NodeRunRecord{NodeID: id, Error: node.Error}
			var agErr *schema.AgentGraphError
			if errors.As(err, &agErr) {
				rec.Code = agErr.Code
			}
			if rec.Error == "" {
				rec.Error = err.Error()
			}
			result.Records = append(result.Records, rec)
			if opts.Policy == FailFast {
				return c.finish(ctx, ec, wf, result, err)
			}
			continue
		}
		result.Records = append(result.Records, NodeRunRecord{NodeID: id, Outputs: outputs})
		last = node
	}

	if opts.Policy == FailFast {
		result.ResultNodeID = c.appendResultNode(ctx, ec, last)
	}
	return c.finish(ctx, ec, wf, result, nil)
}

// reset returns every agent node to idle, clears outputs and errors, and removes
// result nodes left by earlier runs together with their edges.
func (c *Coordinator) reset(ctx context.Context, wf *schema.Workflow, runID string) error {
	results := make(map[string]bool)
	nodes := wf.Nodes[:0:0]
	for _, n := range wf.Nodes {
		if n.Kind == schema.NodeKindResult {
			results[n.ID] = true
			continue
		}
		nodes = append(nodes, n)
	}
	edges := wf.Edges[:0:0]
	for _, e := range wf.Edges {
		if results[e.Source] || results[e.Target] {
			continue
		}
		edges = append(edges, e)
	}
	wf.Nodes, wf.Edges = nodes, edges

	for _, n := range wf.Nodes {
		if n.Kind == "" {
			n.Kind = schema.NodeKindAgent
		}
		if n.Status != "" && n.Status != schema.NodeStatusIdle {
			if err := c.fsm.Transition(ctx, wf.ID, runID, n, schema.NodeStatusIdle, nil); err != nil {
				return err
			}
		}
		n.Status = schema.NodeStatusIdle
		n.Outputs = nil
		n.Error = ""
	}
	return nil
}

// appendResultNode adds the terminal result node fed by last and returns its ID.
func (c *Coordinator) appendResultNode(ctx context.Context, ec *ExecutionContext, last *schema.Node) string {
	id := "result-" + ec.RunID
	outputs := maps.Clone(last.Outputs)
	node := &schema.Node{
		ID:      id,
		Kind:    schema.NodeKindResult,
		Status:  schema.NodeStatusCompleted,
		Outputs: outputs,
		Result: &schema.ResultPayload{
			RunID:     ec.RunID,
			Status:    schema.RunStatusCompleted,
			Outputs:   outputs,
			Model:     ec.LastModel(),
			SourceID:  last.ID,
			Timestamp: time.Now().UTC(),
		},
	}
	ec.Workflow.Nodes = append(ec.Workflow.Nodes, node)
	ec.Workflow.Edges = append(ec.Workflow.Edges, schema.Edge{ID: uuid.NewString(), Source: last.ID, Target: id})

	c.emit(ctx, ec.Workflow.ID, ec.RunID, schema.EventResultCreated, map[string]any{"node_id": id, "source_id": last.ID})
	return id
}

func (c *Coordinator) finish(ctx context.Context, ec *ExecutionContext, wf *schema.Workflow, result *RunResult, runErr error) (*RunResult, error) {
	result.CompletedAt = time.Now().UTC()
	if ec != nil {
		wf.GlobalContext = ec.Context.Snapshot()
		result.Usage = ec.Usage
	}

	failed := 0
	for _, r := range result.Records {
		if r.Error != "" {
			failed++
		}
	}
	switch {
	case runErr != nil:
		result.Status = schema.RunStatusFailed
		result.Error = runErr.Error()
	case failed > 0 && failed == len(result.Records):
		result.Status = schema.RunStatusFailed
		result.Error = fmt.Sprintf("all %d node(s) failed", failed)
	case failed > 0:
		result.Status = schema.RunStatusPartial
	default:
		result.Status = schema.RunStatusCompleted
	}

	payload := map[string]any{
		"status":  result.Status,
		"records": len(result.Records),
		"failed":  failed,
		"tokens":  result.Usage.Tokens,
	}
	if result.Status == schema.RunStatusFailed {
		payload["error"] = result.Error
		c.emit(ctx, wf.ID, result.RunID, schema.EventRunFailed, payload)
		c.logger.WarnContext(ctx, "run failed", slog.String("error", result.Error))
	} else {
		c.emit(ctx, wf.ID, result.RunID, schema.EventRunCompleted, payload)
		c.logger.InfoContext(ctx, "run finished",
			slog.String("status", string(result.Status)),
			slog.Int("nodes", len(result.Records)),
			slog.Duration("elapsed", result.CompletedAt.Sub(result.StartedAt)),
		)
	}
	return result, runErr
}

func (c *Coordinator) emit(ctx context.Context, workflowID, runID, eventType string, payload map[string]any) {
	if c.appender == nil {
		return
	}
	ev := &store.Event{RunID: runID, WorkflowID: workflowID, Type: eventType}
	if raw, err := jsonPayload(payload); err == nil {
		ev.Payload = raw
	}
	if err := c.appender.AppendEvent(ctx, ev); err != nil {
		c.logger.WarnContext(ctx, "failed to append run event",
			slog.String("event", eventType), slog.String("error", err.Error()))
	}
}
