// Package runner runs stored workflows: it loads them, drives the coordinator,
// saves the mutated document and keeps the run history.
package runner

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/agentgraph/internal/engine"
	"github.com/rendis/agentgraph/internal/metrics"
	"github.com/rendis/agentgraph/internal/store"
	"github.com/rendis/agentgraph/pkg/schema"
)

// Runner executes stored workflows and records each run.
type Runner struct {
	store       store.Store
	repo        *store.Repository
	events      *store.EventLog
	coordinator *engine.Coordinator
	metrics     *metrics.Collector
	policy      engine.ContinuationPolicy
	logger      *slog.Logger
}

// Config wires a Runner.
type Config struct {
	Store       store.Store
	Coordinator *engine.Coordinator
	FSM         *engine.NodeFSM // optional; transitions feed Metrics
	Metrics     *metrics.Collector
	Policy      engine.ContinuationPolicy // default when a caller passes none
	Logger      *slog.Logger
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Runner{
		store:       cfg.Store,
		repo:        store.NewRepository(cfg.Store),
		events:      store.NewEventLog(cfg.Store),
		coordinator: cfg.Coordinator,
		metrics:     cfg.Metrics,
		policy:      cfg.Policy,
		logger:      cfg.Logger,
	}
	if cfg.FSM != nil && cfg.Metrics != nil {
		cfg.FSM.Observe(func(_ context.Context, t engine.Transition) error {
			cfg.Metrics.NodeTransition(string(t.To))
			return nil
		})
	}
	return r
}

// DefaultPolicy returns the policy used when Run gets nil.
func (r *Runner) DefaultPolicy() engine.ContinuationPolicy {
	return r.policy
}

// Executing reports whether workflowID has a run in progress.
func (r *Runner) Executing(workflowID string) bool {
	return r.coordinator.Executing(workflowID)
}

// Run loads workflowID, executes it and persists both the workflow and the
// run record. A nil policy selects the runner's default. The returned result
// is non-nil whenever a run record was created.
func (r *Runner) Run(ctx context.Context, workflowID string, policy *engine.ContinuationPolicy) (*engine.RunResult, error) {
	if r.coordinator.Executing(workflowID) {
		return nil, schema.NewErrorf(schema.ErrCodeRunInProgress, "workflow %q is already executing", workflowID)
	}

	wf, err := r.repo.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	opts := engine.RunOptions{Policy: r.policy, RunID: uuid.NewString()}
	if policy != nil {
		opts.Policy = *policy
	}

	run := &store.Run{
		ID:         opts.RunID,
		WorkflowID: workflowID,
		Policy:     opts.Policy.String(),
		Status:     schema.RunStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create run: %s", err.Error()).WithCause(err)
	}

	if r.metrics != nil {
		r.metrics.RunStarted()
	}
	res, runErr := r.coordinator.Run(ctx, wf, opts)
	if res == nil {
		// Lost the race for the executing flag; nothing ran.
		r.closeRun(ctx, run.ID, &engine.RunResult{
			RunID:       run.ID,
			WorkflowID:  workflowID,
			Policy:      run.Policy,
			Status:      schema.RunStatusFailed,
			Error:       runErr.Error(),
			StartedAt:   run.StartedAt,
			CompletedAt: time.Now().UTC(),
		})
		return nil, runErr
	}

	if _, err := r.repo.Save(ctx, workflowID, wf); err != nil {
		r.logger.ErrorContext(ctx, "failed to save workflow after run",
			slog.String("workflow_id", workflowID), slog.String("run_id", res.RunID), slog.String("error", err.Error()))
		if runErr == nil {
			runErr = err
			res.Status = schema.RunStatusFailed
			res.Error = err.Error()
		}
	}
	r.closeRun(ctx, run.ID, res)
	return res, runErr
}

func (r *Runner) closeRun(ctx context.Context, runID string, res *engine.RunResult) {
	if r.metrics != nil {
		r.metrics.RunFinished(res.Policy, string(res.Status), res.CompletedAt.Sub(res.StartedAt), res.Usage.Tokens, res.Usage.Cost)
	}

	records, err := json.Marshal(res.Records)
	if err != nil {
		r.logger.WarnContext(ctx, "encode run records", slog.String("error", err.Error()))
		records = nil
	}
	status := res.Status
	completed := res.CompletedAt
	update := store.RunUpdate{
		Status:       &status,
		Records:      records,
		ResultNodeID: res.ResultNodeID,
		Error:        res.Error,
		Tokens:       res.Usage.Tokens,
		Cost:         res.Usage.Cost,
		CompletedAt:  &completed,
	}
	if err := r.store.UpdateRun(ctx, runID, update); err != nil {
		r.logger.ErrorContext(ctx, "failed to update run record",
			slog.String("run_id", runID), slog.String("error", err.Error()))
	}
}

// Order returns the execution schedule of workflowID without running it.
func (r *Runner) Order(ctx context.Context, workflowID string) (*OrderView, error) {
	wf, err := r.repo.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	ec := engine.NewExecutionContext("", wf, r.policy, nil, r.logger)
	if err := ec.Graph.Validate(wf); err != nil {
		return nil, err
	}
	main, err := ec.Graph.Main()
	if err != nil {
		return nil, err
	}
	sched := engine.Analyze(ec.Graph, main.ID)
	return &OrderView{
		WorkflowID:  workflowID,
		Main:        main.ID,
		Order:       sched.Order,
		Unscheduled: sched.Unscheduled,
		Unreachable: sched.Unreachable,
	}, nil
}

// OrderView is the planned execution order of a workflow.
type OrderView struct {
	WorkflowID  string   `json:"workflow_id"`
	Main        string   `json:"main"`
	Order       []string `json:"order"`
	Unscheduled []string `json:"unscheduled,omitempty"`
	Unreachable []string `json:"unreachable,omitempty"`
}

// RunView is a stored run with node states replayed from its event log.
type RunView struct {
	Run       *store.Run                  `json:"run"`
	Records   []engine.NodeRunRecord      `json:"records,omitempty"`
	Nodes     map[string]*store.NodeState `json:"nodes"`
	Executing bool                        `json:"executing"`
}

// Status returns the stored run runID and its replayed node states.
func (r *Runner) Status(ctx context.Context, runID string) (*RunView, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	nodes, err := r.events.ReplayNodeStates(ctx, runID)
	if err != nil {
		return nil, err
	}
	view := &RunView{Run: run, Nodes: nodes, Executing: r.coordinator.Executing(run.WorkflowID)}
	if len(run.Records) > 0 {
		if err := json.Unmarshal(run.Records, &view.Records); err != nil {
			r.logger.WarnContext(ctx, "decode run records", slog.String("run_id", runID), slog.String("error", err.Error()))
		}
	}
	return view, nil
}

// Runs lists recent runs of workflowID, newest first.
func (r *Runner) Runs(ctx context.Context, workflowID string, limit int) ([]*store.Run, error) {
	return r.store.ListRuns(ctx, store.RunFilter{WorkflowID: workflowID, Limit: limit})
}

// Workflow returns the stored workflow with agent definitions resolved.
func (r *Runner) Workflow(ctx context.Context, workflowID string) (*schema.Workflow, error) {
	return r.repo.Load(ctx, workflowID)
}

// SaveWorkflow stores wf under workflowID.
func (r *Runner) SaveWorkflow(ctx context.Context, workflowID string, wf *schema.Workflow) (*schema.Workflow, error) {
	return r.repo.Save(ctx, workflowID, wf)
}
