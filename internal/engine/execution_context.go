package engine

import (
	"log/slog"
	"time"

	"github.com/rendis/agentgraph/internal/credentials"
	"github.com/rendis/agentgraph/internal/graph"
	"github.com/rendis/agentgraph/internal/llm"
	"github.com/rendis/agentgraph/pkg/schema"
)

// ExecutionContext carries the state of one run. It is created by the
// Coordinator at run start and handed by reference to every node execution.
type ExecutionContext struct {
	RunID       string
	Workflow    *schema.Workflow
	Graph       *graph.Graph
	Context     *ContextStore
	Credentials credentials.Provider
	Policy      ContinuationPolicy
	Logger      *slog.Logger
	StartedAt   time.Time

	Usage     llm.Usage
	lastModel string
}

// NewExecutionContext builds the context for a run over wf. The ContextStore is
// seeded with the workflow's declared variables.
func NewExecutionContext(runID string, wf *schema.Workflow, policy ContinuationPolicy, provider credentials.Provider, logger *slog.Logger) *ExecutionContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionContext{
		RunID:       runID,
		Workflow:    wf,
		Graph:       graph.New(wf),
		Context:     NewContextStore(wf.Variables),
		Credentials: provider,
		Policy:      policy,
		Logger:      logger,
		StartedAt:   time.Now().UTC(),
	}
}

// LastModel returns the model used by the most recent successful invocation.
func (ec *ExecutionContext) LastModel() string {
	return ec.lastModel
}
