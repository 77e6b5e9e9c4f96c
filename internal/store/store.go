package store

import (
	"context"

	"github.com/rendis/agentgraph/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	SaveWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*WorkflowSummary, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Agent catalog
	UpsertAgent(ctx context.Context, agent *schema.AgentDefinition) error
	GetAgent(ctx context.Context, id string) (*schema.AgentDefinition, error)
	ListAgents(ctx context.Context) ([]*schema.AgentDefinition, error)

	// Run history
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// Node events (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)

	// Secrets
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
