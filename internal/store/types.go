package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/agentgraph/pkg/schema"
)

// WorkflowSummary is the listing view of a stored workflow.
type WorkflowSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Schedule  string    `json:"schedule,omitempty"`
	NodeCount int       `json:"node_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Run is the persisted record of one workflow execution.
type Run struct {
	ID           string           `json:"id"`
	WorkflowID   string           `json:"workflow_id"`
	Policy       string           `json:"policy"`
	Status       schema.RunStatus `json:"status"`
	Records      json.RawMessage  `json:"records,omitempty"`
	ResultNodeID string           `json:"result_node_id,omitempty"`
	Error        string           `json:"error,omitempty"`
	Tokens       int              `json:"tokens"`
	Cost         float64          `json:"cost"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// Event is an immutable entry in a run's node event log.
type Event struct {
	ID         int64           `json:"id"`
	RunID      string          `json:"run_id"`
	WorkflowID string          `json:"workflow_id"`
	NodeID     string          `json:"node_id,omitempty"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// NodeState is a node's status reconstructed from the event log.
type NodeState struct {
	NodeID      string            `json:"node_id"`
	Status      schema.NodeStatus `json:"status"`
	Error       json.RawMessage   `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	UserID    string `json:"user_id,omitempty"`
	Scheduled bool   `json:"scheduled,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status       *schema.RunStatus `json:"status,omitempty"`
	Records      json.RawMessage   `json:"records,omitempty"`
	ResultNodeID string            `json:"result_node_id,omitempty"`
	Error        string            `json:"error,omitempty"`
	Tokens       int               `json:"tokens,omitempty"`
	Cost         float64           `json:"cost,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	WorkflowID string            `json:"workflow_id,omitempty"`
	Status     *schema.RunStatus `json:"status,omitempty"`
	Limit      int               `json:"limit,omitempty"`
}
