// Package streaming fans run and node events out to live subscribers.
package streaming

import (
	"context"
	"encoding/json"
	"time"
)

// StreamEvent is a real-time event emitted while a workflow runs.
type StreamEvent struct {
	WorkflowID string          `json:"workflow_id"`
	RunID      string          `json:"run_id"`
	NodeID     string          `json:"node_id,omitempty"`
	EventType  string          `json:"event_type"`
	Sequence   int64           `json:"sequence,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// EventFilter selects the events a subscriber receives. Empty fields match everything.
type EventFilter struct {
	WorkflowID string   `json:"workflow_id,omitempty"`
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
