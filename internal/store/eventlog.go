package store

import (
	"context"
	"fmt"

	"github.com/rendis/agentgraph/pkg/schema"
)

// EventLog provides replay on top of a Store's node event log.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store to provide event-sourcing operations.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event to the run's log.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	return el.store.AppendEvent(ctx, event)
}

// ReplayNodeStates replays all events for a run and returns the reconstructed node states.
// Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayNodeStates(ctx context.Context, runID string) (map[string]*NodeState, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	states := make(map[string]*NodeState)
	for _, e := range events {
		if e.NodeID == "" {
			continue
		}

		ns, ok := states[e.NodeID]
		if !ok {
			ns = &NodeState{NodeID: e.NodeID, Status: schema.NodeStatusIdle}
			states[e.NodeID] = ns
		}

		switch e.Type {
		case schema.EventNodeReset:
			ns.Status = schema.NodeStatusIdle
			ns.Error = nil
			ns.StartedAt, ns.CompletedAt = nil, nil

		case schema.EventNodeProcessing:
			ns.Status = schema.NodeStatusProcessing
			ts := e.Timestamp
			ns.StartedAt = &ts

		case schema.EventNodeCompleted, schema.EventNodeFailed:
			ns.Status = schema.NodeStatusCompleted
			if e.Type == schema.EventNodeFailed {
				ns.Status = schema.NodeStatusError
				ns.Error = e.Payload
			}
			ts := e.Timestamp
			ns.CompletedAt = &ts
			if ns.StartedAt != nil {
				ns.DurationMs = ts.Sub(*ns.StartedAt).Milliseconds()
			}
		}
	}

	return states, nil
}
