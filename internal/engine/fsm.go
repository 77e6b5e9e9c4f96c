package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rendis/agentgraph/internal/store"
	"github.com/rendis/agentgraph/pkg/schema"
)

// Transition describes one node state change within a run.
type Transition struct {
	WorkflowID string
	RunID      string
	NodeID     string
	From       schema.NodeStatus
	To         schema.NodeStatus
	Payload    map[string]any
}

// TransitionHook is called before or after a node state transition.
type TransitionHook func(ctx context.Context, t Transition) error

// EventAppender is satisfied by the Store and EventLog; used by the FSM to emit events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

type nodeHookKey struct {
	from, to schema.NodeStatus
}

// NodeFSM manages node lifecycle state transitions.
type NodeFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[nodeHookKey][]TransitionHook
	after    map[nodeHookKey][]TransitionHook
	observe  []TransitionHook
}

// NewNodeFSM creates a NodeFSM that emits events via appender. A nil appender disables event emission.
func NewNodeFSM(appender EventAppender) *NodeFSM {
	return &NodeFSM{
		appender: appender,
		before:   make(map[nodeHookKey][]TransitionHook),
		after:    make(map[nodeHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a node transition. A hook error vetoes the transition.
func (f *NodeFSM) OnBefore(from, to schema.NodeStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := nodeHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a node transition.
func (f *NodeFSM) OnAfter(from, to schema.NodeStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := nodeHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Observe registers a hook called after every successful transition. Errors are ignored.
func (f *NodeFSM) Observe(hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observe = append(f.observe, hook)
}

// Transition validates the move from node.Status to `to`, emits the matching
// event and updates node.Status.
func (f *NodeFSM) Transition(ctx context.Context, workflowID, runID string, node *schema.Node, to schema.NodeStatus, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := node.Status
	if from == "" {
		from = schema.NodeStatusIdle
	}
	if !isValidNodeTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid node transition: %s -> %s", from, to).
			WithNode(node.ID).
			WithDetails(map[string]any{"workflow_id": workflowID, "from": string(from), "to": string(to)})
	}

	t := Transition{WorkflowID: workflowID, RunID: runID, NodeID: node.ID, From: from, To: to, Payload: payload}
	key := nodeHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(ctx, t); err != nil {
			return err
		}
	}

	if f.appender != nil {
		event := &store.Event{
			RunID:      runID,
			WorkflowID: workflowID,
			NodeID:     node.ID,
			Type:       nodeEventType(to),
		}
		if len(payload) > 0 {
			raw, err := json.Marshal(payload)
			if err != nil {
				return schema.NewErrorf(schema.ErrCodeStore, "encode node event payload: %s", err.Error()).
					WithNode(node.ID).WithCause(err)
			}
			event.Payload = raw
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit node event: %s", err.Error()).
				WithNode(node.ID).WithCause(err)
		}
	}

	node.Status = to

	for _, hook := range f.after[key] {
		if err := hook(ctx, t); err != nil {
			return err
		}
	}
	for _, hook := range f.observe {
		_ = hook(ctx, t)
	}
	return nil
}

func isValidNodeTransition(from, to schema.NodeStatus) bool {
	for _, a := range ValidNodeTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func nodeEventType(to schema.NodeStatus) string {
	switch to {
	case schema.NodeStatusProcessing:
		return schema.EventNodeProcessing
	case schema.NodeStatusCompleted:
		return schema.EventNodeCompleted
	case schema.NodeStatusError:
		return schema.EventNodeFailed
	default:
		return schema.EventNodeReset
	}
}

// ValidNodeTransitions defines the allowed state transitions for nodes.
// idle -> error covers input validation failures caught before invocation.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusIdle:       {schema.NodeStatusProcessing, schema.NodeStatusError},
	schema.NodeStatusProcessing: {schema.NodeStatusCompleted, schema.NodeStatusError, schema.NodeStatusIdle},
	schema.NodeStatusCompleted:  {schema.NodeStatusIdle},
	schema.NodeStatusError:      {schema.NodeStatusIdle},
}
