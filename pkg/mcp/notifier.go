package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/agentgraph/internal/streaming"
)

const runEventMethod = "notifications/message"

// ClientSender delivers a notification to one MCP session.
type ClientSender interface {
	SendNotificationToSpecificClient(sessionID, method string, params map[string]any) error
}

// RunNotifier pushes run events to the session that started the run.
type RunNotifier struct {
	sender   ClientSender
	sessions *SessionRegistry
}

// NewRunNotifier creates a notifier that sends through sender.
func NewRunNotifier(sender ClientSender, sessions *SessionRegistry) *RunNotifier {
	return &RunNotifier{sender: sender, sessions: sessions}
}

// Notify sends event to the session watching its workflow.
// Best-effort: returns nil if no session is watching.
func (n *RunNotifier) Notify(_ context.Context, event streaming.StreamEvent) error {
	sessionID, ok := n.sessions.SessionFor(event.WorkflowID)
	if !ok {
		return nil
	}
	err := n.sender.SendNotificationToSpecificClient(sessionID, runEventMethod, notificationParams(event))
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session went away between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// Relay forwards hub events until ctx is cancelled.
func (n *RunNotifier) Relay(ctx context.Context, hub streaming.EventHub) error {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			_ = n.Notify(ctx, event)
		}
	}
}

func notificationParams(e streaming.StreamEvent) map[string]any {
	data := map[string]any{
		"workflow_id": e.WorkflowID,
		"run_id":      e.RunID,
		"event_type":  e.EventType,
		"sequence":    e.Sequence,
		"timestamp":   e.Timestamp,
	}
	if e.NodeID != "" {
		data["node_id"] = e.NodeID
	}
	if len(e.Payload) > 0 {
		data["payload"] = e.Payload
	}
	return map[string]any{"level": "info", "logger": "agentgraph", "data": data}
}
