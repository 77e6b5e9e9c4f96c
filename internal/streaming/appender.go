package streaming

import (
	"context"
	"log/slog"

	"github.com/rendis/agentgraph/internal/store"
)

// Appender is the write side of the run event log.
type Appender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// TeeAppender persists events through the wrapped Appender and then publishes
// them to a hub. Publishing happens only after a successful append, so live
// subscribers never see an event the log does not have.
type TeeAppender struct {
	next   Appender
	hub    EventHub
	logger *slog.Logger
}

// NewTeeAppender wraps next. A nil next publishes without persisting.
func NewTeeAppender(next Appender, hub EventHub, logger *slog.Logger) *TeeAppender {
	if logger == nil {
		logger = slog.Default()
	}
	return &TeeAppender{next: next, hub: hub, logger: logger}
}

func (t *TeeAppender) AppendEvent(ctx context.Context, event *store.Event) error {
	if t.next != nil {
		if err := t.next.AppendEvent(ctx, event); err != nil {
			return err
		}
	}
	if t.hub == nil {
		return nil
	}
	if err := t.hub.Publish(ctx, FromStoreEvent(event)); err != nil {
		t.logger.WarnContext(ctx, "publish run event",
			slog.String("event", event.Type), slog.String("error", err.Error()))
	}
	return nil
}

// FromStoreEvent converts a persisted event to its streaming form.
func FromStoreEvent(e *store.Event) StreamEvent {
	return StreamEvent{
		WorkflowID: e.WorkflowID,
		RunID:      e.RunID,
		NodeID:     e.NodeID,
		EventType:  e.Type,
		Sequence:   e.Sequence,
		Payload:    e.Payload,
		Timestamp:  e.Timestamp,
	}
}
