package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rendis/agentgraph/internal/streaming"
)

// keepAliveInterval spaces SSE comments that keep idle proxies from closing the stream.
var keepAliveInterval = 15 * time.Second

// GET /api/v1/events?workflow_id=&run_id=&types=a,b
func (s *Server) streamEvents(c echo.Context) error {
	return s.serveSSE(c, streaming.EventFilter{
		WorkflowID: c.QueryParam("workflow_id"),
		RunID:      c.QueryParam("run_id"),
		EventTypes: queryList(c, "types"),
	})
}

// GET /api/v1/workflows/:id/events
func (s *Server) streamWorkflowEvents(c echo.Context) error {
	return s.serveSSE(c, streaming.EventFilter{
		WorkflowID: c.Param("id"),
		RunID:      c.QueryParam("run_id"),
		EventTypes: queryList(c, "types"),
	})
}

// serveSSE is the common SSE implementation.
func (s *Server) serveSSE(c echo.Context, filter streaming.EventFilter) error {
	ctx := c.Request().Context()
	ch, cancel, err := s.deps.Hub.Subscribe(ctx, filter)
	if err != nil {
		s.deps.Logger.ErrorContext(ctx, "SSE subscribe failed", slog.String("error", err.Error()))
		return err
	}
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			w.Flush()
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if event.Sequence > 0 {
				fmt.Fprintf(w, "id: %d\n", event.Sequence)
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			w.Flush()
		}
	}
}
