// Package api exposes workflows, runs, agents and live run events over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/agentgraph/internal/catalog"
	"github.com/rendis/agentgraph/internal/metrics"
	"github.com/rendis/agentgraph/internal/runner"
	"github.com/rendis/agentgraph/internal/store"
	"github.com/rendis/agentgraph/internal/streaming"
	"github.com/rendis/agentgraph/internal/validation"
	"github.com/rendis/agentgraph/pkg/schema"
)

// Deps holds the dependencies of the API server.
type Deps struct {
	Runner    *runner.Runner
	Store     store.Store
	Catalog   *catalog.Catalog
	Validator *validation.WorkflowValidator // built over Catalog
	Hub       streaming.EventHub
	Metrics   *metrics.Collector  // optional
	Gatherer  prometheus.Gatherer // optional; enables GET /metrics
	Logger    *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	deps Deps
	echo *echo.Echo
}

// NewServer creates a Server with all routes registered.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{deps: deps, echo: echo.New()}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(s.observe)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := e.Group("/api/v1")
	v1.GET("/workflows", s.listWorkflows)
	v1.POST("/workflows", s.createWorkflow)
	v1.GET("/workflows/:id", s.getWorkflow)
	v1.PUT("/workflows/:id", s.putWorkflow)
	v1.DELETE("/workflows/:id", s.deleteWorkflow)
	v1.POST("/workflows/:id/validate", s.validateWorkflow)
	v1.GET("/workflows/:id/order", s.getOrder)
	v1.GET("/workflows/:id/diagram", s.getDiagram)
	v1.POST("/workflows/:id/runs", s.startRun)
	v1.GET("/workflows/:id/runs", s.listRuns)
	v1.GET("/workflows/:id/events", s.streamWorkflowEvents)

	v1.GET("/runs/:id", s.getRun)
	v1.GET("/runs/:id/events", s.getRunEvents)

	v1.GET("/agents", s.listAgents)
	v1.GET("/agents/:id", s.getAgent)
	v1.PUT("/agents/:id", s.putAgent)

	v1.GET("/events", s.streamEvents)
	return s
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// observe records request metrics and logs each request once its status is final.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		req, res := c.Request(), c.Response()
		elapsed := time.Since(start)
		if s.deps.Metrics != nil {
			s.deps.Metrics.HTTPRequest(req.Method, c.Path(), res.Status, elapsed)
		}
		s.deps.Logger.DebugContext(req.Context(), "http request",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("status", res.Status),
			slog.Duration("elapsed", elapsed),
		)
		return nil
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error *schema.AgentGraphError `json:"error"`
}

// handleError maps AgentGraphError codes and echo errors onto HTTP responses.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		agErr   *schema.AgentGraphError
		httpErr *echo.HTTPError
		status  int
	)
	switch {
	case errors.As(err, &agErr):
		status = statusFor(agErr.Code)
	case errors.As(err, &httpErr):
		status = httpErr.Code
		agErr = schema.NewErrorf(codeFor(status), "%v", httpErr.Message)
	default:
		status = http.StatusInternalServerError
		agErr = schema.NewError("INTERNAL", err.Error())
	}
	if status >= http.StatusInternalServerError {
		s.deps.Logger.ErrorContext(c.Request().Context(), "request failed",
			slog.String("path", c.Request().URL.Path), slog.String("error", err.Error()))
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, errorBody{Error: agErr})
}

func statusFor(code string) int {
	switch code {
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeValidation:
		return http.StatusBadRequest
	case schema.ErrCodeGraphIntegrity, schema.ErrCodeConfiguration:
		return http.StatusUnprocessableEntity
	case schema.ErrCodeRunInProgress, schema.ErrCodeInvalidTransition:
		return http.StatusConflict
	case schema.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case schema.ErrCodeAgentInvocation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func codeFor(status int) string {
	switch status {
	case http.StatusNotFound:
		return schema.ErrCodeNotFound
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		return schema.ErrCodeValidation
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	default:
		return "INTERNAL"
	}
}
