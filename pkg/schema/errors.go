package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeGraphIntegrity     = "GRAPH_INTEGRITY"
	ErrCodeConfiguration      = "CONFIGURATION"
	ErrCodeTemplateResolution = "TEMPLATE_RESOLUTION"
	ErrCodeAgentInvocation    = "AGENT_INVOCATION"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeEvaluation         = "EVALUATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeRunInProgress      = "RUN_IN_PROGRESS"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeStore              = "STORE_ERROR"
	ErrCodeVault              = "VAULT_ERROR"
)

// AgentGraphError is the structured error type for all engine operations.
type AgentGraphError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
	Cause     error          `json:"-"`
}

func (e *AgentGraphError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AgentGraphError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the failure is transient.
func (e *AgentGraphError) IsRetryable() bool {
	return e.Retryable || e.Code == ErrCodeRateLimited
}

// NewError creates a new AgentGraphError.
func NewError(code, message string) *AgentGraphError {
	return &AgentGraphError{Code: code, Message: message}
}

// NewErrorf creates a new AgentGraphError with a formatted message.
func NewErrorf(code, format string, args ...any) *AgentGraphError {
	return &AgentGraphError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *AgentGraphError) WithNode(nodeID string) *AgentGraphError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *AgentGraphError) WithCause(err error) *AgentGraphError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *AgentGraphError) WithDetails(details map[string]any) *AgentGraphError {
	e.Details = details
	return e
}

// AsRetryable marks the error as transient.
func (e *AgentGraphError) AsRetryable() *AgentGraphError {
	e.Retryable = true
	return e
}

// HasCode reports whether err (or anything it wraps) is an AgentGraphError with the given code.
func HasCode(err error, code string) bool {
	var agErr *AgentGraphError
	if errors.As(err, &agErr) {
		return agErr.Code == code
	}
	return false
}
