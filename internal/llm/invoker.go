// Package llm invokes agents against an OpenAI-compatible chat completions API
// and normalizes the raw completion into typed agent outputs.
package llm

import (
	"context"

	"github.com/rendis/agentgraph/pkg/schema"
)

// Invoker turns a resolved prompt and configuration into agent outputs.
// Transport-level failures are returned as errors; a completed call whose
// payload could not be used reports Success=false with Error set.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// Config is the per-call model configuration.
type Config struct {
	Model       string  `json:"model"`
	APIKey      string  `json:"-"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Request is one agent invocation.
type Request struct {
	Agent         *schema.AgentDefinition
	Prompt        string
	Inputs        map[string]any
	GlobalContext map[string]any
	Config        Config
}

// Usage reports token consumption and the derived cost of one call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Tokens           int     `json:"tokens"`
	Cost             float64 `json:"cost"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.Tokens += other.Tokens
	u.Cost += other.Cost
}

// Result is the outcome of one invocation.
type Result struct {
	Success bool                `json:"success"`
	Outputs map[string]any      `json:"outputs,omitempty"`
	Error   string              `json:"error,omitempty"`
	Usage   Usage               `json:"usage"`
	Model   string              `json:"model,omitempty"`
	Decode  schema.DecodeStatus `json:"decode,omitempty"`
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req Request) (*Result, error)

func (f InvokerFunc) Invoke(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
