package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rendis/agentgraph/internal/expressions"
	"github.com/rendis/agentgraph/pkg/schema"
)

// ClientConfig configures an OpenAI-compatible chat completions client.
type ClientConfig struct {
	BaseURL      string        // e.g. https://api.openai.com
	EndpointPath string        // default /v1/chat/completions
	DefaultModel string        // used when neither agent nor credentials name a model
	Timeout      time.Duration // HTTP client timeout, default 60s
	RPS          float64       // outbound requests per second, 0 = unlimited
	Burst        int
	// StrictJSON turns an unparseable structured completion into a failed invocation
	// instead of wrapping the raw text.
	StrictJSON bool
}

// Client implements Invoker over HTTP.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	jq      Extractor
	tokens  *TokenCounter
	pricing *Pricing
	logger  *slog.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithPricing replaces the cost formulas.
func WithPricing(p *Pricing) ClientOption {
	return func(c *Client) { c.pricing = p }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig, opts ...ClientOption) *Client {
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		jq:      expressions.NewGoJQEngine(),
		tokens:  NewTokenCounter(""),
		pricing: NewPricing(nil),
		logger:  slog.Default(),
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Invoke sends the resolved prompt and maps the completion to agent outputs.
func (c *Client) Invoke(ctx context.Context, req Request) (*Result, error) {
	model := req.Config.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	if model == "" {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "no model configured")
	}
	if c.cfg.BaseURL == "" {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "llm base url is not configured")
	}

	structured := Structured(req.Agent)
	body := chatRequest{
		Model:     model,
		Messages:  buildMessages(req.Agent, req.Prompt, structured),
		MaxTokens: req.Config.MaxTokens,
	}
	if req.Config.Temperature > 0 {
		t := req.Config.Temperature
		body.Temperature = &t
	}
	if structured {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeRateLimited, "rate limiter: %s", err.Error()).WithCause(err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Config.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgentInvocation, "chat completion request failed: %s", err.Error()).
			WithCause(err).AsRetryable()
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgentInvocation, "read chat response: %s", err.Error()).
			WithCause(err).AsRetryable()
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, statusError(resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgentInvocation, "decode chat response: %s", err.Error()).WithCause(err)
	}
	if len(parsed.Choices) == 0 {
		return nil, schema.NewError(schema.ErrCodeAgentInvocation, "chat response has no choices")
	}
	content := parsed.Choices[0].Message.Content

	usage := c.usage(ctx, model, req.Prompt, content, parsed)
	c.logger.DebugContext(ctx, "chat completion",
		slog.String("model", model),
		slog.Int("tokens", usage.Tokens),
		slog.Duration("elapsed", time.Since(start)),
	)

	result := &Result{Usage: usage, Model: model}
	outputs, status, err := MapOutputs(ctx, c.jq, req.Agent, content)
	result.Decode = status
	switch {
	case err != nil:
		result.Error = err.Error()
	case status == schema.DecodeUnparseable && c.cfg.StrictJSON:
		result.Error = "structured response could not be decoded"
	default:
		result.Success = true
		result.Outputs = outputs
	}
	return result, nil
}

func (c *Client) endpoint() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.EndpointPath
}

func (c *Client) usage(ctx context.Context, model, prompt, content string, resp chatResponse) Usage {
	u := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Tokens:           resp.Usage.TotalTokens,
	}
	if u.Tokens == 0 && u.PromptTokens == 0 && u.CompletionTokens == 0 {
		u.PromptTokens = c.tokens.Count(prompt)
		u.CompletionTokens = c.tokens.Count(content)
	}
	if u.Tokens == 0 {
		u.Tokens = u.PromptTokens + u.CompletionTokens
	}
	cost, err := c.pricing.Cost(ctx, model, u.PromptTokens, u.CompletionTokens)
	if err != nil {
		c.logger.WarnContext(ctx, "pricing formula failed", slog.String("model", model), slog.String("error", err.Error()))
	}
	u.Cost = cost
	return u
}

func buildMessages(agent *schema.AgentDefinition, prompt string, structured bool) []chatMessage {
	var msgs []chatMessage
	if structured {
		var fields []string
		for _, o := range agent.Outputs {
			fields = append(fields, fmt.Sprintf("%q (%s)", o.ID, o.Type))
		}
		msgs = append(msgs, chatMessage{
			Role:    "system",
			Content: "Respond with a single JSON object and nothing else. Fields: " + strings.Join(fields, ", ") + ".",
		})
	}
	return append(msgs, chatMessage{Role: "user", Content: prompt})
}

// statusError maps an HTTP failure to an AgentGraphError. 429 and 5xx are retryable.
func statusError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		msg = env.Error.Message
	}
	if len(msg) > 512 {
		msg = msg[:512]
	}
	details := map[string]any{"status": status}

	switch {
	case status == http.StatusTooManyRequests:
		return schema.NewErrorf(schema.ErrCodeRateLimited, "provider rate limited: %s", msg).WithDetails(details)
	case status >= http.StatusInternalServerError:
		return schema.NewErrorf(schema.ErrCodeAgentInvocation, "provider error %d: %s", status, msg).
			WithDetails(details).AsRetryable()
	default:
		return schema.NewErrorf(schema.ErrCodeAgentInvocation, "provider rejected request %d: %s", status, msg).
			WithDetails(details)
	}
}
