package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/rendis/agentgraph/internal/credentials"
	"github.com/rendis/agentgraph/internal/expressions"
	"github.com/rendis/agentgraph/internal/llm"
	"github.com/rendis/agentgraph/internal/logging"
	"github.com/rendis/agentgraph/internal/store"
	"github.com/rendis/agentgraph/pkg/schema"
)

// ExecutorConfig holds configuration for the node executor.
type ExecutorConfig struct {
	Retry        RetryPolicy
	DefaultModel string // used when neither the agent nor the credentials name a model
	Provider     string // credentials provider name, default "openai"
}

// NodeExecutor runs exactly one agent node: it gathers inputs, resolves the
// prompt, invokes the agent and records the outcome on the node and the run's
// ContextStore. It never decides whether the run continues.
type NodeExecutor struct {
	invoker      llm.Invoker
	fsm          *NodeFSM
	appender     EventAppender
	interpolator *expressions.Interpolator
	rules        *expressions.CELEngine
	config       ExecutorConfig
	logger       *slog.Logger
}

// NewNodeExecutor creates a NodeExecutor. appender may be nil.
func NewNodeExecutor(invoker llm.Invoker, fsm *NodeFSM, appender EventAppender, cfg ExecutorConfig, logger *slog.Logger) (*NodeExecutor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Provider == "" {
		cfg.Provider = credentials.DefaultProvider
	}
	rules, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &NodeExecutor{
		invoker:      invoker,
		fsm:          fsm,
		appender:     appender,
		interpolator: expressions.NewInterpolator(logger),
		rules:        rules,
		config:       cfg,
		logger:       logger,
	}, nil
}

// Execute runs node within ec and returns its outputs. On failure the node is
// left in the error state with its message recorded, and the error is returned.
func (x *NodeExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node) (map[string]any, error) {
	ctx = logging.WithIDs(ctx, ec.Workflow.ID, ec.RunID, node.ID)

	agent := node.Agent
	if agent == nil {
		return nil, x.fail(ctx, ec, node, schema.NewErrorf(schema.ErrCodeGraphIntegrity,
			"node has no agent definition (agent_ref %q)", node.AgentRef))
	}

	snapshot := ec.Context.Snapshot()
	inputs, warnings := x.gatherInputs(ctx, ec, node, snapshot)
	if err := x.validateInputs(ctx, agent, inputs, snapshot); err != nil {
		return nil, x.fail(ctx, ec, node, err)
	}

	prompt, w := x.interpolator.Resolve(ctx, agent.Template, expressions.Scope{
		Inputs:   inputs,
		Context:  snapshot,
		Specs:    agent.Inputs,
		Category: agent.Category,
	})
	warnings = append(warnings, w...)
	x.recordWarnings(ctx, ec, node, warnings)

	if err := x.fsm.Transition(ctx, ec.Workflow.ID, ec.RunID, node, schema.NodeStatusProcessing, nil); err != nil {
		return nil, err
	}

	cfg, err := x.invocationConfig(ctx, ec, agent)
	if err != nil {
		return nil, x.fail(ctx, ec, node, err)
	}

	req := llm.Request{
		Agent:         agent,
		Prompt:        prompt,
		Inputs:        inputs,
		GlobalContext: snapshot,
		Config:        cfg,
	}
	res, err := withRetry(ctx, x.config.Retry, ec.Logger, func(ctx context.Context) (*llm.Result, error) {
		return x.invoker.Invoke(ctx, req)
	})
	if err != nil {
		return nil, x.fail(ctx, ec, node, invocationError(err))
	}
	if res == nil || !res.Success {
		msg := "agent invocation failed"
		if res != nil && res.Error != "" {
			msg = res.Error
		}
		return nil, x.fail(ctx, ec, node, schema.NewError(schema.ErrCodeAgentInvocation, msg))
	}
	if res.Decode == schema.DecodeUnparseable {
		ec.Logger.WarnContext(ctx, "structured output unparseable, raw text kept",
			slog.String("output", agent.PrimaryOutput().ID))
	}

	outputs := res.Outputs
	if outputs == nil {
		outputs = map[string]any{}
	}
	ec.Usage.Add(res.Usage)
	ec.lastModel = cfg.Model
	if res.Model != "" {
		ec.lastModel = res.Model
	}

	node.Outputs = outputs
	node.Error = ""
	if err := x.fsm.Transition(ctx, ec.Workflow.ID, ec.RunID, node, schema.NodeStatusCompleted, map[string]any{
		"outputs": outputs,
		"tokens":  res.Usage.Tokens,
		"cost":    res.Usage.Cost,
		"decode":  res.Decode,
	}); err != nil {
		node.Outputs = nil
		return nil, x.fail(ctx, ec, node, asAgentGraphError(err, schema.ErrCodeStore, "record completion"))
	}
	ec.Context.Merge(node.ID, outputs)

	ec.Logger.InfoContext(ctx, "node completed",
		slog.String("agent", agent.ID),
		slog.Int("tokens", res.Usage.Tokens),
	)
	return outputs, nil
}

// gatherInputs builds the node's input set: its own inputs with placeholders
// resolved against the direct predecessors, then global context values for
// names the node leaves unset, then each predecessor's outputs. Missing inputs take their declared defaults.
func (x *NodeExecutor) gatherInputs(ctx context.Context, ec *ExecutionContext, node *schema.Node, snapshot map[string]any) (map[string]any, []expressions.Warning) {
	agent := node.Agent
	preds := ec.Graph.Predecessors(node.ID)

	direct := make(map[string]any)
	for _, p := range preds {
		maps.Copy(direct, p.Inputs)
		maps.Copy(direct, p.Outputs)
	}
	resolved, warnings := x.interpolator.ResolveInputs(ctx, node.Inputs, direct, agent.Inputs, agent.Category)

	merged := resolved
	for k, v := range snapshot {
		if !schema.IsPresent(merged[k]) {
			merged[k] = v
		}
	}

	if !node.IsMainAgent {
		for _, p := range preds {
			if len(p.Outputs) == 0 {
				continue
			}
			if p.Category().MainAgentOutputShape() == schema.OutputShapeNested {
				merged[p.ID] = maps.Clone(p.Outputs)
			}
			maps.Copy(merged, p.Outputs)
		}
	}

	for _, spec := range agent.Inputs {
		if !schema.IsPresent(merged[spec.ID]) && schema.IsPresent(spec.DefaultValue) {
			merged[spec.ID] = spec.DefaultValue
		}
	}
	return merged, warnings
}

// validateInputs enforces required inputs and CEL input rules.
func (x *NodeExecutor) validateInputs(ctx context.Context, agent *schema.AgentDefinition, inputs, snapshot map[string]any) *schema.AgentGraphError {
	res := &schema.ValidationResult{}
	for _, spec := range agent.Inputs {
		value := inputs[spec.ID]
		if !schema.IsPresent(value) {
			if spec.Required {
				res.AddError("inputs."+spec.ID, schema.ErrCodeValidation, fmt.Sprintf("required input %q is missing", spec.ID))
			}
			continue
		}
		if spec.Rule == "" {
			continue
		}
		ok, err := x.rules.CheckRule(ctx, spec.Rule, value, inputs, snapshot)
		if err != nil {
			res.AddError("inputs."+spec.ID, schema.ErrCodeValidation, fmt.Sprintf("input %q: %s", spec.ID, err.Error()))
			continue
		}
		if !ok {
			res.AddError("inputs."+spec.ID, schema.ErrCodeValidation, fmt.Sprintf("input %q does not satisfy %s", spec.ID, spec.Rule))
		}
	}
	err := res.ToError()
	if err == nil {
		return nil
	}
	return err.(*schema.AgentGraphError)
}

// invocationConfig resolves credentials and the model for agent. Non-exempt
// agents without a usable API key fail before any invocation is attempted.
func (x *NodeExecutor) invocationConfig(ctx context.Context, ec *ExecutionContext, agent *schema.AgentDefinition) (llm.Config, error) {
	cfg := llm.Config{
		Model:       agent.Config.Model,
		Temperature: agent.Config.Temperature,
		MaxTokens:   agent.Config.MaxTokens,
	}

	var creds *credentials.Credentials
	if ec.Credentials != nil {
		var err error
		creds, err = ec.Credentials.ActiveCredentials(ctx, ec.Workflow.UserID, x.config.Provider)
		if err != nil && !agent.Exempt {
			return cfg, schema.NewErrorf(schema.ErrCodeConfiguration, "credentials lookup failed: %s", err.Error()).WithCause(err)
		}
	}
	if !creds.Usable() && !agent.Exempt {
		return cfg, schema.NewErrorf(schema.ErrCodeConfiguration,
			"no active %s API key for user %q", x.config.Provider, ec.Workflow.UserID)
	}
	if creds.Usable() {
		cfg.APIKey = creds.APIKey
	}
	if cfg.Model == "" && creds != nil {
		cfg.Model = creds.Model
	}
	if cfg.Model == "" {
		cfg.Model = x.config.DefaultModel
	}
	return cfg, nil
}

// fail records err on node and moves it to the error state.
func (x *NodeExecutor) fail(ctx context.Context, ec *ExecutionContext, node *schema.Node, err *schema.AgentGraphError) error {
	err.WithNode(node.ID)
	node.Error = err.Message
	if terr := x.fsm.Transition(ctx, ec.Workflow.ID, ec.RunID, node, schema.NodeStatusError,
		map[string]any{"error": err.Message, "code": err.Code}); terr != nil {
		ec.Logger.ErrorContext(ctx, "failed to record node failure", slog.String("error", terr.Error()))
		node.Status = schema.NodeStatusError
	}
	ec.Logger.WarnContext(ctx, "node failed", slog.String("code", err.Code), slog.String("error", err.Message))
	return err
}

func (x *NodeExecutor) recordWarnings(ctx context.Context, ec *ExecutionContext, node *schema.Node, warnings []expressions.Warning) {
	if len(warnings) == 0 || x.appender == nil {
		return
	}
	ev := &store.Event{
		RunID:      ec.RunID,
		WorkflowID: ec.Workflow.ID,
		NodeID:     node.ID,
		Type:       schema.EventTemplateFallback,
	}
	if raw, err := jsonPayload(map[string]any{"warnings": warnings}); err == nil {
		ev.Payload = raw
	}
	if err := x.appender.AppendEvent(ctx, ev); err != nil {
		ec.Logger.WarnContext(ctx, "failed to record template fallback", slog.String("error", err.Error()))
	}
}

// asAgentGraphError returns err as an AgentGraphError, wrapping foreign errors with code.
func asAgentGraphError(err error, code, msg string) *schema.AgentGraphError {
	var agErr *schema.AgentGraphError
	if errors.As(err, &agErr) {
		return agErr
	}
	return schema.NewErrorf(code, "%s: %s", msg, err.Error()).WithCause(err)
}

// invocationError classifies a failed invocation as AGENT_INVOCATION, keeping
// CONFIGURATION errors as they are. Other coded errors, such as an exhausted
// rate limit, become the cause.
func invocationError(err error) *schema.AgentGraphError {
	var agErr *schema.AgentGraphError
	if !errors.As(err, &agErr) {
		return asAgentGraphError(err, schema.ErrCodeAgentInvocation, "agent invocation failed")
	}
	if agErr.Code == schema.ErrCodeAgentInvocation || agErr.Code == schema.ErrCodeConfiguration {
		return agErr
	}
	return schema.NewErrorf(schema.ErrCodeAgentInvocation, "agent invocation failed: %s", agErr.Message).
		WithDetails(map[string]any{"cause_code": agErr.Code}).
		WithCause(err)
}

func jsonPayload(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
