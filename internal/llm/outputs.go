package llm

import (
	"context"

	"github.com/rendis/agentgraph/internal/expressions"
	"github.com/rendis/agentgraph/pkg/schema"
)

// Extractor runs an OutputSpec path over a decoded payload.
type Extractor interface {
	Extract(ctx context.Context, expr string, payload any) (any, error)
}

var _ Extractor = (*expressions.GoJQEngine)(nil)

// Structured reports whether the agent's completion must be decoded as JSON:
// any json output, any jq path, or more than one declared output.
func Structured(agent *schema.AgentDefinition) bool {
	if agent == nil {
		return false
	}
	if len(agent.Outputs) > 1 {
		return true
	}
	for _, o := range agent.Outputs {
		if o.Type == schema.OutputTypeJSON || o.Path != "" {
			return true
		}
	}
	return false
}

// MapOutputs converts raw completion text into the agent's declared outputs.
// Unstructured agents receive the text under their primary output. Structured
// agents decode the text; when nothing can be recovered the raw text is wrapped
// under the primary output and DecodeUnparseable is reported.
func MapOutputs(ctx context.Context, ex Extractor, agent *schema.AgentDefinition, text string) (map[string]any, schema.DecodeStatus, error) {
	primary := schema.OutputSpec{ID: "output", Type: schema.OutputTypeText}
	if agent != nil {
		primary = agent.PrimaryOutput()
	}

	if !Structured(agent) {
		return map[string]any{primary.ID: schema.NewOutputValue(primary.Type, text).Raw()}, schema.DecodeOK, nil
	}

	decoded := DecodeJSON(text)
	if !decoded.Recovered() {
		return map[string]any{primary.ID: text}, decoded.Status, nil
	}

	obj, isObj := decoded.Value.(map[string]any)
	out := make(map[string]any, len(agent.Outputs))
	for _, spec := range agent.Outputs {
		switch {
		case spec.Path != "":
			if ex == nil {
				return nil, decoded.Status, schema.NewErrorf(schema.ErrCodeConfiguration,
					"output %q declares a path but no extractor is configured", spec.ID)
			}
			v, err := ex.Extract(ctx, spec.Path, decoded.Value)
			if err != nil {
				return nil, decoded.Status, err
			}
			if v != nil {
				out[spec.ID] = schema.NewOutputValue(spec.Type, v).Raw()
			}
		case isObj:
			if v, ok := obj[spec.ID]; ok {
				out[spec.ID] = schema.NewOutputValue(spec.Type, v).Raw()
			} else if len(agent.Outputs) == 1 {
				out[spec.ID] = schema.NewOutputValue(spec.Type, obj).Raw()
			}
		case len(agent.Outputs) == 1:
			out[spec.ID] = schema.NewOutputValue(spec.Type, decoded.Value).Raw()
		}
	}
	if len(out) == 0 {
		out[primary.ID] = schema.NewOutputValue(primary.Type, decoded.Value).Raw()
	}
	return out, decoded.Status, nil
}
