package validation

import (
	"fmt"

	"github.com/rendis/agentgraph/internal/expressions"
	"github.com/rendis/agentgraph/internal/scheduler"
	"github.com/rendis/agentgraph/pkg/schema"
)

// semanticChecker resolves agent references and checks what the JSON Schema
// cannot: unique IDs, compilable rules and output paths, cron specs.
type semanticChecker struct {
	lookup AgentLookup
	rules  *expressions.CELEngine
	paths  *expressions.GoJQEngine
}

// validate returns the issues found and the definitions it could resolve, by node ID.
func (sc *semanticChecker) validate(wf *schema.Workflow) (*schema.ValidationResult, map[string]*schema.AgentDefinition) {
	result := &schema.ValidationResult{}

	if wf.Schedule != "" {
		if err := scheduler.ValidateSpec(wf.Schedule); err != nil {
			result.AddError("schedule", schema.ErrCodeValidation, err.Error())
		}
	}

	defs := make(map[string]*schema.AgentDefinition, len(wf.Nodes))
	for i, n := range wf.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if n.Kind == schema.NodeKindResult {
			if n.IsMainAgent {
				result.AddError(path+".is_main_agent", schema.ErrCodeGraphIntegrity, "a result node cannot be the main agent")
			}
			continue
		}
		def, ok := sc.resolve(n)
		switch {
		case !ok && n.AgentRef == "":
			result.AddError(path, schema.ErrCodeGraphIntegrity,
				fmt.Sprintf("agent node %q has neither agent_ref nor an embedded agent", n.ID))
		case !ok:
			result.AddError(path+".agent_ref", schema.ErrCodeGraphIntegrity,
				fmt.Sprintf("node %q references unknown agent %q", n.ID, n.AgentRef))
		case def != nil:
			defs[n.ID] = def
			sc.checkAgent(def, path+".agent", result)
		}
	}

	known := knownNames(wf, defs)
	for i, n := range wf.Nodes {
		def := defs[n.ID]
		if def == nil {
			continue
		}
		for _, name := range expressions.Placeholders(def.Template) {
			if !known[name] && def.InputSpec(name) == nil {
				result.AddWarning(fmt.Sprintf("nodes[%d].agent.template", i), schema.ErrCodeTemplateResolution,
					fmt.Sprintf("placeholder %q is not declared or produced anywhere; the category fallback will be used", name))
			}
		}
	}
	return result, defs
}

// resolve returns the node's catalog entry, or its embedded definition when
// it has no reference. ok is false when the node cannot be resolved. Without
// a catalog a reference falls back to the embedded definition, or is accepted
// unresolved and left to the store.
func (sc *semanticChecker) resolve(n *schema.Node) (def *schema.AgentDefinition, ok bool) {
	switch {
	case n.AgentRef == "":
		return n.Agent, n.Agent != nil
	case sc.lookup != nil:
		return sc.lookup.LookupAgent(n.AgentRef)
	case n.Agent != nil:
		return n.Agent, true
	}
	return nil, true
}

// checkAgent validates one definition's inputs and outputs.
func (sc *semanticChecker) checkAgent(def *schema.AgentDefinition, path string, result *schema.ValidationResult) {
	if !def.Category.Valid() {
		result.AddError(path+".category", schema.ErrCodeValidation,
			fmt.Sprintf("unknown category %q", def.Category))
	}

	seen := make(map[string]bool, len(def.Inputs))
	for j, in := range def.Inputs {
		p := fmt.Sprintf("%s.inputs[%d]", path, j)
		if seen[in.ID] {
			result.AddError(p+".id", schema.ErrCodeValidation, fmt.Sprintf("duplicate input id %q", in.ID))
		}
		seen[in.ID] = true
		if in.Rule != "" {
			if err := sc.rules.Compile(in.Rule); err != nil {
				result.AddError(p+".rule", schema.ErrCodeValidation, errMessage(err))
			}
		}
		if in.Required && in.DefaultValue != nil {
			result.AddWarning(p+".default_value", schema.ErrCodeValidation,
				fmt.Sprintf("input %q is required but has a default; it can never be missing", in.ID))
		}
	}

	seen = make(map[string]bool, len(def.Outputs))
	for j, out := range def.Outputs {
		p := fmt.Sprintf("%s.outputs[%d]", path, j)
		if seen[out.ID] {
			result.AddError(p+".id", schema.ErrCodeValidation, fmt.Sprintf("duplicate output id %q", out.ID))
		}
		seen[out.ID] = true
		if out.Path != "" {
			if err := sc.paths.Compile(out.Path); err != nil {
				result.AddError(p+".path", schema.ErrCodeValidation, errMessage(err))
			}
		}
	}
}

// knownNames collects every name a placeholder may legitimately resolve to:
// workflow variables, node inputs, declared outputs and node IDs.
func knownNames(wf *schema.Workflow, defs map[string]*schema.AgentDefinition) map[string]bool {
	known := make(map[string]bool)
	for k := range wf.Variables {
		known[k] = true
	}
	for _, n := range wf.Nodes {
		known[n.ID] = true
		for k := range n.Inputs {
			known[k] = true
		}
		def := defs[n.ID]
		if def == nil {
			continue
		}
		for _, out := range def.Outputs {
			known[out.ID] = true
			known[n.ID+"."+out.ID] = true
		}
	}
	return known
}

func errMessage(err error) string {
	if agErr, ok := err.(*schema.AgentGraphError); ok {
		return agErr.Message
	}
	return err.Error()
}
