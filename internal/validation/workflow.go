package validation

import (
	"github.com/rendis/agentgraph/internal/expressions"
	"github.com/rendis/agentgraph/pkg/schema"
)

// Options tunes the workflow pipeline.
type Options struct {
	// AllowCycles downgrades cycle-blocked nodes to warnings, matching the
	// coordinator's drop policy.
	AllowCycles bool
}

// WorkflowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (agent refs, inputs, rules, output paths, placeholders, schedule)
// 3. Graph (main agent, edges, cycles, reachability)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	semantic   *semanticChecker
	opts       Options
}

// NewWorkflowValidator creates a WorkflowValidator.
// lookup may be nil to accept agent_ref values without checking the catalog.
func NewWorkflowValidator(lookup AgentLookup, opts Options) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	rules, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{
		jsonSchema: jsv,
		semantic: &semanticChecker{
			lookup: lookup,
			rules:  rules,
			paths:  expressions.NewGoJQEngine(),
		},
		opts: opts,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and graph stages are skipped.
func (wv *WorkflowValidator) Validate(wf *schema.Workflow) *schema.ValidationResult {
	if wf == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow is nil")
		return r
	}

	result := issuesFrom(wv.jsonSchema.ValidateWorkflow(wf), schema.ErrCodeValidation)
	if !result.Valid() {
		return result
	}

	semantic, defs := wv.semantic.validate(wf)
	result.Merge(semantic)

	// Skip graph checks when agents could not be resolved.
	if result.Valid() {
		result.Merge(validateGraph(resolved(wf, defs), wv.opts.AllowCycles))
	}
	return result
}

// ValidateWorkflow satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateWorkflow(wf *schema.Workflow) error {
	return wv.Validate(wf).ToError()
}

// ValidateAgent checks a standalone definition structurally and semantically.
func (wv *WorkflowValidator) ValidateAgent(def *schema.AgentDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "agent definition is nil")
	}
	result := issuesFrom(wv.jsonSchema.ValidateAgent(def), schema.ErrCodeValidation)
	if result.Valid() {
		wv.semantic.checkAgent(def, "agent", result)
	}
	return result.ToError()
}

// ValidateDocument delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidateDocument(raw []byte) error {
	return wv.jsonSchema.ValidateDocument(raw)
}

// issuesFrom converts a structural error into a ValidationResult, one issue per violation.
func issuesFrom(err error, code string) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}
	agErr, ok := err.(*schema.AgentGraphError)
	if !ok {
		result.AddError("/", code, err.Error())
		return result
	}
	if violations, ok := agErr.Details["violations"].([]string); ok && len(violations) > 0 {
		for _, v := range violations {
			result.AddError("/", code, v)
		}
		return result
	}
	result.AddError("/", code, agErr.Message)
	return result
}

// resolved returns a shallow copy of wf whose agent nodes carry their
// definitions. References the semantic stage accepted without a catalog get
// a stub so structural graph checks still apply.
func resolved(wf *schema.Workflow, defs map[string]*schema.AgentDefinition) *schema.Workflow {
	cp := *wf
	cp.Nodes = make([]*schema.Node, len(wf.Nodes))
	for i, n := range wf.Nodes {
		node := *n
		if node.Kind == "" {
			node.Kind = schema.NodeKindAgent
		}
		if node.Kind == schema.NodeKindAgent && node.Agent == nil {
			if def, ok := defs[n.ID]; ok {
				node.Agent = def
			} else {
				node.Agent = &schema.AgentDefinition{ID: n.AgentRef}
			}
		}
		cp.Nodes[i] = &node
	}
	return &cp
}
