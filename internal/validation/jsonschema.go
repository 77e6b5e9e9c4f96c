package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/agentgraph/pkg/schema"
)

const workflowSchemaURL = "https://agentgraph.dev/schemas/workflow.json"

// workflowSchemaJSON describes a stored workflow document.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://agentgraph.dev/schemas/workflow.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "user_id": { "type": "string" },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/edge" }
    },
    "variables": { "type": ["object", "null"] },
    "global_context": { "type": ["object", "null"] },
    "schedule": { "type": "string" },
    "updated_at": { "type": "string" }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "kind": { "enum": ["", "agent", "result"] },
        "agent_ref": { "type": "string" },
        "agent": { "$ref": "#/$defs/agent" },
        "status": { "enum": ["", "idle", "processing", "completed", "error"] },
        "inputs": { "type": ["object", "null"] },
        "outputs": { "type": ["object", "null"] },
        "error": { "type": "string" },
        "is_main_agent": { "type": "boolean" },
        "result": { "type": ["object", "null"] }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "id": { "type": "string" },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false
    },
    "agent": {
      "type": "object",
      "required": ["id", "category", "template"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "name": { "type": "string" },
        "category": { "enum": ["setup", "copywriting", "infoproduct", "seo", "document", "sales"] },
        "inputs": {
          "type": ["array", "null"],
          "items": { "$ref": "#/$defs/input" }
        },
        "outputs": {
          "type": ["array", "null"],
          "items": { "$ref": "#/$defs/output" }
        },
        "template": { "type": "string" },
        "config": {
          "type": "object",
          "properties": {
            "model": { "type": "string" },
            "temperature": { "type": "number", "minimum": 0, "maximum": 2 },
            "max_tokens": { "type": "integer", "minimum": 0 }
          },
          "additionalProperties": false
        },
        "exempt": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "input": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_.-]*$" },
        "label": { "type": "string" },
        "type": { "enum": ["", "text", "number", "boolean", "file", "image", "array"] },
        "required": { "type": "boolean" },
        "default_value": {},
        "placeholder": { "type": "string" },
        "rule": { "type": "string" }
      },
      "additionalProperties": false
    },
    "output": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_.-]*$" },
        "type": { "enum": ["", "text", "html", "markdown", "json", "image", "file"] },
        "path": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks documents against the workflow JSON Schema
// (Draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflow *jsonschema.Schema
	agent    *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the embedded schemas.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	wf, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	agent, err := c.Compile(workflowSchemaURL + "#/$defs/agent")
	if err != nil {
		return nil, fmt.Errorf("compile agent schema: %w", err)
	}
	return &JSONSchemaValidator{workflow: wf, agent: agent}, nil
}

// ValidateDocument validates raw workflow JSON, before it is decoded.
// Unknown fields are reported here and would be silently dropped by decoding.
func (v *JSONSchemaValidator) ValidateDocument(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "workflow document is not valid JSON: %s", err.Error()).WithCause(err)
	}
	if err := v.workflow.Validate(doc); err != nil {
		return toValidationError(err)
	}
	return nil
}

// ValidateWorkflow validates a decoded workflow.
func (v *JSONSchemaValidator) ValidateWorkflow(wf *schema.Workflow) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	return v.validateValue(v.workflow, wf, "workflow")
}

// ValidateAgent validates an agent definition.
func (v *JSONSchemaValidator) ValidateAgent(def *schema.AgentDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "agent definition is nil")
	}
	return v.validateValue(v.agent, def, "agent definition")
}

func (v *JSONSchemaValidator) validateValue(s *jsonschema.Schema, value any, what string) error {
	doc, err := toJSONValue(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "failed to serialize %s", what).WithCause(err)
	}
	if err := s.Validate(doc); err != nil {
		return toValidationError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON so that numbers become
// json.Number, as the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toValidationError flattens a jsonschema.ValidationError into one
// AgentGraphError listing every leaf violation.
func toValidationError(err error) *schema.AgentGraphError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks the error tree and returns leaf messages prefixed
// with their instance location.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
