// Package validation checks workflow documents and agent definitions before
// they are stored or run.
package validation

import "github.com/rendis/agentgraph/pkg/schema"

// Validator checks workflows for correctness before execution.
type Validator interface {
	ValidateWorkflow(wf *schema.Workflow) error
	ValidateAgent(def *schema.AgentDefinition) error
}

// AgentLookup resolves agent references against a catalog.
type AgentLookup interface {
	LookupAgent(id string) (*schema.AgentDefinition, bool)
}
