package schema

import "time"

// Category classifies an agent definition.
type Category string

const (
	CategorySetup       Category = "setup"
	CategoryCopywriting Category = "copywriting"
	CategoryInfoproduct Category = "infoproduct"
	CategorySEO         Category = "seo"
	CategoryDocument    Category = "document"
	CategorySales       Category = "sales"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategorySetup, CategoryCopywriting, CategoryInfoproduct, CategorySEO, CategoryDocument, CategorySales:
		return true
	}
	return false
}

// OutputShape describes how a node's outputs are exposed to its successors.
type OutputShape int

const (
	// OutputShapeNested exposes outputs by name and nested under the source node ID.
	OutputShapeNested OutputShape = iota
	// OutputShapeFlattened exposes every output as a top-level named field.
	OutputShapeFlattened
)

// MainAgentOutputShape returns the output shape a category contributes downstream.
// Setup agents describe the product; their fields are consumed by name.
func (c Category) MainAgentOutputShape() OutputShape {
	if c == CategorySetup {
		return OutputShapeFlattened
	}
	return OutputShapeNested
}

// InputType is the semantic type of an agent input.
type InputType string

const (
	InputTypeText    InputType = "text"
	InputTypeNumber  InputType = "number"
	InputTypeBoolean InputType = "boolean"
	InputTypeFile    InputType = "file"
	InputTypeImage   InputType = "image"
	InputTypeArray   InputType = "array"
)

// OutputType is the semantic type of an agent output.
type OutputType string

const (
	OutputTypeText     OutputType = "text"
	OutputTypeHTML     OutputType = "html"
	OutputTypeMarkdown OutputType = "markdown"
	OutputTypeJSON     OutputType = "json"
	OutputTypeImage    OutputType = "image"
	OutputTypeFile     OutputType = "file"
)

// InputSpec declares one input of an agent.
type InputSpec struct {
	ID           string    `json:"id" yaml:"id"`
	Label        string    `json:"label,omitempty" yaml:"label,omitempty"`
	Type         InputType `json:"type" yaml:"type"`
	Required     bool      `json:"required,omitempty" yaml:"required,omitempty"`
	DefaultValue any       `json:"default_value,omitempty" yaml:"default_value,omitempty"`
	Placeholder  string    `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Rule         string    `json:"rule,omitempty" yaml:"rule,omitempty"` // CEL over `value`, must yield bool
}

// OutputSpec declares one output of an agent.
type OutputSpec struct {
	ID   string     `json:"id" yaml:"id"`
	Type OutputType `json:"type" yaml:"type"`
	Path string     `json:"path,omitempty" yaml:"path,omitempty"` // jq query applied to a decoded JSON payload
}

// InvocationConfig controls the model call for an agent.
type InvocationConfig struct {
	Model       string  `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// AgentDefinition is an immutable description of an agent.
type AgentDefinition struct {
	ID       string           `json:"id" yaml:"id"`
	Name     string           `json:"name" yaml:"name"`
	Category Category         `json:"category" yaml:"category"`
	Inputs   []InputSpec      `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs  []OutputSpec     `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Template string           `json:"template" yaml:"template"`
	Config   InvocationConfig `json:"config" yaml:"config"`
	// Exempt agents run without user credentials.
	Exempt bool `json:"exempt,omitempty" yaml:"exempt,omitempty"`
}

// InputSpec returns the input declared with id, or nil.
func (a *AgentDefinition) InputSpec(id string) *InputSpec {
	for i := range a.Inputs {
		if a.Inputs[i].ID == id {
			return &a.Inputs[i]
		}
	}
	return nil
}

// PrimaryOutput returns the first declared output ID, or "output" when none is declared.
func (a *AgentDefinition) PrimaryOutput() OutputSpec {
	if len(a.Outputs) == 0 {
		return OutputSpec{ID: "output", Type: OutputTypeText}
	}
	return a.Outputs[0]
}

// NodeKind distinguishes agent nodes from the terminal result node.
type NodeKind string

const (
	NodeKindAgent  NodeKind = "agent"
	NodeKindResult NodeKind = "result"
)

// ResultPayload is the terminal aggregate carried by a result node.
type ResultPayload struct {
	RunID     string         `json:"run_id"`
	Status    RunStatus      `json:"status"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Model     string         `json:"model,omitempty"`
	SourceID  string         `json:"source_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// Node is a vertex in a workflow graph.
type Node struct {
	ID          string           `json:"id"`
	Kind        NodeKind         `json:"kind"`
	AgentRef    string           `json:"agent_ref,omitempty"`
	Agent       *AgentDefinition `json:"agent,omitempty"`
	Status      NodeStatus       `json:"status"`
	Inputs      map[string]any   `json:"inputs,omitempty"`
	Outputs     map[string]any   `json:"outputs,omitempty"`
	Error       string           `json:"error,omitempty"`
	IsMainAgent bool             `json:"is_main_agent,omitempty"`
	Result      *ResultPayload   `json:"result,omitempty"`
}

// Category returns the agent category, or "" for result nodes.
func (n *Node) Category() Category {
	if n.Agent == nil {
		return ""
	}
	return n.Agent.Category
}

// Edge is a directed dependency from Source to Target.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Workflow is the persisted aggregate of nodes, edges and run context.
type Workflow struct {
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	Nodes         []*Node        `json:"nodes"`
	Edges         []Edge         `json:"edges"`
	Variables     map[string]any `json:"variables,omitempty"`
	GlobalContext map[string]any `json:"global_context,omitempty"`
	Schedule      string         `json:"schedule,omitempty"` // cron expression, empty = manual only
	UpdatedAt     time.Time      `json:"updated_at,omitempty"`
}

// Node returns the node with id, or nil.
func (w *Workflow) Node(id string) *Node {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
