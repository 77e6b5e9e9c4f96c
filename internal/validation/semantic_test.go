package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentgraph/internal/expressions"
	"github.com/rendis/agentgraph/pkg/schema"
)

func newChecker(t *testing.T, lookup AgentLookup) *semanticChecker {
	t.Helper()
	rules, err := expressions.NewCELEngine()
	require.NoError(t, err)
	return &semanticChecker{lookup: lookup, rules: rules, paths: expressions.NewGoJQEngine()}
}

func TestSemantic_ResolvesReferences(t *testing.T) {
	sc := newChecker(t, testCatalog())
	result, defs := sc.validate(validWorkflow())
	assert.True(t, result.Valid(), "errors: %v", result.Errors)
	assert.Empty(t, result.Warnings)
	require.Len(t, defs, 2)
	assert.Equal(t, "setup", defs["root"].ID)
	assert.Equal(t, "headline", defs["n1"].ID)
}

func TestSemantic_UnknownAgent(t *testing.T) {
	sc := newChecker(t, testCatalog())
	wf := validWorkflow()
	wf.Nodes[1].AgentRef = "missing"

	result, defs := sc.validate(wf)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "nodes[1].agent_ref", result.Errors[0].Path)
	assert.Equal(t, schema.ErrCodeGraphIntegrity, result.Errors[0].Code)
	assert.NotContains(t, defs, "n1")
}

func TestSemantic_NoAgentAtAll(t *testing.T) {
	sc := newChecker(t, testCatalog())
	wf := validWorkflow()
	wf.Nodes[1].AgentRef = ""

	result, _ := sc.validate(wf)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "neither agent_ref nor an embedded agent")
}

func TestSemantic_ReferenceBeatsEmbeddedCopy(t *testing.T) {
	sc := newChecker(t, testCatalog())
	wf := validWorkflow()
	stale := copyAgent()
	stale.Name = "Stale"
	wf.Nodes[1].Agent = stale

	result, defs := sc.validate(wf)
	assert.True(t, result.Valid(), "errors: %v", result.Errors)
	assert.Equal(t, "Headline", defs["n1"].Name)
}

func TestSemantic_NilLookupSkipsCatalog(t *testing.T) {
	sc := newChecker(t, nil)
	result, defs := sc.validate(validWorkflow())
	assert.True(t, result.Valid())
	assert.Empty(t, defs)
}

func TestSemantic_ResultNodeCannotBeMain(t *testing.T) {
	sc := newChecker(t, testCatalog())
	wf := validWorkflow()
	wf.Nodes = append(wf.Nodes, &schema.Node{ID: "result-1", Kind: schema.NodeKindResult, IsMainAgent: true})

	result, _ := sc.validate(wf)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "nodes[2].is_main_agent", result.Errors[0].Path)
}

func TestSemantic_Schedule(t *testing.T) {
	sc := newChecker(t, testCatalog())
	for _, tc := range []struct {
		spec  string
		valid bool
	}{
		{"0 9 * * 1", true},
		{"@daily", true},
		{"@every 1h", true},
		{"not a cron", false},
		{"61 * * * *", false},
	} {
		t.Run(tc.spec, func(t *testing.T) {
			wf := validWorkflow()
			wf.Schedule = tc.spec
			result, _ := sc.validate(wf)
			assert.Equal(t, tc.valid, result.Valid(), "errors: %v", result.Errors)
		})
	}
}

func TestSemantic_AgentChecks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(def *schema.AgentDefinition)
		path   string
	}{
		{"unknown category", func(d *schema.AgentDefinition) { d.Category = "poetry" }, "agent.category"},
		{"duplicate input", func(d *schema.AgentDefinition) {
			d.Inputs = append(d.Inputs, schema.InputSpec{ID: "tom"})
		}, "agent.inputs[1].id"},
		{"duplicate output", func(d *schema.AgentDefinition) {
			d.Outputs = append(d.Outputs, schema.OutputSpec{ID: "headline"})
		}, "agent.outputs[1].id"},
		{"bad rule", func(d *schema.AgentDefinition) { d.Inputs[0].Rule = "size(value) >" }, "agent.inputs[0].rule"},
		{"bad path", func(d *schema.AgentDefinition) { d.Outputs[0].Path = ".[" }, "agent.outputs[0].path"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sc := newChecker(t, nil)
			def := copyAgent()
			tc.mutate(def)
			result := &schema.ValidationResult{}
			sc.checkAgent(def, "agent", result)
			require.Len(t, result.Errors, 1, "errors: %v", result.Errors)
			assert.Equal(t, tc.path, result.Errors[0].Path)
			assert.Equal(t, schema.ErrCodeValidation, result.Errors[0].Code)
		})
	}
}

func TestSemantic_ValidRuleAndPath(t *testing.T) {
	sc := newChecker(t, nil)
	def := copyAgent()
	def.Inputs[0].Rule = "size(value) <= 40"
	def.Outputs[0].Path = ".headline"
	result := &schema.ValidationResult{}
	sc.checkAgent(def, "agent", result)
	assert.True(t, result.Valid(), "errors: %v", result.Errors)
}

func TestSemantic_RequiredWithDefaultWarns(t *testing.T) {
	sc := newChecker(t, nil)
	def := copyAgent()
	def.Inputs[0].Required = true
	result := &schema.ValidationResult{}
	sc.checkAgent(def, "agent", result)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "agent.inputs[0].default_value", result.Warnings[0].Path)
}

func TestSemantic_UnknownPlaceholderWarns(t *testing.T) {
	cat := testCatalog()
	def := copyAgent()
	def.ID = "cta"
	def.Template = "CTA para {{produto}} depois de {{n1.headline}}, use {{publico}} e {marca}"
	cat["cta"] = def

	wf := validWorkflow()
	wf.Variables = map[string]any{"marca": "Acme"}
	wf.Nodes = append(wf.Nodes, &schema.Node{ID: "n2", Kind: schema.NodeKindAgent, AgentRef: "cta"})
	wf.Edges = append(wf.Edges, schema.Edge{ID: "e2", Source: "n1", Target: "n2"})

	result, _ := newChecker(t, cat).validate(wf)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, schema.ErrCodeTemplateResolution, result.Warnings[0].Code)
	assert.Equal(t, "nodes[2].agent.template", result.Warnings[0].Path)
	assert.Contains(t, result.Warnings[0].Message, `"publico"`)
}

func TestSemantic_MultipleErrors(t *testing.T) {
	sc := newChecker(t, testCatalog())
	wf := validWorkflow()
	wf.Schedule = "nope"
	wf.Nodes[1].AgentRef = "missing"

	result, _ := sc.validate(wf)
	assert.ElementsMatch(t, []string{schema.ErrCodeValidation, schema.ErrCodeGraphIntegrity}, codes(result.Errors))
}
