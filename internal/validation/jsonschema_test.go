package validation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentgraph/pkg/schema"
)

func newJSV(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func violations(t *testing.T, err error) []string {
	t.Helper()
	var agErr *schema.AgentGraphError
	require.ErrorAs(t, err, &agErr)
	assert.Equal(t, schema.ErrCodeValidation, agErr.Code)
	v, _ := agErr.Details["violations"].([]string)
	return v
}

func TestNewJSONSchemaValidator(t *testing.T) {
	v := newJSV(t)
	assert.NotNil(t, v.workflow)
	assert.NotNil(t, v.agent)
}

func TestValidateWorkflow_Nil(t *testing.T) {
	err := newJSV(t).ValidateWorkflow(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestValidateWorkflow_MinimalValid(t *testing.T) {
	wf := &schema.Workflow{Nodes: []*schema.Node{{ID: "root", AgentRef: "setup", IsMainAgent: true}}}
	assert.NoError(t, newJSV(t).ValidateWorkflow(wf))
}

func TestValidateWorkflow_FullValid(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes[0].Agent = setupAgent()
	wf.Nodes[1].Inputs = map[string]any{"tom": "informal", "limite": 3}
	wf.Variables = map[string]any{"marca": "Acme"}
	wf.Schedule = "@daily"
	wf.Nodes = append(wf.Nodes, &schema.Node{
		ID:     "result-r1",
		Kind:   schema.NodeKindResult,
		Status: schema.NodeStatusCompleted,
		Result: &schema.ResultPayload{RunID: "r1", Status: schema.RunStatusCompleted, SourceID: "n1"},
	})
	assert.NoError(t, newJSV(t).ValidateWorkflow(wf))
}

func TestValidateWorkflow_EmptyNodes(t *testing.T) {
	err := newJSV(t).ValidateWorkflow(&schema.Workflow{Nodes: []*schema.Node{}})
	require.Error(t, err)
	require.Len(t, violations(t, err), 1)
	assert.Contains(t, violations(t, err)[0], "/nodes")
}

func TestValidateWorkflow_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(wf *schema.Workflow)
		where  string
	}{
		{"empty node id", func(wf *schema.Workflow) { wf.Nodes[1].ID = "" }, "/nodes/1/id"},
		{"unknown kind", func(wf *schema.Workflow) { wf.Nodes[1].Kind = "tool" }, "/nodes/1/kind"},
		{"unknown status", func(wf *schema.Workflow) { wf.Nodes[1].Status = "paused" }, "/nodes/1/status"},
		{"empty edge source", func(wf *schema.Workflow) { wf.Edges[0].Source = "" }, "/edges/0/source"},
		{"agent without template category", func(wf *schema.Workflow) {
			wf.Nodes[1].Agent = &schema.AgentDefinition{ID: "x", Category: "poetry"}
		}, "/nodes/1/agent/category"},
		{"temperature out of range", func(wf *schema.Workflow) {
			def := copyAgent()
			def.Config.Temperature = 3
			wf.Nodes[1].Agent = def
		}, "/nodes/1/agent/config/temperature"},
		{"bad input id", func(wf *schema.Workflow) {
			def := copyAgent()
			def.Inputs[0].ID = "1tom"
			wf.Nodes[1].Agent = def
		}, "/nodes/1/agent/inputs/0/id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wf := validWorkflow()
			tc.mutate(wf)
			err := newJSV(t).ValidateWorkflow(wf)
			require.Error(t, err)
			found := false
			for _, v := range violations(t, err) {
				if len(v) >= len(tc.where) && v[:len(tc.where)] == tc.where {
					found = true
				}
			}
			assert.True(t, found, "no violation at %s in %v", tc.where, violations(t, err))
		})
	}
}

func TestValidateWorkflow_MultipleViolations(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes[0].Kind = "tool"
	wf.Nodes[1].Status = "paused"
	err := newJSV(t).ValidateWorkflow(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed with 2 errors")
	assert.Len(t, violations(t, err), 2)
}

func TestValidateAgent(t *testing.T) {
	v := newJSV(t)
	assert.NoError(t, v.ValidateAgent(copyAgent()))
	assert.Error(t, v.ValidateAgent(nil))

	missing := copyAgent()
	missing.ID = ""
	assert.Error(t, v.ValidateAgent(missing))

	badOutput := copyAgent()
	badOutput.Outputs[0].Type = "pdf"
	err := v.ValidateAgent(badOutput)
	require.Error(t, err)
	assert.Contains(t, violations(t, err)[0], "/outputs/0/type")
}

func TestValidateDocument(t *testing.T) {
	v := newJSV(t)

	require.NoError(t, v.ValidateDocument([]byte(`{
		"id": "wf-1",
		"nodes": [
			{"id": "root", "kind": "agent", "agent_ref": "setup", "is_main_agent": true},
			{"id": "n1", "agent_ref": "headline", "inputs": {"tom": "formal"}}
		],
		"edges": [{"id": "e1", "source": "root", "target": "n1"}]
	}`)))

	err := v.ValidateDocument([]byte(`{"nodes": [`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")

	err = v.ValidateDocument([]byte(`{"nodes": [{"id": "root"}], "steps": []}`))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = v.ValidateDocument([]byte(`{"edges": []}`))
	require.Error(t, err)
}

func TestValidateWorkflow_Concurrent(t *testing.T) {
	v := newJSV(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidateWorkflow(validWorkflow()))
		}()
	}
	wg.Wait()
}
