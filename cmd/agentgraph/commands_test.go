package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentgraph/internal/engine"
	"github.com/rendis/agentgraph/internal/llm"
	"github.com/rendis/agentgraph/pkg/schema"
)

const testCatalog = `
agents:
  - id: setup
    name: Produto
    category: setup
    template: Descreva o produto
    outputs:
      - id: produto
        type: text
  - id: headline
    name: Headline
    category: copywriting
    template: Escreva uma headline para {{produto}}
    outputs:
      - id: headline
        type: text
`

const testWorkflow = `{
  "name": "Campanha",
  "nodes": [
    {"id": "root", "agent_ref": "setup", "is_main_agent": true},
    {"id": "n1", "agent_ref": "headline"},
    {"id": "orphan", "agent_ref": "headline"}
  ],
  "edges": [{"id": "e1", "source": "root", "target": "n1"}]
}`

type stubInvoker struct {
	mu      sync.Mutex
	prompts map[string]string
}

func (s *stubInvoker) Invoke(_ context.Context, req llm.Request) (*llm.Result, error) {
	s.mu.Lock()
	s.prompts[req.Agent.ID] = req.Prompt
	s.mu.Unlock()
	out := map[string]any{req.Agent.PrimaryOutput().ID: "Tênis X"}
	return &llm.Result{Success: true, Outputs: out, Usage: llm.Usage{Tokens: 4}, Model: "gpt-test", Decode: schema.DecodeOK}, nil
}

type harness struct {
	dir     string
	config  string
	invoker *stubInvoker
}

func newHarness(t *testing.T, extra string) *harness {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	cfg := filepath.Join(dir, "agentgraph.yaml")
	body := "db:\n  path: " + filepath.Join(dir, "data", "agentgraph.db") + "\nllm:\n  api_key: sk-test\n" + extra
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(testCatalog), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workflow.json"), []byte(testWorkflow), 0o644))
	return &harness{dir: dir, config: cfg, invoker: &stubInvoker{prompts: map[string]string{}}}
}

func (h *harness) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newCLI(&cli{invoker: h.invoker})
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", h.config}, args...))
	err := root.Execute()
	return out.String(), err
}

func (h *harness) path(name string) string {
	return filepath.Join(h.dir, name)
}

func TestCLI_ImportOrderRun(t *testing.T) {
	h := newHarness(t, "")

	out, err := h.exec(t, "agents", "import", h.path("catalog.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "imported 2 agents\n", out)

	out, err = h.exec(t, "import", h.path("workflow.json"), "--id", "wf-1")
	require.NoError(t, err)
	assert.Contains(t, out, "imported workflow wf-1")
	assert.Contains(t, out, `"orphan" is unreachable`)

	out, err = h.exec(t, "order", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "main: root\n1. n1\nskipped (unreachable): orphan\n", out)

	out, err = h.exec(t, "run", "wf-1")
	require.NoError(t, err)
	var res engine.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, schema.RunStatusCompleted, res.Status)
	assert.Equal(t, []string{"n1"}, res.Order)
	assert.Equal(t, "Escreva uma headline para Tênis X", h.invoker.prompts["headline"])

	out, err = h.exec(t, "agents", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "headline"))
}

func TestCLI_CatalogPathLoadsOnStartup(t *testing.T) {
	h := newHarness(t, "")
	h2 := newHarness(t, "catalog:\n  path: "+h.path("catalog.yaml")+"\n")

	out, err := h2.exec(t, "import", h2.path("workflow.json"), "--id", "wf-1")
	require.NoError(t, err)
	assert.Contains(t, out, "imported workflow wf-1")
}

func TestCLI_RunPolicyFlag(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.exec(t, "agents", "import", h.path("catalog.yaml"))
	require.NoError(t, err)
	_, err = h.exec(t, "import", h.path("workflow.json"), "--id", "wf-1")
	require.NoError(t, err)

	out, err := h.exec(t, "run", "wf-1", "--policy", "continue_on_error")
	require.NoError(t, err)
	var res engine.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "continue_on_error", res.Policy)
	assert.Empty(t, res.ResultNodeID)

	_, err = h.exec(t, "run", "wf-1", "--policy", "yolo")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestCLI_ImportRejectsUnknownAgent(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.exec(t, "import", h.path("workflow.json"))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeGraphIntegrity))
}

func TestCLI_RunMissingWorkflow(t *testing.T) {
	h := newHarness(t, "")
	out, err := h.exec(t, "run", "ghost")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
	assert.Empty(t, out)
}

func TestCLI_CredentialsNeedVault(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.exec(t, "credentials", "set", "user-1", "sk-user")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfiguration))
}

func TestCLI_CredentialsSet(t *testing.T) {
	h := newHarness(t, "vault:\n  passphrase: correct horse\n  salt: battery-staple\n")
	out, err := h.exec(t, "credentials", "set", "user-1", "sk-user", "--model", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "stored credentials for user-1\n", out)
}

func TestCLI_BadEngineConfig(t *testing.T) {
	h := newHarness(t, "engine:\n  cycle_policy: sometimes\n")
	_, err := h.exec(t, "order", "wf-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown cycle policy")
}

func TestCLI_Diagram(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.exec(t, "agents", "import", h.path("catalog.yaml"))
	require.NoError(t, err)
	_, err = h.exec(t, "import", h.path("workflow.json"), "--id", "wf-1")
	require.NoError(t, err)

	out, err := h.exec(t, "diagram", "wf-1")
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "root --> n1")

	target := h.path("wf.txt")
	_, err = h.exec(t, "diagram", "wf-1", "--format", "ascii", "-o", target)
	require.NoError(t, err)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "not scheduled")

	_, err = h.exec(t, "diagram", "wf-1", "--format", "png")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}
