package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentgraph/pkg/schema"
)

func TestGoJQ_Name(t *testing.T) {
	assert.Equal(t, "jq", NewGoJQEngine().Name())
}

func TestGoJQ_ExtractField(t *testing.T) {
	e := NewGoJQEngine()
	payload := map[string]any{"copy": map[string]any{"headline": "Corra mais", "cta": "Compre"}}

	out, err := e.Extract(context.Background(), ".copy.headline", payload)
	require.NoError(t, err)
	assert.Equal(t, "Corra mais", out)
}

func TestGoJQ_ExtractFromArray(t *testing.T) {
	e := NewGoJQEngine()
	payload := []any{map[string]any{"title": "a"}, map[string]any{"title": "b"}}

	out, err := e.Extract(context.Background(), ".[].title", payload)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestGoJQ_NoResult(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Extract(context.Background(), "empty", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_NormalizesIntegers(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), ".count + 1", map[string]any{"count": 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, out)
}

func TestGoJQ_ParseError(t *testing.T) {
	e := NewGoJQEngine()
	_, err := e.Extract(context.Background(), ".[", nil)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestGoJQ_RuntimeError(t *testing.T) {
	e := NewGoJQEngine()
	_, err := e.Extract(context.Background(), ".a.b", map[string]any{"a": "string"})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeEvaluation))
}

func TestGoJQ_EnvBlocked(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Extract(context.Background(), "$ENV | length", map[string]any{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, out)
}

func TestGoJQ_Compile(t *testing.T) {
	e := NewGoJQEngine()
	assert.NoError(t, e.Compile(".items[0].title"))
	assert.True(t, schema.HasCode(e.Compile(".["), schema.ErrCodeValidation))
}
