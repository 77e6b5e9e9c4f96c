package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentgraph/pkg/schema"
)

func TestExpr_Name(t *testing.T) {
	assert.Equal(t, "expr", NewExprEngine().Name())
}

func TestExpr_PricingFormula(t *testing.T) {
	e := NewExprEngine()
	cost, err := e.EvaluateFloat(context.Background(),
		"prompt_tokens * 0.15 / 1000000 + completion_tokens * 0.6 / 1000000",
		map[string]any{"prompt_tokens": 1000, "completion_tokens": 500})
	require.NoError(t, err)
	assert.InDelta(t, 0.00045, cost, 1e-9)
}

func TestExpr_IntegerResultCoerced(t *testing.T) {
	e := NewExprEngine()
	v, err := e.EvaluateFloat(context.Background(), "tokens * 2", map[string]any{"tokens": 21})
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}

func TestExpr_NonNumeric(t *testing.T) {
	e := NewExprEngine()
	_, err := e.EvaluateFloat(context.Background(), `"free"`, nil)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeEvaluation))
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), "tokens *", map[string]any{"tokens": 1})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestExpr_UndefinedVariableIsNil(t *testing.T) {
	e := NewExprEngine()
	out, err := e.Evaluate(context.Background(), "missing ?? 7", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 7, out)
}
