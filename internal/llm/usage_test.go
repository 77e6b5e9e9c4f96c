package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCounter(t *testing.T) {
	tc := NewTokenCounter("")
	assert.Equal(t, 0, tc.Count(""))
	assert.Greater(t, tc.Count("Escreva uma headline para o Tênis X"), 0)
}

func TestPricing_PrefixMatch(t *testing.T) {
	p := NewPricing(nil)
	assert.Equal(t, DefaultPriceFormulas["gpt-4o-mini"], p.Formula("gpt-4o-mini-2024-07-18"))
	assert.Equal(t, DefaultPriceFormulas["gpt-4o"], p.Formula("gpt-4o-2024-08-06"))
	assert.Empty(t, p.Formula("llama-3"))
}

func TestPricing_Cost(t *testing.T) {
	p := NewPricing(map[string]string{"m": "prompt_tokens * 0.5 + completion_tokens * 2"})
	cost, err := p.Cost(context.Background(), "m", 10, 3)
	require.NoError(t, err)
	assert.InDelta(t, 11.0, cost, 1e-9)

	cost, err = p.Cost(context.Background(), "unknown", 10, 3)
	require.NoError(t, err)
	assert.Zero(t, cost)
}

func TestPricing_TotalTokensVariable(t *testing.T) {
	p := NewPricing(map[string]string{"flat": "total_tokens * 0.001"})
	cost, err := p.Cost(context.Background(), "flat", 600, 400)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cost, 1e-9)
}

func TestUsage_Add(t *testing.T) {
	u := Usage{Tokens: 10, Cost: 0.1}
	u.Add(Usage{PromptTokens: 3, CompletionTokens: 2, Tokens: 5, Cost: 0.05})
	assert.Equal(t, 15, u.Tokens)
	assert.Equal(t, 3, u.PromptTokens)
	assert.InDelta(t, 0.15, u.Cost, 1e-9)
}
