package llm

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/rendis/agentgraph/internal/expressions"
)

// TokenCounter estimates token counts when the provider does not report usage.
// It loads the cl100k_base encoding lazily and falls back to a rune-based
// estimate when the encoding cannot be loaded.
type TokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter for the given tiktoken encoding; empty means cl100k_base.
func NewTokenCounter(encoding string) *TokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TokenCounter{encoding: encoding}
}

// Count returns the estimated number of tokens in text.
func (t *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err == nil {
			t.enc = enc
		}
	})
	if t.enc != nil {
		return len(t.enc.Encode(text, nil, nil))
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}

// DefaultPriceFormulas are expr formulas in USD over prompt_tokens,
// completion_tokens and total_tokens, keyed by model name prefix.
var DefaultPriceFormulas = map[string]string{
	"gpt-4o-mini":   "prompt_tokens * 0.00000015 + completion_tokens * 0.0000006",
	"gpt-4o":        "prompt_tokens * 0.0000025 + completion_tokens * 0.00001",
	"gpt-4.1-mini":  "prompt_tokens * 0.0000004 + completion_tokens * 0.0000016",
	"gpt-4.1":       "prompt_tokens * 0.000002 + completion_tokens * 0.000008",
	"gpt-3.5-turbo": "prompt_tokens * 0.0000005 + completion_tokens * 0.0000015",
}

// Pricing derives call cost from token usage with per-model expr formulas.
type Pricing struct {
	engine   *expressions.ExprEngine
	formulas map[string]string
	prefixes []string // longest first
}

// NewPricing creates a Pricing over formulas; nil uses DefaultPriceFormulas.
func NewPricing(formulas map[string]string) *Pricing {
	if formulas == nil {
		formulas = DefaultPriceFormulas
	}
	p := &Pricing{engine: expressions.NewExprEngine(), formulas: formulas}
	for k := range formulas {
		p.prefixes = append(p.prefixes, k)
	}
	sort.Slice(p.prefixes, func(i, j int) bool {
		if len(p.prefixes[i]) != len(p.prefixes[j]) {
			return len(p.prefixes[i]) > len(p.prefixes[j])
		}
		return p.prefixes[i] < p.prefixes[j]
	})
	return p
}

// Formula returns the formula that applies to model, or "".
func (p *Pricing) Formula(model string) string {
	if f, ok := p.formulas[model]; ok {
		return f
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(model, prefix) {
			return p.formulas[prefix]
		}
	}
	return ""
}

// Cost evaluates the formula for model. Unknown models cost zero.
func (p *Pricing) Cost(ctx context.Context, model string, promptTokens, completionTokens int) (float64, error) {
	formula := p.Formula(model)
	if formula == "" {
		return 0, nil
	}
	return p.engine.EvaluateFloat(ctx, formula, map[string]any{
		"prompt_tokens":     promptTokens,
		"completion_tokens": completionTokens,
		"total_tokens":      promptTokens + completionTokens,
	})
}
