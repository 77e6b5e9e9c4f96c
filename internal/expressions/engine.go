package expressions

import "context"

// Engine evaluates expressions attached to agent definitions.
// Three implementations: CEL (input rules), GoJQ (output extraction), Expr (usage pricing).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
