package expressions

import "context"

// Engine evaluates expressions embedded in node configuration.
// Three implementations: Expr (policy conditions), CEL (feed predicates),
// GoJQ (reshaping raw platform responses).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Truthy interprets an expression result as a boolean condition.
// Non-bool results are truthy when non-nil and non-zero.
func Truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return b != ""
	case int:
		return b != 0
	case int64:
		return b != 0
	case float64:
		return b != 0
	default:
		return true
	}
}
