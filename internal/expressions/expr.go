package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEngine evaluates expr-lang conditions. policy_gate uses it for "when",
// e.g. `len(input.draft) > 280 || "giveaway" in tags`.
type ExprEngine struct {
	programs programCache[*vm.Program]
}

func NewExprEngine() *ExprEngine { return &ExprEngine{} }

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs expression with every key of data as a top-level variable.
// Variables missing from data evaluate to nil.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptyExpression("expr")
	}
	if data == nil {
		data = map[string]any{}
	}

	prg, err := e.programs.get(expression, func() (*vm.Program, error) {
		p, err := expr.Compile(expression, expr.Env(data), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, compileError("expr", expression, err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, evalError("expr", expression, err)
	}
	return out, nil
}

var _ Engine = (*ExprEngine)(nil)
