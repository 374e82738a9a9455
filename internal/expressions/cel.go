package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// DefaultCELVariables are declared when NewCELEngine is called without names.
var DefaultCELVariables = []string{"feed", "input", "inputs"}

// CELEngine evaluates filter_feeds "where" predicates such as
// `feed.likes > 100 && !feed.author.startsWith("bot")`. Every variable is a
// map(string, dyn); one missing from the data is bound to an empty map.
type CELEngine struct {
	env      *cel.Env
	vars     []string
	programs programCache[cel.Program]
}

func NewCELEngine(vars ...string) (*CELEngine, error) {
	if len(vars) == 0 {
		vars = DefaultCELVariables
	}
	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, cel.MapType(cel.StringType, cel.DynType)))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	return &CELEngine{env: env, vars: append([]string(nil), vars...)}, nil
}

func (e *CELEngine) Name() string { return "cel" }

func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptyExpression("cel")
	}
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	bindings := make(map[string]any, len(e.vars))
	for _, name := range e.vars {
		if v := data[name]; v != nil {
			bindings[name] = v
		} else {
			bindings[name] = map[string]any{}
		}
	}
	out, _, err := prg.ContextEval(ctx, bindings)
	if err != nil {
		return nil, evalError("cel", expression, err)
	}
	return out.Value(), nil
}

// Compile checks expression without evaluating it.
func (e *CELEngine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

func (e *CELEngine) program(expression string) (cel.Program, error) {
	return e.programs.get(expression, func() (cel.Program, error) {
		ast, issues := e.env.Compile(expression)
		if err := issues.Err(); err != nil {
			return nil, compileError("cel", expression, err)
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			return nil, compileError("cel", expression, err)
		}
		return prg, nil
	})
}

var _ Engine = (*CELEngine)(nil)
