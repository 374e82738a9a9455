package expressions

import (
	"context"

	"github.com/itchyny/gojq"

	"github.com/rendis/socialflow/pkg/schema"
)

// GoJQEngine runs jq programs. filter_feeds uses it to pull the feed list
// out of whatever shape a platform search returned.
type GoJQEngine struct {
	programs programCache[*gojq.Code]
}

func NewGoJQEngine() *GoJQEngine { return &GoJQEngine{} }

func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate runs expression against data. One jq output is returned as is,
// several are collected into []any, none yields nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	return e.run(ctx, expression, data)
}

// EvaluateValue runs expression against any JSON-serializable input,
// normalized first to jq's model (float64 numbers, []any, map[string]any).
func (e *GoJQEngine) EvaluateValue(ctx context.Context, expression string, input any) (any, error) {
	normalized, err := schema.Normalize(input)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "jq: input is not JSON-serializable: %s", err).WithCause(err)
	}
	return e.run(ctx, expression, normalized)
}

func (e *GoJQEngine) run(ctx context.Context, expression string, input any) (any, error) {
	if expression == "" {
		return nil, emptyExpression("jq")
	}
	code, err := e.programs.get(expression, func() (*gojq.Code, error) {
		query, err := gojq.Parse(expression)
		if err != nil {
			return nil, compileError("jq", expression, err)
		}
		// No $ENV.
		code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
		if err != nil {
			return nil, compileError("jq", expression, err)
		}
		return code, nil
	})
	if err != nil {
		return nil, err
	}

	var results []any
	iter := code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, evalError("jq", expression, err)
		}
		results = append(results, v)
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

var _ Engine = (*GoJQEngine)(nil)
