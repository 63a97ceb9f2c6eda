package expressions

import (
	"context"

	"github.com/itchyny/gojq"
)

// GoJQEngine answers snapshot queries such as `.run.merged.tool_calls` or
// `[.run.logs[].text]`.
type GoJQEngine struct {
	cache programs[*gojq.Code]
}

// NewGoJQEngine creates a jq engine.
func NewGoJQEngine() *GoJQEngine { return &GoJQEngine{} }

func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate runs the query with data as input. One output is returned as is,
// several as []any and none as nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	outs, err := e.EvaluateAll(ctx, expression, data)
	if err != nil || len(outs) == 0 {
		return nil, err
	}
	if len(outs) == 1 {
		return outs[0], nil
	}
	return outs, nil
}

// Compile parses expression, caching the compiled query.
func (e *GoJQEngine) Compile(expression string) error {
	_, err := e.code(expression)
	return err
}

// EvaluateAll collects every output of the query.
func (e *GoJQEngine) EvaluateAll(ctx context.Context, expression string, data map[string]any) ([]any, error) {
	code, err := e.code(expression)
	if err != nil {
		return nil, err
	}

	var outs []any
	iter := code.RunWithContext(ctx, data)
	for v, ok := iter.Next(); ok; v, ok = iter.Next() {
		if verr, isErr := v.(error); isErr {
			return nil, evalFailed(e.Name(), expression, verr)
		}
		outs = append(outs, v)
	}
	return outs, nil
}

func (e *GoJQEngine) code(expression string) (*gojq.Code, error) {
	if expression == "" {
		return nil, emptyExpression(e.Name())
	}
	return e.cache.get(expression, func() (*gojq.Code, error) {
		q, err := gojq.Parse(expression)
		if err != nil {
			return nil, compileFailed(e.Name(), expression, err)
		}
		// $ENV is always empty.
		code, err := gojq.Compile(q, gojq.WithEnvironLoader(func() []string { return nil }))
		if err != nil {
			return nil, compileFailed(e.Name(), expression, err)
		}
		return code, nil
	})
}

var _ Engine = (*GoJQEngine)(nil)
