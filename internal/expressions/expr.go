package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/relaysim/pkg/schema"
)

// ExprEngine backs the CLI's --until flag, e.g. `len(run.items) >= 3` or
// `any(run.stages, .id == "merge" && .status == "active")`.
type ExprEngine struct {
	cache programs[*vm.Program]
}

// NewExprEngine creates an expr-lang engine.
func NewExprEngine() *ExprEngine { return &ExprEngine{} }

func (e *ExprEngine) Name() string { return "expr" }

// Compile checks expression against the snapshot scope shape
// {"run": map}. The program used by Evaluate is compiled separately against
// the first data it sees.
func (e *ExprEngine) Compile(expression string) error {
	if expression == "" {
		return emptyExpression(e.Name())
	}
	env := map[string]any{"run": map[string]any{}}
	if _, err := expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables()); err != nil {
		return compileFailed(e.Name(), expression, err)
	}
	return nil
}

// Evaluate runs expression with data as its environment. Programs are
// compiled against the shape of the first data seen for an expression, with
// undefined variables allowed.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptyExpression(e.Name())
	}
	if data == nil {
		data = map[string]any{}
	}
	prg, err := e.cache.get(expression, func() (*vm.Program, error) {
		p, err := expr.Compile(expression, expr.Env(data), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, compileFailed(e.Name(), expression, err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, schema.NewError(schema.ErrCodeCancelled, "expr: evaluation cancelled").WithCause(err)
	}
	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, evalFailed(e.Name(), expression, err)
	}
	return out, nil
}

var _ Engine = (*ExprEngine)(nil)
