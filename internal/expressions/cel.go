package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// CELEngine evaluates await conditions such as `run.phase == "idle"` or
// `run.stages.all(s, s.status == "complete")`. Expressions see one variable,
// `run: map(string, dyn)`.
type CELEngine struct {
	env   *cel.Env
	cache programs[cel.Program]
}

// NewCELEngine creates a CEL engine.
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(cel.Variable("run", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env}, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Compile parses and checks expression, caching the program.
func (e *CELEngine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs expression against data["run"], bound to an empty map when
// absent.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	run := data["run"]
	if run == nil {
		run = map[string]any{}
	}
	out, _, err := prg.ContextEval(ctx, map[string]any{"run": run})
	if err != nil {
		return nil, evalFailed(e.Name(), expression, err)
	}
	return out.Value(), nil
}

func (e *CELEngine) program(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, emptyExpression(e.Name())
	}
	return e.cache.get(expression, func() (cel.Program, error) {
		ast, iss := e.env.Compile(expression)
		if err := iss.Err(); err != nil {
			return nil, compileFailed(e.Name(), expression, err)
		}
		p, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
		if err != nil {
			return nil, compileFailed(e.Name(), expression, err)
		}
		return p, nil
	})
}

var _ Engine = (*CELEngine)(nil)
