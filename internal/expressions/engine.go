// Package expressions evaluates conditions and queries over run snapshots.
//
// Every engine sees the same data shape: a single top-level "run" key holding
// the snapshot as decoded JSON (objects are map[string]any, numbers float64).
package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/rendis/relaysim/pkg/schema"
)

// Engine evaluates expressions against snapshot data.
// Three implementations: CEL (await conditions), Expr (CLI --until), GoJQ (queries).
type Engine interface {
	Name() string
	// Compile reports syntax and type errors as VALIDATION_ERROR without
	// evaluating anything.
	Compile(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Scope converts a snapshot (any JSON-marshalable value) into the evaluation
// data map {"run": <snapshot>}.
func Scope(snapshot any) (map[string]any, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	var run map[string]any
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return map[string]any{"run": run}, nil
}

// Truthy interprets an evaluation result as a condition outcome. Booleans are
// taken as is; nil, zero numbers and empty strings, slices and maps are false.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case uint64:
		return val != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// Registry holds the available engines by name.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry builds a registry with the cel, expr and jq engines.
func NewRegistry() (*Registry, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	r := &Registry{engines: make(map[string]Engine, 3)}
	for _, e := range []Engine{celEngine, NewExprEngine(), NewGoJQEngine()} {
		r.engines[e.Name()] = e
	}
	return r, nil
}

// Get returns the engine registered under name.
func (r *Registry) Get(name string) (Engine, error) {
	e, ok := r.engines[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "unknown expression engine %q", name).
			WithDetails(map[string]any{"available": r.Names()})
	}
	return e, nil
}

// Names lists registered engine names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.engines))
	for name := range r.engines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Condition compiles a boolean predicate over snapshots using the named engine.
// Malformed expressions are rejected here. Evaluation errors count as false
// so that a condition referring to a field that is not yet populated simply
// keeps waiting.
func (r *Registry) Condition(engine, expression string) (func(snapshot any) bool, error) {
	e, err := r.Get(engine)
	if err != nil {
		return nil, err
	}
	if err := e.Compile(expression); err != nil {
		return nil, err
	}
	return func(snapshot any) bool {
		data, err := Scope(snapshot)
		if err != nil {
			return false
		}
		out, err := e.Evaluate(context.Background(), expression, data)
		if err != nil {
			return false
		}
		return Truthy(out)
	}, nil
}
