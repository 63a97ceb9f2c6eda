package expressions

import (
	"sync"

	"github.com/rendis/relaysim/pkg/schema"
)

// programs caches compiled expressions by source text. The zero value is
// ready to use and safe for concurrent callers.
type programs[P any] struct {
	mu sync.RWMutex
	m  map[string]P
}

// get returns the program compiled for src, compiling it at most once.
func (c *programs[P]) get(src string, compile func() (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.m[src]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.m[src]; ok {
		return p, nil
	}
	p, err := compile()
	if err != nil {
		return p, err
	}
	if c.m == nil {
		c.m = make(map[string]P)
	}
	c.m[src] = p
	return p, nil
}

// Len reports how many programs are cached.
func (c *programs[P]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

func emptyExpression(engine string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s: empty expression", engine)
}

func compileFailed(engine, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s: cannot compile %q: %v", engine, expression, err).
		WithCause(err).
		WithDetails(map[string]any{"engine": engine, "expression": expression})
}

func evalFailed(engine, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeExecution, "%s: evaluating %q: %v", engine, expression, err).
		WithCause(err).
		WithDetails(map[string]any{"engine": engine, "expression": expression})
}
