package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/relaysim/pkg/schema"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_SnapshotConditions(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	data := sampleScope(t)

	tests := []struct {
		expr string
		want any
	}{
		{`run.running`, true},
		{`run.phase.startsWith("transport")`, true},
		{`size(run.items)`, int64(2)},
		{`run.stages.exists(s, s.status == "active" && s.id == "transport")`, true},
		{`run.stages.filter(s, s.status == "complete").size() == 1`, true},
		{`run.items.map(i, i.kind)`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.expr, data)
			require.NoError(t, err)
			if tt.want != nil {
				assert.Equal(t, tt.want, out)
			}
		})
	}
}

func TestCEL_MissingRunDefaultsToEmptyMap(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `size(run) == 0`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_Errors(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	t.Run("compile", func(t *testing.T) {
		_, err := e.Evaluate(context.Background(), `run.phase ==`, nil)
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
	})

	t.Run("undeclared variable", func(t *testing.T) {
		_, err := e.Evaluate(context.Background(), `steps.x`, nil)
		assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := e.Evaluate(context.Background(), `run.nope == 1`, sampleScope(t))
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
	})
}

func TestCEL_ConcurrentCache(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	data := sampleScope(t)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), `run.running`, data)
			assert.NoError(t, err)
			assert.Equal(t, true, out)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, e.cache.Len())
}
