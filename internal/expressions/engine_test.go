package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/relaysim/pkg/schema"
)

// snapshotLike mirrors the JSON shape of the controller snapshot without
// importing the engine package.
type snapshotLike struct {
	Phase   string               `json:"phase"`
	Running bool                 `json:"running"`
	Stages  []schema.Stage       `json:"stages"`
	Items   []schema.Item        `json:"items"`
	Merged  *schema.MergedResult `json:"merged"`
}

func sampleScope(t *testing.T) map[string]any {
	t.Helper()
	dur := int64(1400)
	data, err := Scope(snapshotLike{
		Phase:   "transport:active",
		Running: true,
		Stages: []schema.Stage{
			{ID: "convert_request", Status: schema.StageStatusComplete, DurationMs: &dur},
			{ID: "transport", Status: schema.StageStatusActive},
			{ID: "merge", Status: schema.StageStatusPending},
		},
		Items: []schema.Item{
			{ID: "a", Kind: schema.ItemContent, Text: "I will help you "},
			{ID: "b", Kind: schema.ItemToolCall, ToolName: "read_file"},
		},
	})
	require.NoError(t, err)
	return data
}

func TestScope(t *testing.T) {
	data := sampleScope(t)

	run, ok := data["run"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "transport:active", run["phase"])
	assert.Nil(t, run["merged"])
	stages, ok := run["stages"].([]any)
	require.True(t, ok)
	assert.Len(t, stages, 3)
	first := stages[0].(map[string]any)
	assert.Equal(t, float64(1400), first["duration_ms"])
}

func TestScope_Unmarshalable(t *testing.T) {
	_, err := Scope(map[string]any{"ch": make(chan int)})
	require.Error(t, err)
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want bool
	}{
		{"nil", nil, false},
		{"true", true, true},
		{"false", false, false},
		{"empty string", "", false},
		{"string", "x", true},
		{"zero float", 0.0, false},
		{"float", 2.5, true},
		{"zero int", 0, false},
		{"int64", int64(3), true},
		{"empty slice", []any{}, false},
		{"slice", []any{1}, true},
		{"empty map", map[string]any{}, false},
		{"map", map[string]any{"a": 1}, true},
		{"nil pointer", (*schema.Usage)(nil), false},
		{"struct", schema.Usage{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truthy(tt.in))
		})
	}
}

func TestRegistry_Get(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	assert.Equal(t, []string{"cel", "expr", "jq"}, r.Names())

	for _, name := range r.Names() {
		e, err := r.Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, e.Name())
	}

	_, err = r.Get("lua")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestRegistry_Condition(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	snap := snapshotLike{Phase: "idle", Items: []schema.Item{{ID: "a", Kind: schema.ItemContent}}}

	tests := []struct {
		engine string
		expr   string
		want   bool
	}{
		{"cel", `run.phase == "idle"`, true},
		{"cel", `size(run.items) == 2`, false},
		{"expr", `len(run.items) == 1`, true},
		{"expr", `run.running`, false},
		{"jq", `.run.items | length > 0`, true},
		{"jq", `.run.merged`, false},
		// Errors while a field is missing count as false.
		{"cel", `run.merged.content == "x"`, false},
	}
	for _, tt := range tests {
		t.Run(tt.engine+" "+tt.expr, func(t *testing.T) {
			cond, err := r.Condition(tt.engine, tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cond(snap))
		})
	}

	_, err = r.Condition("cel", "")
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
	_, err = r.Condition("nope", "true")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestRegistry_ConditionRejectsMalformed(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	for engine, expression := range map[string]string{
		"cel":  `run.phase ==`,
		"expr": `len(run.items >= 3`,
		"jq":   `.run.items | length >`,
	} {
		t.Run(engine, func(t *testing.T) {
			cond, err := r.Condition(engine, expression)
			require.Error(t, err)
			assert.Nil(t, cond)
			assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
		})
	}
}

func TestEngines_Compile(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	valid := map[string]string{
		"cel":  `size(run.items) > 0`,
		"expr": `len(run.items) > 0`,
		"jq":   `.run.items | length > 0`,
	}
	for name, expression := range valid {
		e, err := r.Get(name)
		require.NoError(t, err)
		assert.NoError(t, e.Compile(expression), name)
		assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(e.Compile("")), name)
	}
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestEngines_EmptyExpression(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	for _, name := range r.Names() {
		e, _ := r.Get(name)
		_, err := e.Evaluate(context.Background(), "", map[string]any{})
		assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err), name)
	}
}
