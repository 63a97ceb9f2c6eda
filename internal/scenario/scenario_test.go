package scenario

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/relaysim/internal/stages"
	"github.com/rendis/relaysim/pkg/schema"
)

const sampleYAML = `
name: two chunks
log_capacity: 8
stages:
  - id: convert_request
    name: Convert request
    steps: [parse, map]
    interval: 100ms
    trailing: 50ms
  - id: transport
  - id: log
    steps: [write]
transport:
  item_interval: 200ms
items:
  - kind: content
    text: "hello "
  - id: fixed
    kind: content
    text: world
  - kind: finish
    finish_reason: stop
`

func newLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader()
	require.NoError(t, err)
	return l
}

func TestDefault(t *testing.T) {
	sc := Default()

	require.Len(t, sc.Stages, 5)
	require.Len(t, sc.Items, 5)
	assert.Equal(t, 1, sc.TransportIndex())
	assert.Equal(t, 16, sc.LogCapacity)
	assert.True(t, Check(sc).Valid())

	defs := sc.Definitions()
	assert.Equal(t, stages.DefaultDefinitions(), defs)

	plan := sc.Stages[0].Plan()
	assert.Equal(t, 3, plan.SubSteps)
	assert.Equal(t, 1400*time.Millisecond, plan.Duration())
}

func TestCloneItemsIsDeep(t *testing.T) {
	sc := Default()
	items := sc.CloneItems()
	items[4].Usage.Input = 1
	items[0].Text = "changed"

	assert.Equal(t, 1250, sc.Items[4].Usage.Input)
	assert.Equal(t, "I will help you ", sc.Items[0].Text)
}

func TestParse(t *testing.T) {
	sc, err := newLoader(t).Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "two chunks", sc.Name)
	assert.Equal(t, 8, sc.LogCapacity)
	require.Len(t, sc.Stages, 3)
	assert.Equal(t, 100*time.Millisecond, sc.Stages[0].Interval)
	assert.Equal(t, 50*time.Millisecond, sc.Stages[0].Trailing)
	assert.Equal(t, "log", sc.Stages[2].Name, "name falls back to id")
	assert.Equal(t, 300*time.Millisecond, sc.Stages[2].Interval)

	assert.Equal(t, 200*time.Millisecond, sc.Transport.ItemInterval)
	assert.Equal(t, 1200*time.Millisecond, sc.Transport.BufferedDelay)

	require.Len(t, sc.Items, 3)
	assert.Len(t, sc.Items[0].ID, 36, "missing id gets a uuid")
	assert.Equal(t, "fixed", sc.Items[1].ID)
	assert.Equal(t, "stop", sc.Items[2].FinishReason)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "stages: [\n"},
		{"empty", ""},
		{"missing items", "stages: [{id: transport}]\n"},
		{"unknown kind", "stages: [{id: transport}]\nitems: [{kind: image}]\n"},
		{"bad duration", "stages: [{id: transport, interval: soon}]\nitems: []\n"},
		{"unknown field", "stages: [{id: transport}]\nitems: []\nextra: 1\n"},
		{"no transport", "stages: [{id: merge}]\nitems: []\n"},
		{"duplicate stage", "stages: [{id: transport}, {id: transport}]\nitems: []\n"},
		{"tool call without name", "stages: [{id: transport}]\nitems: [{kind: tool_call}]\n"},
		{"duplicate item id", "stages: [{id: transport}]\nitems: [{id: a, kind: content}, {id: a, kind: content}]\n"},
	}

	l := newLoader(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
		})
	}
}

func TestCheck_Warnings(t *testing.T) {
	sc := Default()
	sc.Items = append(sc.Items, schema.Item{ID: "extra", Kind: schema.ItemFinish, FinishReason: "stop"})

	res := Check(sc)
	assert.True(t, res.Valid())
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Message, "last one wins")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	l := newLoader(t)
	sc, err := l.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two chunks", sc.Name)

	_, err = l.LoadFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestLoadFile_BundledExample(t *testing.T) {
	sc, err := newLoader(t).LoadFile(filepath.Join("..", "..", "examples", "read-file", "scenario.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Items, sc.Items)
	assert.Len(t, sc.Stages, 5)
}
