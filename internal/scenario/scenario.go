// Package scenario holds the sample data and delay constants a simulated run
// plays back: the stage list with its sub-step trace lines, the transport
// timings, and the items streamed during transport.
package scenario

import (
	"time"

	"github.com/rendis/relaysim/internal/runlog"
	"github.com/rendis/relaysim/internal/scheduler"
	"github.com/rendis/relaysim/internal/stages"
	"github.com/rendis/relaysim/pkg/schema"
)

// StageSpec describes one stage's sub-steps. For the transport stage Steps,
// Interval and Trailing are ignored; the transport strategy plans it instead.
type StageSpec struct {
	ID       string
	Name     string
	Steps    []string
	Interval time.Duration
	Trailing time.Duration
}

// Definition returns the registry definition for the stage.
func (s StageSpec) Definition() stages.Definition {
	return stages.Definition{ID: s.ID, Name: s.Name}
}

// Plan returns the step plan for a non-transport stage.
func (s StageSpec) Plan() scheduler.Plan {
	return scheduler.Plan{StageID: s.ID, SubSteps: len(s.Steps), Interval: s.Interval, Trailing: s.Trailing}
}

// Scenario is a complete, validated playback script.
type Scenario struct {
	Name        string
	LogCapacity int
	Stages      []StageSpec
	Transport   scheduler.TransportTiming
	Items       []schema.Item
}

// Definitions returns the registry definitions in stage order.
func (s *Scenario) Definitions() []stages.Definition {
	out := make([]stages.Definition, len(s.Stages))
	for i, st := range s.Stages {
		out[i] = st.Definition()
	}
	return out
}

// TransportIndex returns the index of the transport stage, or -1.
func (s *Scenario) TransportIndex() int {
	for i, st := range s.Stages {
		if st.ID == stages.Transport {
			return i
		}
	}
	return -1
}

// CloneItems returns a deep copy of the sample items.
func (s *Scenario) CloneItems() []schema.Item {
	out := make([]schema.Item, len(s.Items))
	for i, it := range s.Items {
		out[i] = it.Clone()
	}
	return out
}

// Default returns the built-in scenario: five stages and five sample items.
func Default() *Scenario {
	return &Scenario{
		Name:        "read-file tool call",
		LogCapacity: runlog.DefaultCapacity,
		Stages: []StageSpec{
			{
				ID:   stages.ConvertRequest,
				Name: "Convert request",
				Steps: []string{
					"parse inbound chat completion request",
					"map messages to upstream format",
					"attach tool definitions",
				},
				Interval: 400 * time.Millisecond,
				Trailing: 200 * time.Millisecond,
			},
			{ID: stages.Transport, Name: "Transport"},
			{
				ID:   stages.ConvertResponse,
				Name: "Convert response",
				Steps: []string{
					"translate upstream events to chunks",
					"normalize tool call arguments",
				},
				Interval: 350 * time.Millisecond,
				Trailing: 150 * time.Millisecond,
			},
			{
				ID:   stages.Merge,
				Name: "Merge",
				Steps: []string{
					"concatenate content deltas",
					"collect tool calls and usage",
				},
				Interval: 300 * time.Millisecond,
				Trailing: 200 * time.Millisecond,
			},
			{
				ID:   stages.Log,
				Name: "Log",
				Steps: []string{
					"write request trace",
					"record token usage",
				},
				Interval: 250 * time.Millisecond,
				Trailing: 250 * time.Millisecond,
			},
		},
		Transport: scheduler.DefaultTransportTiming(),
		Items: []schema.Item{
			{ID: "chunk-1", Kind: schema.ItemContent, Text: "I will help you "},
			{ID: "chunk-2", Kind: schema.ItemContent, Text: "read the file."},
			{ID: "chunk-3", Kind: schema.ItemToolCall, ToolName: "read_file", ToolArgs: `{"path":"src/main.go"}`},
			{ID: "chunk-4", Kind: schema.ItemFinish, FinishReason: "tool_calls"},
			{ID: "chunk-5", Kind: schema.ItemUsage, Usage: &schema.Usage{Input: 1250, Output: 89}},
		},
	}
}
