package stages

import (
	"sync"

	"github.com/rendis/relaysim/pkg/schema"
)

// Well-known stage IDs of the default pipeline.
const (
	ConvertRequest  = "convert_request"
	Transport       = "transport"
	ConvertResponse = "convert_response"
	Merge           = "merge"
	Log             = "log"
)

// Definition names a stage. The engine attaches timing separately.
type Definition struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// DefaultDefinitions returns the five-stage proxy pipeline.
func DefaultDefinitions() []Definition {
	return []Definition{
		{ID: ConvertRequest, Name: "Convert request"},
		{ID: Transport, Name: "Transport"},
		{ID: ConvertResponse, Name: "Convert response"},
		{ID: Merge, Name: "Merge"},
		{ID: Log, Name: "Log"},
	}
}

// ValidTransitions defines the allowed stage status transitions.
// Returning to pending happens only through Initialize.
var ValidTransitions = map[schema.StageStatus][]schema.StageStatus{
	schema.StageStatusPending:  {schema.StageStatusActive},
	schema.StageStatusActive:   {schema.StageStatusComplete},
	schema.StageStatusComplete: {},
}

// Registry records stage status transitions requested by the run controller.
// It does not schedule time.
type Registry struct {
	mu     sync.Mutex
	stages []schema.Stage
}

// NewRegistry creates a registry with every stage pending.
func NewRegistry(defs []Definition) *Registry {
	r := &Registry{stages: make([]schema.Stage, len(defs))}
	for i, d := range defs {
		r.stages[i] = schema.Stage{ID: d.ID, Name: d.Name}
	}
	r.Initialize()
	return r
}

// Initialize resets every stage to pending and clears recorded durations.
func (r *Registry) Initialize() []schema.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.stages {
		r.stages[i].Status = schema.StageStatusPending
		r.stages[i].DurationMs = nil
	}
	return r.snapshotLocked()
}

// Len returns the number of stages.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stages)
}

// ID returns the stage ID at index, or "" when out of range.
func (r *Registry) ID(index int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.stages) {
		return ""
	}
	return r.stages[index].ID
}

// AdvanceTo marks the stage at index active. Every stage to its left must be
// complete and no other stage may be active.
func (r *Registry) AdvanceTo(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkIndex(index); err != nil {
		return err
	}
	for i := 0; i < index; i++ {
		if r.stages[i].Status != schema.StageStatusComplete {
			return schema.NewErrorf(schema.ErrCodeInvalidTransition,
				"cannot advance to stage %d: stage %d is %s", index, i, r.stages[i].Status).
				WithStage(r.stages[index].ID)
		}
	}
	for i := index + 1; i < len(r.stages); i++ {
		if r.stages[i].Status != schema.StageStatusPending {
			return schema.NewErrorf(schema.ErrCodeInvalidTransition,
				"cannot advance to stage %d: later stage %d is %s", index, i, r.stages[i].Status).
				WithStage(r.stages[index].ID)
		}
	}
	return r.transitionLocked(index, schema.StageStatusActive)
}

// Complete marks the active stage at index complete and records its duration.
func (r *Registry) Complete(index int, durationMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkIndex(index); err != nil {
		return err
	}
	if err := r.transitionLocked(index, schema.StageStatusComplete); err != nil {
		return err
	}
	d := durationMs
	r.stages[index].DurationMs = &d
	return nil
}

// Snapshot returns a deep copy of the stage list.
func (r *Registry) Snapshot() []schema.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// ActiveIndex returns the index of the active stage, or -1.
func (r *Registry) ActiveIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.stages {
		if s.Status == schema.StageStatusActive {
			return i
		}
	}
	return -1
}

// CompletedCount returns how many stages are complete.
func (r *Registry) CompletedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.stages {
		if s.Status == schema.StageStatusComplete {
			n++
		}
	}
	return n
}

func (r *Registry) checkIndex(index int) error {
	if index < 0 || index >= len(r.stages) {
		return schema.NewErrorf(schema.ErrCodeNotFound, "stage index %d out of range [0,%d)", index, len(r.stages))
	}
	return nil
}

func (r *Registry) transitionLocked(index int, to schema.StageStatus) error {
	from := r.stages[index].Status
	if !isValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid stage transition: %s -> %s", from, to).
			WithStage(r.stages[index].ID).
			WithDetails(map[string]any{"index": index, "from": string(from), "to": string(to)})
	}
	r.stages[index].Status = to
	return nil
}

func (r *Registry) snapshotLocked() []schema.Stage {
	out := make([]schema.Stage, len(r.stages))
	for i, s := range r.stages {
		out[i] = s
		if s.DurationMs != nil {
			d := *s.DurationMs
			out[i].DurationMs = &d
		}
	}
	return out
}

func isValidTransition(from, to schema.StageStatus) bool {
	for _, a := range ValidTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// CheckInvariant reports whether stages form a valid progression: a prefix of
// complete stages, at most one active stage, and pending stages after it.
func CheckInvariant(stages []schema.Stage) bool {
	phase := 0 // 0 = complete prefix, 1 = seen active, 2 = pending suffix
	for _, s := range stages {
		switch s.Status {
		case schema.StageStatusComplete:
			if phase != 0 {
				return false
			}
		case schema.StageStatusActive:
			if phase != 0 {
				return false
			}
			phase = 1
		case schema.StageStatusPending:
			phase = 2
		default:
			return false
		}
	}
	return true
}
