package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/rendis/relaysim/internal/streaming"
	"github.com/rendis/relaysim/pkg/schema"
)

// Phase is the run controller's position in the pipeline: "idle", or
// "<stage_id>:active" / "<stage_id>:complete".
type Phase string

// PhaseIdle is the phase at rest, before the first stage and after the last.
const PhaseIdle Phase = "idle"

// StagePhase builds the phase for a stage in the given status.
func StagePhase(stageID string, status schema.StageStatus) Phase {
	return Phase(stageID + ":" + string(status))
}

// Split returns the stage ID and status encoded in p. Idle yields ("", "").
func (p Phase) Split() (string, schema.StageStatus) {
	id, status, ok := strings.Cut(string(p), ":")
	if !ok {
		return "", ""
	}
	return id, schema.StageStatus(status)
}

// TransitionHook is called after a phase transition.
type TransitionHook func(from, to Phase)

// EventPublisher is satisfied by streaming.EventHub; used by the FSM to emit
// events on transitions.
type EventPublisher interface {
	Publish(ctx context.Context, event streaming.StreamEvent) error
}

// RunFSM tracks the run phase and validates that transitions follow the
// stage order: idle -> s0:active -> s0:complete -> s1:active -> ... -> idle.
// Moving to idle is allowed from any phase.
type RunFSM struct {
	mu        sync.Mutex
	order     []string
	index     map[string]int
	current   Phase
	publisher EventPublisher
	after     []TransitionHook
}

// NewRunFSM creates an FSM over the given stage order.
func NewRunFSM(stageIDs []string, publisher EventPublisher) *RunFSM {
	idx := make(map[string]int, len(stageIDs))
	for i, id := range stageIDs {
		idx[id] = i
	}
	return &RunFSM{
		order:     append([]string(nil), stageIDs...),
		index:     idx,
		current:   PhaseIdle,
		publisher: publisher,
	}
}

// OnAfter registers a hook called after every successful transition.
func (f *RunFSM) OnAfter(hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.after = append(f.after, hook)
}

// Current returns the current phase.
func (f *RunFSM) Current() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Transition validates and applies a move to `to`, then emits the matching
// stage event. payload is evaluated after the phase has changed.
func (f *RunFSM) Transition(ctx context.Context, runID string, to Phase, payload func() any) error {
	f.mu.Lock()
	from := f.current
	if !f.validLocked(from, to) {
		f.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid phase transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}
	f.current = to
	hooks := append([]TransitionHook(nil), f.after...)
	f.mu.Unlock()

	for _, hook := range hooks {
		hook(from, to)
	}

	stageID, status := to.Split()
	eventType := phaseEventType(status)
	if eventType == "" || f.publisher == nil {
		return nil
	}
	ev := streaming.StreamEvent{RunID: runID, StageID: stageID, EventType: eventType}
	if payload != nil {
		ev.Payload = payload()
	}
	if err := f.publisher.Publish(ctx, ev); err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "emit %s event: %s", eventType, err.Error()).
			WithStage(stageID).WithCause(err)
	}
	return nil
}

// Reset forces the phase back to idle without validation or events.
func (f *RunFSM) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = PhaseIdle
}

func (f *RunFSM) validLocked(from, to Phase) bool {
	if to == PhaseIdle {
		return true
	}
	toID, toStatus := to.Split()
	toIdx, ok := f.index[toID]
	if !ok {
		return false
	}

	if from == PhaseIdle {
		return toIdx == 0 && toStatus == schema.StageStatusActive
	}
	fromID, fromStatus := from.Split()
	fromIdx := f.index[fromID]

	switch {
	case fromStatus == schema.StageStatusActive:
		return toIdx == fromIdx && toStatus == schema.StageStatusComplete
	case fromStatus == schema.StageStatusComplete:
		return toIdx == fromIdx+1 && toStatus == schema.StageStatusActive
	default:
		return false
	}
}

func phaseEventType(to schema.StageStatus) string {
	switch to {
	case schema.StageStatusActive:
		return schema.EventStageActive
	case schema.StageStatusComplete:
		return schema.EventStageComplete
	default:
		return ""
	}
}
