package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/relaysim/internal/logging"
	"github.com/rendis/relaysim/internal/merge"
	"github.com/rendis/relaysim/internal/runlog"
	"github.com/rendis/relaysim/internal/scenario"
	"github.com/rendis/relaysim/internal/scheduler"
	"github.com/rendis/relaysim/internal/stages"
	"github.com/rendis/relaysim/internal/streaming"
	"github.com/rendis/relaysim/pkg/schema"
)

// Options tune controller behavior.
type Options struct {
	// RestartOnStart makes Start while running reset and start over instead
	// of being a no-op.
	RestartOnStart bool
	// LogCapacity overrides the scenario's log capacity when > 0.
	LogCapacity int
}

// Deps holds the controller's collaborators. Only Queue is required.
type Deps struct {
	Queue    *scheduler.Queue
	Hub      streaming.EventHub
	Logger   *slog.Logger
	Scenario *scenario.Scenario
	Options  Options
}

// Snapshot is an immutable copy of the run state handed to readers.
type Snapshot struct {
	RunID       string               `json:"run_id,omitempty"`
	Running     bool                 `json:"running"`
	Mode        schema.Mode          `json:"mode,omitempty"`
	Phase       Phase                `json:"phase"`
	Stages      []schema.Stage       `json:"stages"`
	Items       []schema.Item        `json:"items"`
	Merged      *schema.MergedResult `json:"merged"`
	Logs        []schema.LogEntry    `json:"logs"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// CompletedCount returns how many stages are complete.
func (s Snapshot) CompletedCount() int {
	n := 0
	for _, st := range s.Stages {
		if st.Status == schema.StageStatusComplete {
			n++
		}
	}
	return n
}

// Controller owns the run state and drives it through the stages on the
// scheduler queue. All mutation happens under mu, either from the public
// methods or from queue callbacks guarded by the run's token.
type Controller struct {
	queue    *scheduler.Queue
	steps    *scheduler.StepScheduler
	hub      streaming.EventHub
	logger   *slog.Logger
	scenario *scenario.Scenario
	opts     Options

	mu          sync.Mutex
	registry    *stages.Registry
	fsm         *RunFSM
	log         *runlog.Buffer
	items       []schema.Item
	merged      *schema.MergedResult
	token       *scheduler.Token
	strategy    scheduler.TransportStrategy
	running     bool
	mode        schema.Mode
	runID       string
	startedAt   *time.Time
	completedAt *time.Time
}

// NewController creates an idle controller.
func NewController(deps Deps) (*Controller, error) {
	if deps.Queue == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "controller requires a queue")
	}
	sc := deps.Scenario
	if sc == nil {
		sc = scenario.Default()
	}
	check := scenario.Check(sc)
	if err := check.ToError(); err != nil {
		return nil, err
	}
	hub := deps.Hub
	if hub == nil {
		hub = streaming.NewMemoryHub()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, w := range check.Warnings {
		logger.Warn("scenario warning", slog.String("scenario", sc.Name), slog.String("issue", w.String()))
	}
	capacity := deps.Options.LogCapacity
	if capacity <= 0 {
		capacity = sc.LogCapacity
	}

	ids := make([]string, len(sc.Stages))
	for i, st := range sc.Stages {
		ids[i] = st.ID
	}

	c := &Controller{
		queue:    deps.Queue,
		steps:    scheduler.NewStepScheduler(deps.Queue),
		hub:      hub,
		logger:   logger,
		scenario: sc,
		opts:     deps.Options,
		registry: stages.NewRegistry(sc.Definitions()),
		fsm:      NewRunFSM(ids, hub),
		log:      runlog.NewBuffer(capacity, deps.Queue.Clock()),
		items:    []schema.Item{},
	}
	c.fsm.OnAfter(func(from, to Phase) {
		c.logger.Debug("phase transition", slog.String("from", string(from)), slog.String("to", string(to)))
	})
	return c, nil
}

// Hub returns the hub the controller publishes to.
func (c *Controller) Hub() streaming.EventHub { return c.hub }

// Scenario returns the scenario the controller plays.
func (c *Controller) Scenario() *scenario.Scenario { return c.scenario }

// Start begins a run in mode. While a run is in progress it returns the
// current snapshot unchanged, unless RestartOnStart is set, in which case the
// old run is reset first. Any tasks left by a previous run are cancelled
// before the new run schedules anything.
func (c *Controller) Start(ctx context.Context, mode schema.Mode) (Snapshot, error) {
	strategy, err := scheduler.StrategyFor(mode)
	if err != nil {
		return Snapshot{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		if !c.opts.RestartOnStart {
			logging.LogWith(c.ctxLocked(ctx), c.logger).Debug("start ignored, run in progress")
			return c.snapshotLocked(), nil
		}
		c.resetLocked(ctx)
	}

	c.queue.CancelAll(c.token)
	c.clearLocked()

	now := c.queue.Clock().Now()
	c.token = c.queue.NewToken()
	c.strategy = strategy
	c.mode = mode
	c.runID = uuid.New().String()
	c.running = true
	c.startedAt = &now

	ctx = c.ctxLocked(ctx)
	logging.LogWith(ctx, c.logger).Info("run started", slog.Int("items", len(c.scenario.Items)))
	c.appendLogLocked(fmt.Sprintf("run started (%s)", mode))
	c.publishLocked(ctx, schema.EventRunStarted, "")

	c.beginStageLocked(c.token, 0)
	return c.snapshotLocked(), nil
}

// StartIfIdle starts a run only when none is in progress. It reports whether
// a run was started.
func (c *Controller) StartIfIdle(ctx context.Context, mode schema.Mode) (bool, error) {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if running {
		return false, nil
	}
	_, err := c.Start(ctx, mode)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stop cancels the current run and returns every component to its initial
// state. It is valid at any time and idempotent.
func (c *Controller) Stop(ctx context.Context) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(ctx)
	return c.snapshotLocked()
}

// Reset is Stop under the name the display surfaces use.
func (c *Controller) Reset(ctx context.Context) Snapshot {
	return c.Stop(ctx)
}

// Snapshot returns a deep copy of the run state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Stages returns the stage list.
func (c *Controller) Stages() []schema.Stage {
	return c.registry.Snapshot()
}

// Items returns the items revealed so far.
func (c *Controller) Items() []schema.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneItems(c.items)
}

// Merged returns the merged result, or nil before transport completes.
func (c *Controller) Merged() *schema.MergedResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.merged.Clone()
}

// Logs returns the retained log entries, oldest first.
func (c *Controller) Logs() []schema.LogEntry {
	return c.log.Entries()
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	return c.fsm.Current()
}

// Running reports whether a run is in progress.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Wait blocks until cond holds for the current snapshot or ctx ends. cond is
// re-checked on every event the controller publishes.
func (c *Controller) Wait(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	events, unsubscribe, err := c.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return Snapshot{}, fmt.Errorf("subscribe: %w", err)
	}
	defer unsubscribe()

	for {
		snap := c.Snapshot()
		if cond(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			code := schema.ErrCodeCancelled
			if ctx.Err() == context.DeadlineExceeded {
				code = schema.ErrCodeTimeout
			}
			return snap, schema.NewError(code, "wait ended before condition held").WithCause(ctx.Err())
		case _, ok := <-events:
			if !ok {
				return c.Snapshot(), schema.NewError(schema.ErrCodeCancelled, "event stream closed")
			}
		}
	}
}

// --- run internals; every *Locked method requires mu ---

// guard wraps a queue callback so it runs only while tok is the live token.
func (c *Controller) guard(tok *scheduler.Token, fn func()) func() {
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if tok.Cancelled() || tok != c.token {
			return
		}
		fn()
	}
}

func (c *Controller) guardStep(tok *scheduler.Token, fn func(k int)) func(int) {
	return func(k int) {
		c.guard(tok, func() { fn(k) })()
	}
}

func (c *Controller) beginStageLocked(tok *scheduler.Token, index int) {
	spec := c.scenario.Stages[index]
	ctx := logging.WithStageID(c.ctxLocked(context.Background()), spec.ID)

	if err := c.registry.AdvanceTo(index); err != nil {
		c.failLocked(ctx, err)
		return
	}
	if err := c.fsm.Transition(ctx, c.runID, StagePhase(spec.ID, schema.StageStatusActive), c.payloadLocked); err != nil {
		logging.LogWith(ctx, c.logger).Warn("stage event", slog.String("error", err.Error()))
	}
	c.appendLogLocked(fmt.Sprintf("▶ %s", spec.Name))

	if spec.ID == stages.Transport {
		c.beginTransportLocked(ctx, tok, index)
		return
	}

	plan := spec.Plan()
	c.steps.RunStage(tok, plan,
		c.guardStep(tok, func(k int) {
			c.appendLogLocked(fmt.Sprintf("  %s: %s", spec.ID, spec.Steps[k-1]))
		}),
		c.guard(tok, func() { c.completeStageLocked(ctx, tok, index, plan) }),
	)
}

func (c *Controller) beginTransportLocked(ctx context.Context, tok *scheduler.Token, index int) {
	all := c.scenario.Items
	plan := c.strategy.Plan(len(all), c.scenario.Transport)
	plan.StageID = c.scenario.Stages[index].ID

	c.steps.RunStage(tok, plan,
		c.guardStep(tok, func(k int) {
			revealed := c.strategy.Reveal(k, all)
			c.items = append(c.items, revealed...)
			if c.mode == schema.ModeStreaming {
				for _, it := range revealed {
					c.appendLogLocked(fmt.Sprintf("  chunk %d/%d %s", len(c.items), len(all), describeItem(it)))
				}
				c.publishLocked(ctx, schema.EventItemAppended, plan.StageID)
				return
			}
			c.appendLogLocked(fmt.Sprintf("  response received: %d items", len(revealed)))
			c.publishLocked(ctx, schema.EventItemsRevealed, plan.StageID)
		}),
		c.guard(tok, func() {
			c.merged = merge.Compute(c.items)
			c.appendLogLocked("  merged: " + merge.Summary(c.merged))
			c.publishLocked(ctx, schema.EventMergeComputed, plan.StageID)
			c.completeStageLocked(ctx, tok, index, plan)
		}),
	)
}

func (c *Controller) completeStageLocked(ctx context.Context, tok *scheduler.Token, index int, plan scheduler.Plan) {
	spec := c.scenario.Stages[index]
	durMs := plan.Duration().Milliseconds()

	if err := c.registry.Complete(index, durMs); err != nil {
		c.failLocked(ctx, err)
		return
	}
	if err := c.fsm.Transition(ctx, c.runID, StagePhase(spec.ID, schema.StageStatusComplete), c.payloadLocked); err != nil {
		logging.LogWith(ctx, c.logger).Warn("stage event", slog.String("error", err.Error()))
	}
	c.appendLogLocked(fmt.Sprintf("✓ %s (%dms)", spec.Name, durMs))

	if index+1 < len(c.scenario.Stages) {
		c.beginStageLocked(tok, index+1)
		return
	}
	c.finishLocked(ctx)
}

// finishLocked ends a run that reached the last stage. Stages, items, merged
// result and logs stay readable until the next Start or Reset.
func (c *Controller) finishLocked(ctx context.Context) {
	now := c.queue.Clock().Now()
	c.running = false
	c.completedAt = &now
	_ = c.fsm.Transition(ctx, c.runID, PhaseIdle, nil)
	c.appendLogLocked("run complete")
	logging.LogWith(ctx, c.logger).Info("run completed", slog.Int("items", len(c.items)))
	c.publishLocked(ctx, schema.EventRunCompleted, "")
}

// failLocked aborts the run after an internal inconsistency.
func (c *Controller) failLocked(ctx context.Context, err error) {
	logging.LogWith(ctx, c.logger).Error("run aborted", slog.String("error", err.Error()))
	c.queue.CancelAll(c.token)
	c.running = false
	c.fsm.Reset()
	c.publishLocked(ctx, schema.EventRunStopped, schema.CodeOf(err))
}

func (c *Controller) resetLocked(ctx context.Context) {
	wasRunning := c.running
	runID := c.runID
	dropped := c.queue.CancelAll(c.token)
	c.clearLocked()
	if wasRunning {
		logging.LogWith(logging.WithRunID(ctx, runID), c.logger).Info("run stopped", slog.Int("dropped_tasks", dropped))
	}
	c.publishRunLocked(ctx, runID, schema.EventRunStopped, "")
}

// clearLocked returns every component to its initial state.
func (c *Controller) clearLocked() {
	c.registry.Initialize()
	c.fsm.Reset()
	c.log.Clear()
	c.items = []schema.Item{}
	c.merged = nil
	c.running = false
	c.mode = ""
	c.runID = ""
	c.strategy = nil
	c.startedAt = nil
	c.completedAt = nil
}

func (c *Controller) appendLogLocked(text string) {
	c.log.Append(text)
	c.publishLocked(context.Background(), schema.EventLogAppended, "")
}

func (c *Controller) publishLocked(ctx context.Context, eventType, stageID string) {
	c.publishRunLocked(ctx, c.runID, eventType, stageID)
}

func (c *Controller) publishRunLocked(ctx context.Context, runID, eventType, stageID string) {
	ev := streaming.StreamEvent{
		RunID:     runID,
		StageID:   stageID,
		EventType: eventType,
		Payload:   c.snapshotLocked(),
	}
	if err := c.hub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		c.logger.Warn("publish event", slog.String("event", eventType), slog.String("error", err.Error()))
	}
}

func (c *Controller) payloadLocked() any {
	return c.snapshotLocked()
}

func (c *Controller) ctxLocked(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.runID != "" {
		ctx = logging.WithRunID(ctx, c.runID)
	}
	if c.mode != "" {
		ctx = logging.WithMode(ctx, string(c.mode))
	}
	return ctx
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		RunID:   c.runID,
		Running: c.running,
		Mode:    c.mode,
		Phase:   c.fsm.Current(),
		Stages:  c.registry.Snapshot(),
		Items:   cloneItems(c.items),
		Merged:  c.merged.Clone(),
		Logs:    c.log.Entries(),
	}
	if c.startedAt != nil {
		t := *c.startedAt
		s.StartedAt = &t
	}
	if c.completedAt != nil {
		t := *c.completedAt
		s.CompletedAt = &t
	}
	return s
}

func cloneItems(items []schema.Item) []schema.Item {
	out := make([]schema.Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

func describeItem(it schema.Item) string {
	switch it.Kind {
	case schema.ItemContent:
		return fmt.Sprintf("content %q", it.Text)
	case schema.ItemToolCall:
		return fmt.Sprintf("tool_call %s %s", it.ToolName, it.ToolArgs)
	case schema.ItemFinish:
		return "finish " + it.FinishReason
	case schema.ItemUsage:
		if it.Usage != nil {
			return fmt.Sprintf("usage in=%d out=%d", it.Usage.Input, it.Usage.Output)
		}
	}
	return string(it.Kind)
}
