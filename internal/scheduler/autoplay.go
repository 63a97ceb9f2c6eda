package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/relaysim/pkg/schema"
)

// IdleStarter starts a run only when none is in progress. Satisfied by the
// engine controller (avoids import cycle).
type IdleStarter interface {
	StartIfIdle(ctx context.Context, mode schema.Mode) (bool, error)
}

// Autoplay replays the demo on a cron schedule while the controller is idle.
type Autoplay struct {
	starter  IdleStarter
	parser   cron.Parser
	schedule cron.Schedule
	expr     string
	mode     schema.Mode
	clock    Clock
	logger   *slog.Logger

	// Tick is how often the loop checks for a due replay.
	Tick time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	nextMu sync.Mutex
	next   time.Time
	last   time.Time
	runs   int
}

// NewAutoplay parses cronExpr (5-field) and prepares a replay loop.
func NewAutoplay(cronExpr string, mode schema.Mode, starter IdleStarter, clock Clock, logger *slog.Logger) (*Autoplay, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Autoplay{
		starter: starter,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		expr:    cronExpr,
		mode:    mode,
		clock:   clock,
		logger:  logger,
		Tick:    time.Second,
	}
	sched, err := a.parser.Parse(cronExpr)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse cron expression %q: %s", cronExpr, err.Error()).WithCause(err)
	}
	a.schedule = sched
	a.next = sched.Next(clock.Now())
	return a, nil
}

// Start launches the background replay loop.
func (a *Autoplay) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.done != nil {
		a.mu.Unlock()
		return fmt.Errorf("autoplay already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.loop(loopCtx)
	a.logger.Info("autoplay started", slog.String("cron", a.expr), slog.String("mode", string(a.mode)))
	return nil
}

func (a *Autoplay) loop(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(a.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Check(ctx)
		}
	}
}

// Check starts a replay if one is due and advances the next run time.
// It reports whether a run was started.
func (a *Autoplay) Check(ctx context.Context) bool {
	now := a.clock.Now()

	a.nextMu.Lock()
	due := !a.next.After(now)
	if due {
		a.last = now
		a.next = a.schedule.Next(now)
	}
	a.nextMu.Unlock()

	if !due {
		return false
	}

	started, err := a.starter.StartIfIdle(ctx, a.mode)
	if err != nil {
		a.logger.Error("autoplay start failed", slog.String("error", err.Error()))
		return false
	}
	if !started {
		a.logger.Debug("autoplay skipped, run in progress")
		return false
	}

	a.nextMu.Lock()
	a.runs++
	a.nextMu.Unlock()
	a.logger.Info("autoplay run started", slog.String("mode", string(a.mode)))
	return true
}

// NextRun returns the next scheduled replay time.
func (a *Autoplay) NextRun() time.Time {
	a.nextMu.Lock()
	defer a.nextMu.Unlock()
	return a.next
}

// Runs returns how many replays autoplay has started.
func (a *Autoplay) Runs() int {
	a.nextMu.Lock()
	defer a.nextMu.Unlock()
	return a.runs
}

// CalculateNextRun computes the next run time for a cron expression.
func (a *Autoplay) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := a.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop shuts the loop down and waits for it to exit.
func (a *Autoplay) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel == nil {
		return nil
	}

	a.cancel()
	<-a.done
	a.cancel = nil
	a.done = nil

	a.logger.Info("autoplay stopped")
	return nil
}
