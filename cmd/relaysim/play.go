package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rendis/relaysim/internal/diagram"
	"github.com/rendis/relaysim/internal/engine"
	"github.com/rendis/relaysim/internal/expressions"
	"github.com/rendis/relaysim/internal/merge"
	"github.com/rendis/relaysim/internal/scheduler"
	"github.com/rendis/relaysim/internal/streaming"
	"github.com/rendis/relaysim/pkg/schema"
)

// maxFrames bounds a play session in case a scenario never completes.
const maxFrames = 10000

// PlayCmd runs one simulation and prints a frame per tick of simulated time.
// Usage: relaysim play --mode non-streaming --until 'len(run.items) >= 3'
type PlayCmd struct {
	Mode      string        `short:"m" long:"mode" description:"transport mode: streaming or non-streaming"`
	Until     string        `long:"until" description:"stop as soon as this condition over the run holds"`
	Engine    string        `long:"engine" default:"expr" choice:"expr" choice:"cel" choice:"jq" description:"expression engine for --until"`
	Frame     time.Duration `long:"frame" default:"400ms" description:"simulated time between frames"`
	Realtime  bool          `long:"realtime" description:"pace frames with the wall clock"`
	NoDiagram bool          `long:"no-diagram" description:"print log lines only"`

	root *Options
}

func (c *PlayCmd) Execute(_ []string) error {
	cfg := c.root.config()
	mode, err := modeOf(c.Mode, cfg)
	if err != nil {
		return err
	}
	if c.Frame <= 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "--frame must be positive, got %s", c.Frame)
	}

	var until func(any) bool
	if c.Until != "" {
		registry, err := expressions.NewRegistry()
		if err != nil {
			return err
		}
		if until, err = registry.Condition(c.Engine, c.Until); err != nil {
			return err
		}
	}

	clock := scheduler.NewManualClock(time.Now())
	q := scheduler.NewQueue(clock)
	ctrl, err := newController(cfg, q, streaming.NewMemoryHub(), c.root.logger(cfg))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := &player{
		ctrl:     ctrl,
		queue:    q,
		clock:    clock,
		out:      c.root.stdout,
		frame:    c.Frame,
		pace:     c.Realtime,
		diagram:  !c.NoDiagram,
		until:    until,
		untilSrc: c.Until,
	}
	return p.play(ctx, mode)
}

type player struct {
	ctrl     *engine.Controller
	queue    *scheduler.Queue
	clock    *scheduler.ManualClock
	out      io.Writer
	frame    time.Duration
	pace     bool
	diagram  bool
	until    func(any) bool
	untilSrc string

	start   time.Time
	lastSeq int64
}

func (p *player) play(ctx context.Context, mode schema.Mode) error {
	p.start = p.clock.Now()
	snap, err := p.ctrl.Start(ctx, mode)
	if err != nil {
		return err
	}

	for frames := 0; ; frames++ {
		p.render(snap)
		if p.until != nil && p.until(snap) {
			fmt.Fprintf(p.out, "condition met: %s\n", p.untilSrc)
			p.ctrl.Stop(ctx)
			return nil
		}
		if !snap.Running {
			break
		}
		if frames >= maxFrames {
			p.ctrl.Stop(ctx)
			return schema.NewErrorf(schema.ErrCodeTimeout, "run did not finish within %d frames", maxFrames)
		}

		if p.pace {
			select {
			case <-ctx.Done():
				p.ctrl.Stop(ctx)
				return ctx.Err()
			case <-time.After(p.frame):
			}
		}
		p.queue.Advance(p.frame)
		snap = p.ctrl.Snapshot()
	}

	if snap.Merged != nil {
		fmt.Fprintf(p.out, "merged: %s\n", merge.Summary(snap.Merged))
	}
	if snap.CompletedAt != nil {
		fmt.Fprintf(p.out, "run complete in %dms\n", snap.CompletedAt.Sub(p.start).Milliseconds())
	}
	return nil
}

// render prints the frame header, the diagram and any new log lines.
func (p *player) render(snap engine.Snapshot) {
	elapsed := p.clock.Now().Sub(p.start).Milliseconds()
	fmt.Fprintf(p.out, "--- t+%dms  %s  %d/%d stages ---\n", elapsed, snap.Phase, snap.CompletedCount(), len(snap.Stages))
	if p.diagram {
		model := diagram.Build(diagram.Input{Mode: snap.Mode, Stages: snap.Stages, Items: snap.Items})
		fmt.Fprint(p.out, diagram.RenderASCII(model))
	}
	for _, entry := range snap.Logs {
		if entry.Seq <= p.lastSeq {
			continue
		}
		fmt.Fprintf(p.out, "%s %s\n", entry.Timestamp, entry.Text)
		p.lastSeq = entry.Seq
	}
}
