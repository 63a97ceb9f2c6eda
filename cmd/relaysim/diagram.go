package main

import (
	"context"
	"os"
	"time"

	"github.com/rendis/relaysim/internal/diagram"
	"github.com/rendis/relaysim/internal/scheduler"
	"github.com/rendis/relaysim/internal/streaming"
	"github.com/rendis/relaysim/pkg/schema"
)

// DiagramCmd fast-forwards a run to --at and renders the pipeline there.
// Usage: relaysim diagram --at 2s --format png --out pipeline.png
type DiagramCmd struct {
	Mode   string        `short:"m" long:"mode" description:"transport mode: streaming or non-streaming"`
	At     time.Duration `long:"at" default:"2s" description:"simulated time into the run"`
	Format string        `short:"F" long:"format" default:"ascii" choice:"ascii" choice:"mermaid" choice:"png" description:"output format"`
	Out    string        `short:"o" long:"out" description:"write to this file instead of stdout (required for png)"`

	root *Options
}

func (c *DiagramCmd) Execute(_ []string) error {
	cfg := c.root.config()
	mode, err := modeOf(c.Mode, cfg)
	if err != nil {
		return err
	}
	if c.Format == "png" && c.Out == "" {
		return schema.NewError(schema.ErrCodeValidation, "--out is required for png output")
	}

	q := scheduler.NewQueue(scheduler.NewManualClock(time.Now()))
	ctrl, err := newController(cfg, q, streaming.NewMemoryHub(), c.root.logger(cfg))
	if err != nil {
		return err
	}
	ctx := context.Background()
	if _, err := ctrl.Start(ctx, mode); err != nil {
		return err
	}
	q.Advance(c.At)
	snap := ctrl.Snapshot()

	model := diagram.Build(diagram.Input{Title: cfg.Title, Mode: snap.Mode, Stages: snap.Stages, Items: snap.Items})
	var out []byte
	switch c.Format {
	case "mermaid":
		out = []byte(diagram.RenderMermaid(model))
	case "png":
		if out, err = diagram.RenderImage(ctx, model); err != nil {
			return err
		}
	default:
		out = []byte(diagram.RenderASCII(model))
	}

	if c.Out == "" {
		_, err = c.root.stdout.Write(out)
		return err
	}
	return os.WriteFile(c.Out, out, 0o644)
}
