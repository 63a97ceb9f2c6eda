package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/relaysim/internal/expressions"
	"github.com/rendis/relaysim/internal/scheduler"
	"github.com/rendis/relaysim/internal/streaming"
	relaymcp "github.com/rendis/relaysim/pkg/mcp"
)

// MCPCmd serves the relay.* tools on stdio. Logs go to stderr since stdout
// carries the protocol.
type MCPCmd struct {
	Restart bool `long:"restart-on-start" description:"restart a run in progress instead of ignoring start"`

	root *Options
}

func (c *MCPCmd) Execute(_ []string) error {
	cfg := c.root.config()
	if c.Restart {
		cfg.RestartOnStart = true
	}
	logger := c.root.logger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q := scheduler.NewQueue(scheduler.SystemClock{})
	go q.Run(ctx)

	hub := streaming.NewMemoryHub()
	ctrl, err := newController(cfg, q, hub, logger)
	if err != nil {
		return err
	}
	registry, err := expressions.NewRegistry()
	if err != nil {
		return err
	}

	srv := relaymcp.NewRelayServer(relaymcp.RelayServerDeps{
		Runner:      ctrl,
		Hub:         hub,
		Expressions: registry,
		Logger:      logger,
	})
	logger.Info("mcp server ready on stdio")
	return srv.Serve(ctx)
}
