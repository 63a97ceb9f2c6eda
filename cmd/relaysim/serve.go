package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rendis/relaysim/internal/engine"
	"github.com/rendis/relaysim/internal/expressions"
	"github.com/rendis/relaysim/internal/logging"
	"github.com/rendis/relaysim/internal/panel"
	"github.com/rendis/relaysim/internal/scheduler"
	"github.com/rendis/relaysim/internal/streaming"
	"github.com/rendis/relaysim/internal/validation"
)

// ServeCmd starts the web panel on a real-time queue.
// Usage: relaysim serve --addr :4200 --autoplay '*/2 * * * *'
//
// SIGHUP re-reads settings and swaps in a rebuilt panel when the scenario,
// mode or autoplay schedule changed.
type ServeCmd struct {
	Addr     string `short:"a" long:"addr" description:"listen address (default: :4200)"`
	Mode     string `short:"m" long:"mode" description:"default transport mode for the run button and autoplay"`
	Autoplay string `long:"autoplay" description:"5-field cron expression that replays the demo while idle"`
	Restart  bool   `long:"restart-on-start" description:"restart a run in progress instead of ignoring start"`

	root *Options
}

func (c *ServeCmd) Execute(_ []string) error {
	cfg := c.apply(c.root.config())
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewLeveled(c.root.stderr, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q := scheduler.NewQueue(scheduler.SystemClock{})
	go q.Run(ctx)

	st, err := buildStack(ctx, cfg, q, logger)
	if err != nil {
		return err
	}

	swapper := newHandlerSwapper(st.panel.Handler())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           swapper,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("panel listening", slog.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			st.close(shutdownCtx)
			logger.Info("panel shutting down")
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			st.close(context.Background())
			return err
		case <-hup:
			next := c.apply(c.root.config())
			diff := diffConfigs(cfg, next)
			for _, field := range diff.RestartNeeded {
				logger.Warn("setting change needs a restart", slog.String("field", field))
			}
			next.ListenAddr = cfg.ListenAddr
			if reloadLogLevel(level, diff, next) {
				logger.Info("log level changed", slog.String("level", next.LogLevel))
			}
			if !diff.RebuildNeeded() {
				cfg = next
				continue
			}
			rebuilt, err := buildStack(ctx, next, q, logger)
			if err != nil {
				logger.Error("reload failed, keeping current panel", slog.String("error", err.Error()))
				continue
			}
			swapper.Swap(rebuilt.panel.Handler())
			st.close(ctx)
			st, cfg = rebuilt, next
			logger.Info("settings reloaded")
		}
	}
}

// reloadLogLevel moves the shared level to next's setting. Every component
// built from the serve logger sees the change without a rebuild.
func reloadLogLevel(level *slog.LevelVar, diff configDiff, next Config) bool {
	if !diff.LogLevelChanged {
		return false
	}
	level.Set(logging.ParseLevel(next.LogLevel))
	return true
}

// apply lays the serve flags over cfg.
func (c *ServeCmd) apply(cfg Config) Config {
	if c.Addr != "" {
		cfg.ListenAddr = c.Addr
	}
	if c.Mode != "" {
		cfg.Mode = c.Mode
	}
	if c.Autoplay != "" {
		cfg.AutoplayCron = c.Autoplay
	}
	if c.Restart {
		cfg.RestartOnStart = true
	}
	return cfg
}

// stack is one controller with the surfaces wired to it.
type stack struct {
	ctrl     *engine.Controller
	panel    *panel.PanelServer
	autoplay *scheduler.Autoplay
}

func buildStack(ctx context.Context, cfg Config, q *scheduler.Queue, logger *slog.Logger) (*stack, error) {
	mode, err := modeOf("", cfg)
	if err != nil {
		return nil, err
	}
	hub := streaming.NewMemoryHub()
	ctrl, err := newController(cfg, q, hub, logger)
	if err != nil {
		return nil, err
	}
	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	registry, err := expressions.NewRegistry()
	if err != nil {
		return nil, err
	}

	deps := panel.PanelDeps{
		Runner:      ctrl,
		Hub:         hub,
		Validator:   validator,
		Expressions: registry,
		DefaultMode: mode,
		Title:       cfg.Title,
		Logger:      logger,
	}
	st := &stack{ctrl: ctrl}
	if cfg.AutoplayCron != "" {
		ap, err := scheduler.NewAutoplay(cfg.AutoplayCron, mode, ctrl, q.Clock(), logger)
		if err != nil {
			return nil, err
		}
		if err := ap.Start(ctx); err != nil {
			return nil, err
		}
		st.autoplay = ap
		deps.Autoplay = ap
	}
	st.panel = panel.NewPanelServer(deps)
	return st, nil
}

// close stops autoplay and cancels the controller's run.
func (s *stack) close(ctx context.Context) {
	if s.autoplay != nil {
		_ = s.autoplay.Stop()
	}
	s.ctrl.Stop(ctx)
}
