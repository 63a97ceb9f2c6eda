package main

import (
	"io"
	"log/slog"

	"github.com/rendis/relaysim/internal/engine"
	"github.com/rendis/relaysim/internal/logging"
	"github.com/rendis/relaysim/internal/scenario"
	"github.com/rendis/relaysim/internal/scheduler"
	"github.com/rendis/relaysim/internal/streaming"
	"github.com/rendis/relaysim/pkg/schema"
)

// Options is the root command. The struct tags are interpreted by
// github.com/jessevdk/go-flags; global flags override settings and env.
type Options struct {
	Config   string `short:"c" long:"config" description:"settings file (default: ~/.relaysim/settings.json)"`
	LogLevel string `long:"log-level" description:"log level: debug, info, warn, error"`
	Scenario string `short:"s" long:"scenario" description:"scenario YAML file (default: built-in read-file scenario)"`

	Play    PlayCmd    `command:"play" description:"Play one run in the terminal"`
	Serve   ServeCmd   `command:"serve" description:"Serve the web panel with live run events"`
	MCP     MCPCmd     `command:"mcp" description:"Serve relay tools over MCP stdio"`
	Diagram DiagramCmd `command:"diagram" description:"Render the pipeline at a point in a run"`
	Version VersionCmd `command:"version" description:"Print the version"`

	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
}

func newOptions(stdout, stderr io.Writer, getenv func(string) string) *Options {
	o := &Options{stdout: stdout, stderr: stderr, getenv: getenv}
	o.Play.root = o
	o.Serve.root = o
	o.MCP.root = o
	o.Diagram.root = o
	o.Version.root = o
	return o
}

// config resolves the effective configuration for a command.
func (o *Options) config() Config {
	path := o.Config
	if path == "" {
		path = settingsPath()
	}
	cfg := loadConfig(path, o.getenv)
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.Scenario != "" {
		cfg.Scenario = o.Scenario
	}
	return cfg
}

func (o *Options) logger(cfg Config) *slog.Logger {
	return logging.New(o.stderr, cfg.LogLevel)
}

func loadScenario(path string) (*scenario.Scenario, error) {
	if path == "" {
		return scenario.Default(), nil
	}
	loader, err := scenario.NewLoader()
	if err != nil {
		return nil, err
	}
	return loader.LoadFile(path)
}

// newController builds a controller for cfg on top of q.
func newController(cfg Config, q *scheduler.Queue, hub streaming.EventHub, logger *slog.Logger) (*engine.Controller, error) {
	sc, err := loadScenario(cfg.Scenario)
	if err != nil {
		return nil, err
	}
	return engine.NewController(engine.Deps{
		Queue:    q,
		Hub:      hub,
		Logger:   logger,
		Scenario: sc,
		Options: engine.Options{
			RestartOnStart: cfg.RestartOnStart,
			LogCapacity:    cfg.LogCapacity,
		},
	})
}

// modeOf picks the flag value over the configured mode.
func modeOf(flag string, cfg Config) (schema.Mode, error) {
	if flag != "" {
		return schema.ParseMode(flag)
	}
	return schema.ParseMode(cfg.Mode)
}
