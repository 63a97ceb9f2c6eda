// Package mcp exposes the relay simulator as a set of MCP tools so that an
// agent can start runs, inspect them and wait on conditions.
package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/relaysim/internal/engine"
	"github.com/rendis/relaysim/internal/expressions"
	"github.com/rendis/relaysim/internal/streaming"
	"github.com/rendis/relaysim/pkg/schema"
)

// DefaultAwaitTimeout bounds relay.await when the caller gives no timeout.
const DefaultAwaitTimeout = 30 * time.Second

// Runner is the controller surface the tools drive.
type Runner interface {
	Start(ctx context.Context, mode schema.Mode) (engine.Snapshot, error)
	Stop(ctx context.Context) engine.Snapshot
	Snapshot() engine.Snapshot
	Wait(ctx context.Context, cond func(engine.Snapshot) bool) (engine.Snapshot, error)
}

// RelayServerDeps holds the dependencies for creating a RelayServer.
type RelayServerDeps struct {
	Runner      Runner
	Hub         streaming.EventHub
	Expressions *expressions.Registry
	Sessions    *SessionRegistry
	Logger      *slog.Logger
}

// RelayServer wraps an MCP server with relay-specific tool handlers.
type RelayServer struct {
	runner      Runner
	hub         streaming.EventHub
	expressions *expressions.Registry
	sessions    *SessionRegistry
	logger      *slog.Logger
	mcpServer   *server.MCPServer
}

// NewRelayServer creates a new RelayServer with all 6 tools registered.
func NewRelayServer(deps RelayServerDeps) *RelayServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionRegistry()
	}

	s := &RelayServer{
		runner:      deps.Runner,
		hub:         deps.Hub,
		expressions: deps.Expressions,
		sessions:    sessions,
		logger:      logger,
	}

	mcpSrv := server.NewMCPServer(
		"relaysim",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("relaysim replays an LLM API relay request through its pipeline stages. Use relay.start to begin a run, relay.status to inspect it, relay.await to block until a condition over the run holds, relay.query to extract fields with jq, relay.diagram to draw the pipeline and relay.stop to cancel."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin
// closes. Run completion is pushed to the session that started the run.
func (s *RelayServer) Serve(ctx context.Context) error {
	if s.hub != nil {
		notifier := NewMCPNotifier(s.mcpServer, s.sessions)
		go func() {
			if err := ForwardRunEvents(ctx, s.hub, notifier, s.logger); err != nil {
				s.logger.Warn("run event forwarding stopped", slog.String("error", err.Error()))
			}
		}()
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *RelayServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *RelayServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: stopTool(), Handler: s.handleStop},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: awaitTool(), Handler: s.handleAwait},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func startTool() mcp.Tool {
	return mcp.NewTool("relay.start",
		mcp.WithDescription("Start a simulated relay run. A no-op while a run is in progress"),
		mcp.WithString("mode",
			mcp.Enum(string(schema.ModeStreaming), string(schema.ModeNonStreaming)),
			mcp.Description("Transport mode (default: streaming)"),
		),
	)
}

func stopTool() mcp.Tool {
	return mcp.NewTool("relay.stop",
		mcp.WithDescription("Cancel the current run and reset every stage"),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("relay.status",
		mcp.WithDescription("Get the current run snapshot"),
		mcp.WithString("section",
			mcp.Enum("stages", "items", "merged", "logs"),
			mcp.Description("Return only one part of the snapshot"),
		),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("relay.query",
		mcp.WithDescription("Evaluate an expression against the run snapshot, available as `run`"),
		mcp.WithString("expression", mcp.Required(), mcp.Description("Expression, e.g. .run.merged.tool_calls for jq")),
		mcp.WithString("engine",
			mcp.Enum("jq", "cel", "expr"),
			mcp.Description("Expression engine (default: jq)"),
		),
	)
}

func awaitTool() mcp.Tool {
	return mcp.NewTool("relay.await",
		mcp.WithDescription("Block until a condition over the run snapshot holds or the timeout elapses"),
		mcp.WithString("condition", mcp.Required(), mcp.Description("Boolean expression, e.g. run.merged != null for cel")),
		mcp.WithString("engine",
			mcp.Enum("cel", "expr", "jq"),
			mcp.Description("Expression engine (default: cel)"),
		),
		mcp.WithNumber("timeout_ms", mcp.Description("Maximum wait in milliseconds (default: 30000)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("relay.diagram",
		mcp.WithDescription("Draw the relay pipeline with live stage status. Returns ASCII art, Mermaid flowchart syntax, or base64-encoded PNG image"),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
	)
}
