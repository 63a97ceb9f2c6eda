package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/relaysim/internal/engine"
	"github.com/rendis/relaysim/internal/expressions"
	"github.com/rendis/relaysim/internal/scheduler"
	"github.com/rendis/relaysim/internal/streaming"
	"github.com/rendis/relaysim/pkg/schema"
)

type toolEnv struct {
	server *RelayServer
	ctrl   *engine.Controller
	queue  *scheduler.Queue
	hub    *streaming.MemoryHub
	logger *slog.Logger
}

func newToolEnv(t *testing.T) *toolEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := scheduler.NewQueue(scheduler.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	hub := streaming.NewMemoryHub()
	ctrl, err := engine.NewController(engine.Deps{Queue: q, Hub: hub, Logger: logger})
	require.NoError(t, err)
	registry, err := expressions.NewRegistry()
	require.NoError(t, err)

	s := NewRelayServer(RelayServerDeps{
		Runner:      ctrl,
		Hub:         hub,
		Expressions: registry,
		Logger:      logger,
	})
	return &toolEnv{server: s, ctrl: ctrl, queue: q, hub: hub, logger: logger}
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func extractJSON(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), target))
}

func TestStartTool(t *testing.T) {
	env := newToolEnv(t)

	result, err := env.server.handleStart(context.Background(), buildRequest("relay.start", map[string]any{
		"mode": "non-streaming",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var snap engine.Snapshot
	extractJSON(t, result, &snap)
	assert.True(t, snap.Running)
	assert.Equal(t, schema.ModeNonStreaming, snap.Mode)
	assert.Equal(t, snap.RunID, env.ctrl.Snapshot().RunID)
}

func TestStartWhileRunningKeepsStarterSession(t *testing.T) {
	env := newToolEnv(t)

	previous := env.ctrl.Snapshot().RunID
	first, err := env.ctrl.Start(context.Background(), schema.ModeStreaming)
	require.NoError(t, err)
	assert.True(t, env.server.claimRun("session-a", previous, first.RunID))

	again, err := env.ctrl.Start(context.Background(), schema.ModeStreaming)
	require.NoError(t, err)
	require.Equal(t, first.RunID, again.RunID)
	assert.False(t, env.server.claimRun("session-b", first.RunID, again.RunID))

	sid, ok := env.server.sessions.SessionFor(first.RunID)
	require.True(t, ok)
	assert.Equal(t, "session-a", sid)
	assert.Equal(t, 1, env.server.sessions.Len())
}

func TestStartToolDefaultsToStreaming(t *testing.T) {
	env := newToolEnv(t)

	result, err := env.server.handleStart(context.Background(), buildRequest("relay.start", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, schema.ModeStreaming, env.ctrl.Snapshot().Mode)
}

func TestStartToolRejectsUnknownMode(t *testing.T) {
	env := newToolEnv(t)

	result, err := env.server.handleStart(context.Background(), buildRequest("relay.start", map[string]any{
		"mode": "telegraph",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.False(t, env.ctrl.Running())
}

func TestStopTool(t *testing.T) {
	env := newToolEnv(t)
	_, err := env.ctrl.Start(context.Background(), schema.ModeStreaming)
	require.NoError(t, err)
	env.queue.Advance(2 * time.Second)

	result, err := env.server.handleStop(context.Background(), buildRequest("relay.stop", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var snap engine.Snapshot
	extractJSON(t, result, &snap)
	assert.False(t, snap.Running)
	assert.Empty(t, snap.Items)
	assert.Zero(t, env.queue.Len())
}

func TestStatusTool(t *testing.T) {
	env := newToolEnv(t)
	_, err := env.ctrl.Start(context.Background(), schema.ModeStreaming)
	require.NoError(t, err)
	env.queue.Advance(10 * time.Second)

	t.Run("full snapshot", func(t *testing.T) {
		result, err := env.server.handleStatus(context.Background(), buildRequest("relay.status", nil))
		require.NoError(t, err)
		var snap engine.Snapshot
		extractJSON(t, result, &snap)
		assert.Equal(t, 5, snap.CompletedCount())
		require.NotNil(t, snap.Merged)
	})

	t.Run("section", func(t *testing.T) {
		result, err := env.server.handleStatus(context.Background(), buildRequest("relay.status", map[string]any{
			"section": "merged",
		}))
		require.NoError(t, err)
		var out struct {
			Merged schema.MergedResult `json:"merged"`
		}
		extractJSON(t, result, &out)
		assert.Equal(t, []string{"read_file"}, out.Merged.ToolCalls)
		assert.Equal(t, "tool_calls", out.Merged.FinishReason)
	})

	t.Run("unknown section", func(t *testing.T) {
		result, err := env.server.handleStatus(context.Background(), buildRequest("relay.status", map[string]any{
			"section": "secrets",
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})
}

func TestQueryTool(t *testing.T) {
	env := newToolEnv(t)
	_, err := env.ctrl.Start(context.Background(), schema.ModeNonStreaming)
	require.NoError(t, err)
	env.queue.Advance(10 * time.Second)

	tests := []struct {
		name   string
		args   map[string]any
		want   any
		errors bool
	}{
		{"jq default", map[string]any{"expression": ".run.merged.finish_reason"}, "tool_calls", false},
		{"cel", map[string]any{"expression": "size(run.items)", "engine": "cel"}, float64(5), false},
		{"expr", map[string]any{"expression": "run.running", "engine": "expr"}, false, false},
		{"missing expression", map[string]any{}, nil, true},
		{"unknown engine", map[string]any{"expression": "1", "engine": "sql"}, nil, true},
		{"bad jq", map[string]any{"expression": ".run[["}, nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := env.server.handleQuery(context.Background(), buildRequest("relay.query", tc.args))
			require.NoError(t, err)
			if tc.errors {
				assert.True(t, result.IsError)
				return
			}
			require.False(t, result.IsError, extractText(t, result))
			var out map[string]any
			extractJSON(t, result, &out)
			assert.Equal(t, tc.want, out["result"])
		})
	}
}

func TestAwaitTool(t *testing.T) {
	env := newToolEnv(t)
	_, err := env.ctrl.Start(context.Background(), schema.ModeStreaming)
	require.NoError(t, err)

	go func() {
		for env.hub.Subscribers() == 0 {
			time.Sleep(time.Millisecond)
		}
		env.queue.Advance(10 * time.Second)
	}()

	result, err := env.server.handleAwait(context.Background(), buildRequest("relay.await", map[string]any{
		"condition":  "run.merged != null && size(run.items) == 5",
		"timeout_ms": float64(5000),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		Satisfied bool            `json:"satisfied"`
		Engine    string          `json:"engine"`
		Run       engine.Snapshot `json:"run"`
	}
	extractJSON(t, result, &out)
	assert.True(t, out.Satisfied)
	assert.Equal(t, "cel", out.Engine)
	require.NotNil(t, out.Run.Merged)
	assert.Len(t, out.Run.Items, 5)
}

func TestAwaitToolTimeout(t *testing.T) {
	env := newToolEnv(t)

	result, err := env.server.handleAwait(context.Background(), buildRequest("relay.await", map[string]any{
		"condition":  "run.running == true",
		"engine":     "expr",
		"timeout_ms": float64(50),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "not met within")
}

func TestAwaitToolBadInput(t *testing.T) {
	env := newToolEnv(t)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing condition", map[string]any{}, "condition is required"},
		{"unknown engine", map[string]any{"condition": "true", "engine": "lua"}, "NOT_FOUND"},
		{"malformed cel", map[string]any{"condition": "run.phase ==", "timeout_ms": 60000}, "VALIDATION_ERROR"},
		{"malformed jq", map[string]any{"condition": ".run.items | length >", "engine": "jq", "timeout_ms": 60000}, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			result, err := env.server.handleAwait(context.Background(), buildRequest("relay.await", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, extractText(t, result), tt.want)
			assert.Less(t, time.Since(start), 5*time.Second)
		})
	}
}

func TestDiagramTool(t *testing.T) {
	env := newToolEnv(t)
	_, err := env.ctrl.Start(context.Background(), schema.ModeStreaming)
	require.NoError(t, err)
	env.queue.Advance(2 * time.Second)

	t.Run("ascii", func(t *testing.T) {
		result, err := env.server.handleDiagram(context.Background(), buildRequest("relay.diagram", map[string]any{"format": "ascii"}))
		require.NoError(t, err)
		require.False(t, result.IsError)
		text := extractText(t, result)
		assert.Contains(t, text, "[RUN]")
		assert.Contains(t, text, "(streaming)")
	})

	t.Run("mermaid", func(t *testing.T) {
		result, err := env.server.handleDiagram(context.Background(), buildRequest("relay.diagram", map[string]any{"format": "mermaid"}))
		require.NoError(t, err)
		assert.Contains(t, extractText(t, result), "graph TD")
	})

	t.Run("image", func(t *testing.T) {
		result, err := env.server.handleDiagram(context.Background(), buildRequest("relay.diagram", map[string]any{"format": "image"}))
		require.NoError(t, err)
		require.False(t, result.IsError, extractText(t, result))
		png, err := base64.StdEncoding.DecodeString(extractText(t, result))
		require.NoError(t, err)
		assert.Equal(t, []byte("\x89PNG"), png[:4])
	})

	t.Run("missing format", func(t *testing.T) {
		result, err := env.server.handleDiagram(context.Background(), buildRequest("relay.diagram", nil))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("unsupported format", func(t *testing.T) {
		result, err := env.server.handleDiagram(context.Background(), buildRequest("relay.diagram", map[string]any{"format": "svg"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})
}

func TestExtractInt(t *testing.T) {
	args := map[string]any{"f": float64(12), "i": 7, "s": "42", "bad": "x"}
	assert.Equal(t, 12, extractInt(args, "f", 0))
	assert.Equal(t, 7, extractInt(args, "i", 0))
	assert.Equal(t, 42, extractInt(args, "s", 0))
	assert.Equal(t, 3, extractInt(args, "bad", 3))
	assert.Equal(t, 3, extractInt(args, "missing", 3))
	assert.Equal(t, 3, extractInt(nil, "f", 3))
}

// --- notifications ---

type recordingNotifier struct {
	mu    sync.Mutex
	calls []map[string]any
	runs  []string
}

func (n *recordingNotifier) Notify(_ context.Context, runID string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, runID)
	n.calls = append(n.calls, payload)
	return nil
}

func (n *recordingNotifier) snapshot() ([]string, []map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.runs...), append([]map[string]any(nil), n.calls...)
}

func TestForwardRunEvents(t *testing.T) {
	env := newToolEnv(t)
	notifier := &recordingNotifier{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ForwardRunEvents(ctx, env.hub, notifier, env.logger) }()
	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, time.Second, time.Millisecond)

	snap, err := env.ctrl.Start(context.Background(), schema.ModeStreaming)
	require.NoError(t, err)
	env.queue.Advance(10 * time.Second)

	require.Eventually(t, func() bool {
		runs, _ := notifier.snapshot()
		return len(runs) >= 1
	}, time.Second, time.Millisecond)

	runs, calls := notifier.snapshot()
	assert.Equal(t, snap.RunID, runs[0])
	data, ok := calls[0]["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, schema.EventRunCompleted, data["event"])
	assert.Equal(t, 5, data["completed_stages"])
	assert.NotNil(t, data["merged"])

	cancel()
	assert.NoError(t, <-done)
}

func TestMCPNotifier_UnknownRunIsNoop(t *testing.T) {
	env := newToolEnv(t)
	n := NewMCPNotifier(env.server.MCPServer(), NewSessionRegistry())
	assert.NoError(t, n.Notify(context.Background(), "run-x", map[string]any{"level": "info"}))
}

func TestMCPNotifier_DisconnectedSessionIsForgotten(t *testing.T) {
	env := newToolEnv(t)
	sessions := NewSessionRegistry()
	sessions.Register("run-1", "gone-session")
	sessions.Register("run-2", "gone-session")

	n := NewMCPNotifier(env.server.MCPServer(), sessions)
	assert.NoError(t, n.Notify(context.Background(), "run-1", map[string]any{"level": "info"}))
	assert.Zero(t, sessions.Len())
}

// callTool invokes a tool through HandleMessage (full JSON-RPC round-trip).
func callTool(t *testing.T, s *RelayServer, toolName string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()

	initMsg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      0,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "relaysim-test", "version": "1.0.0"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, s.MCPServer().HandleMessage(ctx, initMsg))

	callMsg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": toolName, "arguments": args},
	})
	require.NoError(t, err)
	resp := s.MCPServer().HandleMessage(ctx, callMsg)
	require.NotNil(t, resp)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var rpcResp struct {
		Result *mcp.CallToolResult `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &rpcResp))
	require.Nil(t, rpcResp.Error)
	require.NotNil(t, rpcResp.Result)
	return rpcResp.Result
}

func TestJSONRPCRoundTrip(t *testing.T) {
	env := newToolEnv(t)

	result := callTool(t, env.server, "relay.start", map[string]any{"mode": "non-streaming"})
	require.False(t, result.IsError, extractText(t, result))
	assert.True(t, env.ctrl.Running())

	env.queue.Advance(10 * time.Second)

	result = callTool(t, env.server, "relay.query", map[string]any{"expression": ".run.merged.usage"})
	require.False(t, result.IsError, extractText(t, result))
	var out struct {
		Result schema.Usage `json:"result"`
	}
	extractJSON(t, result, &out)
	assert.Equal(t, schema.Usage{Input: 1250, Output: 89}, out.Result)

	result = callTool(t, env.server, "relay.stop", nil)
	require.False(t, result.IsError)
	assert.False(t, env.ctrl.Running())
}
