package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/relaysim/internal/diagram"
	"github.com/rendis/relaysim/internal/engine"
	"github.com/rendis/relaysim/internal/expressions"
	"github.com/rendis/relaysim/pkg/schema"
)

// handleStart begins a run in the requested mode.
func (s *RelayServer) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode, err := schema.ParseMode(req.GetString("mode", string(schema.ModeStreaming)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	previous := s.runner.Snapshot().RunID
	snap, err := s.runner.Start(ctx, mode)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", err)), nil
	}

	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.claimRun(session.SessionID(), previous, snap.RunID)
	}
	return marshalResult(snap)
}

// handleStop cancels the current run.
func (s *RelayServer) handleStop(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(s.runner.Stop(ctx))
}

// handleStatus returns the snapshot, or one section of it.
func (s *RelayServer) handleStatus(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.runner.Snapshot()

	switch section := req.GetString("section", ""); section {
	case "":
		return marshalResult(snap)
	case "stages":
		return marshalResult(map[string]any{"stages": snap.Stages})
	case "items":
		return marshalResult(map[string]any{"items": snap.Items})
	case "merged":
		return marshalResult(map[string]any{"merged": snap.Merged})
	case "logs":
		return marshalResult(map[string]any{"logs": snap.Logs})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown section %q", section)), nil
	}
}

// handleQuery evaluates an expression over the current snapshot.
func (s *RelayServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expression, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError("expression is required"), nil
	}
	name := req.GetString("engine", "jq")

	eng, err := s.expressions.Get(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := expressions.Scope(s.runner.Snapshot())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("snapshot scope: %v", err)), nil
	}
	out, err := eng.Evaluate(ctx, expression, data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	return marshalResult(map[string]any{"engine": name, "result": out})
}

// handleAwait blocks until the condition holds for the run snapshot.
func (s *RelayServer) handleAwait(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	condition, err := req.RequireString("condition")
	if err != nil {
		return mcp.NewToolResultError("condition is required"), nil
	}
	name := req.GetString("engine", "cel")
	timeout := DefaultAwaitTimeout
	if ms := extractInt(req.GetArguments(), "timeout_ms", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	cond, err := s.expressions.Condition(name, condition)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	snap, err := s.runner.Wait(waitCtx, func(snap engine.Snapshot) bool { return cond(snap) })
	if err != nil {
		if schema.CodeOf(err) == schema.ErrCodeTimeout {
			return mcp.NewToolResultError(fmt.Sprintf("condition %q not met within %s (phase %s)", condition, timeout, snap.Phase)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("await failed: %v", err)), nil
	}

	return marshalResult(map[string]any{
		"satisfied": true,
		"waited_ms": time.Since(start).Milliseconds(),
		"engine":    name,
		"condition": condition,
		"run":       snap,
	})
}

// handleDiagram renders the pipeline with the current run's status.
func (s *RelayServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}

	snap := s.runner.Snapshot()
	model := diagram.Build(diagram.Input{Mode: snap.Mode, Stages: snap.Stages, Items: snap.Items})

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "image":
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	default:
		return mcp.NewToolResultError("unsupported format"), nil
	}
}

// extractInt safely extracts an integer from an argument map.
func extractInt(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// claimRun records sessionID as the starter of runID when the start call
// began a new run. Starting while a run is in progress returns the existing
// run, which stays with the session that started it.
func (s *RelayServer) claimRun(sessionID, previous, runID string) bool {
	if runID == "" || runID == previous {
		return false
	}
	return s.sessions.Claim(runID, sessionID)
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
