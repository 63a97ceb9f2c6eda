package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/relaysim/internal/engine"
	"github.com/rendis/relaysim/internal/streaming"
	"github.com/rendis/relaysim/pkg/schema"
)

// RunNotifier pushes run lifecycle notifications to whoever started the run.
type RunNotifier interface {
	Notify(ctx context.Context, runID string, payload map[string]any) error
}

// MCPNotifier implements RunNotifier using MCP server push.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via MCP notifications.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the session that started runID.
// Best-effort: returns nil if that session is gone.
func (n *MCPNotifier) Notify(_ context.Context, runID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(runID)
	if !ok {
		return nil
	}
	defer n.sessions.Forget(runID)

	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// ForwardRunEvents relays run_completed and run_stopped events from hub to
// notifier until ctx ends. Notification failures are logged and skipped.
func ForwardRunEvents(ctx context.Context, hub streaming.EventHub, notifier RunNotifier, logger *slog.Logger) error {
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{
		EventTypes: []string{schema.EventRunCompleted, schema.EventRunStopped},
	})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.RunID == "" {
				continue
			}
			if err := notifier.Notify(ctx, ev.RunID, notificationPayload(ev)); err != nil {
				logger.Warn("run notification failed",
					slog.String("run_id", ev.RunID),
					slog.String("error", err.Error()))
			}
		}
	}
}

func notificationPayload(ev streaming.StreamEvent) map[string]any {
	data := map[string]any{
		"run_id": ev.RunID,
		"event":  ev.EventType,
	}
	if snap, ok := ev.Payload.(engine.Snapshot); ok {
		data["completed_stages"] = snap.CompletedCount()
		if snap.Merged != nil {
			data["merged"] = snap.Merged
		}
	}
	return map[string]any{
		"level":  "info",
		"logger": "relaysim",
		"data":   data,
	}
}
