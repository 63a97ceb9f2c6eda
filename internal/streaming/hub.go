// Package streaming fans run events out to in-process subscribers such as the
// panel's SSE stream, the MCP notifier and Controller.Wait.
package streaming

import (
	"context"
	"slices"
)

// StreamEvent is emitted on every run transition. Payload carries a
// read-only snapshot of the run.
type StreamEvent struct {
	RunID     string `json:"run_id"`
	StageID   string `json:"stage_id,omitempty"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload,omitempty"`
}

// EventFilter narrows a subscription. Zero fields match everything.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Matches reports whether e passes the filter.
func (f EventFilter) Matches(e StreamEvent) bool {
	if f.RunID != "" && f.RunID != e.RunID {
		return false
	}
	return len(f.EventTypes) == 0 || slices.Contains(f.EventTypes, e.EventType)
}

// EventHub is a publish/subscribe channel for run events. The cancel func
// returned by Subscribe is idempotent and never closes the channel.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
