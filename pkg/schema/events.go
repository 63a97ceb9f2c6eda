package schema

import "strings"

// Event type constants published on every run transition.
const (
	EventRunStarted    = "run_started"
	EventRunStopped    = "run_stopped"
	EventRunCompleted  = "run_completed"
	EventStageActive   = "stage_active"
	EventStageComplete = "stage_complete"
	EventItemAppended  = "item_appended"
	EventItemsRevealed = "items_revealed"
	EventMergeComputed = "merge_computed"
	EventLogAppended   = "log_appended"
)

// StageStatus represents the lifecycle state of a pipeline stage.
type StageStatus string

const (
	StageStatusPending  StageStatus = "pending"
	StageStatusActive   StageStatus = "active"
	StageStatusComplete StageStatus = "complete"
)

// Mode selects how the transport stage reveals simulated items.
type Mode string

const (
	ModeStreaming    Mode = "streaming"
	ModeNonStreaming Mode = "non-streaming"
)

// ParseMode converts user input into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "streaming", "stream", "sse":
		return ModeStreaming, nil
	case "non-streaming", "non_streaming", "nonstreaming", "buffered":
		return ModeNonStreaming, nil
	default:
		return "", NewErrorf(ErrCodeValidation, "unknown mode %q (want streaming or non-streaming)", s).
			WithDetails(map[string]any{"mode": s})
	}
}

// Stage is one named phase of the simulated pipeline.
type Stage struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Status     StageStatus `json:"status"`
	DurationMs *int64      `json:"duration_ms,omitempty"`
}

// LogEntry is a single human-readable trace line.
type LogEntry struct {
	Seq       int64  `json:"seq"`
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}
