package scheduler

import (
	"time"

	"github.com/rendis/relaysim/pkg/schema"
)

// TransportTiming holds the delay constants of the transport stage.
type TransportTiming struct {
	ItemInterval  time.Duration `json:"item_interval"`
	BufferedDelay time.Duration `json:"buffered_delay"`
	Trailing      time.Duration `json:"trailing"`
}

// DefaultTransportTiming returns the built-in transport delays.
func DefaultTransportTiming() TransportTiming {
	return TransportTiming{
		ItemInterval:  300 * time.Millisecond,
		BufferedDelay: 1200 * time.Millisecond,
		Trailing:      300 * time.Millisecond,
	}
}

// TransportStrategy decides how the transport stage fans out over items.
type TransportStrategy interface {
	Mode() schema.Mode
	// Plan returns the transport sub-step plan for itemCount items.
	Plan(itemCount int, timing TransportTiming) Plan
	// Reveal returns the items that become visible at sub-step k (1-based).
	Reveal(k int, items []schema.Item) []schema.Item
}

// StreamingStrategy reveals one item per sub-step.
type StreamingStrategy struct{}

func (StreamingStrategy) Mode() schema.Mode { return schema.ModeStreaming }

func (StreamingStrategy) Plan(itemCount int, timing TransportTiming) Plan {
	return Plan{SubSteps: itemCount, Interval: timing.ItemInterval, Trailing: timing.Trailing}
}

func (StreamingStrategy) Reveal(k int, items []schema.Item) []schema.Item {
	if k < 1 || k > len(items) {
		return nil
	}
	return []schema.Item{items[k-1].Clone()}
}

// BufferedStrategy waits once and then reveals every item together.
type BufferedStrategy struct{}

func (BufferedStrategy) Mode() schema.Mode { return schema.ModeNonStreaming }

func (BufferedStrategy) Plan(_ int, timing TransportTiming) Plan {
	return Plan{SubSteps: 1, Interval: timing.BufferedDelay, Trailing: timing.Trailing}
}

func (BufferedStrategy) Reveal(k int, items []schema.Item) []schema.Item {
	if k != 1 {
		return nil
	}
	out := make([]schema.Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// StrategyFor returns the strategy implementing mode.
func StrategyFor(mode schema.Mode) (TransportStrategy, error) {
	switch mode {
	case schema.ModeStreaming:
		return StreamingStrategy{}, nil
	case schema.ModeNonStreaming:
		return BufferedStrategy{}, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "no transport strategy for mode %q", mode)
	}
}

var (
	_ TransportStrategy = StreamingStrategy{}
	_ TransportStrategy = BufferedStrategy{}
)
