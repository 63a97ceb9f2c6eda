package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultChannelBuffer = 64

type subscription struct {
	filter EventFilter
	ch     chan StreamEvent
}

// MemoryHub delivers events over buffered channels. Publish never blocks: a
// subscriber whose buffer is full misses the event and the drop is counted.
type MemoryHub struct {
	buffer int

	mu      sync.RWMutex
	subs    map[uint64]subscription
	nextID  uint64
	dropped atomic.Int64
}

func NewMemoryHub() *MemoryHub {
	return NewMemoryHubSize(defaultChannelBuffer)
}

// NewMemoryHubSize gives every subscriber a buffer of size events; size <= 0
// selects the default.
func NewMemoryHubSize(size int) *MemoryHub {
	if size <= 0 {
		size = defaultChannelBuffer
	}
	return &MemoryHub{buffer: size, subs: make(map[uint64]subscription)}
}

func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if !s.filter.Matches(event) {
			continue
		}
		select {
		case s.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	sub := subscription{filter: filter, ch: make(chan StreamEvent, h.buffer)}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}, nil
}

// Subscribers returns the number of live subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (h *MemoryHub) Dropped() int64 { return h.dropped.Load() }

var _ EventHub = (*MemoryHub)(nil)
