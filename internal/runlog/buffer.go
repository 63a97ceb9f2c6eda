// Package runlog provides the bounded, append-only trace of a simulated run.
//
// Entries are ordered by append order, which is also simulated time order.
// When the buffer is full the oldest entry is evicted.
package runlog

import (
	"sync"

	"github.com/rendis/relaysim/internal/scheduler"
	"github.com/rendis/relaysim/pkg/schema"
)

// DefaultCapacity is the number of entries kept when none is configured.
const DefaultCapacity = 16

// TimeFormat is the clock reading stamped on each entry.
const TimeFormat = "15:04:05.000"

// Buffer is a sliding window over the most recent log entries.
type Buffer struct {
	mu       sync.Mutex
	clock    scheduler.Clock
	capacity int
	ring     []schema.LogEntry
	start    int
	size     int
	seq      int64
}

// NewBuffer creates a Buffer holding at most capacity entries.
func NewBuffer(capacity int, clock scheduler.Clock) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clock == nil {
		clock = scheduler.SystemClock{}
	}
	return &Buffer{
		clock:    clock,
		capacity: capacity,
		ring:     make([]schema.LogEntry, capacity),
	}
}

// Append stamps text with the current time and adds it, evicting the oldest
// entry if the buffer is full.
func (b *Buffer) Append(text string) schema.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	entry := schema.LogEntry{
		Seq:       b.seq,
		Timestamp: b.clock.Now().Format(TimeFormat),
		Text:      text,
	}

	if b.size < b.capacity {
		b.ring[(b.start+b.size)%b.capacity] = entry
		b.size++
	} else {
		b.ring[b.start] = entry
		b.start = (b.start + 1) % b.capacity
	}
	return entry
}

// Clear empties the buffer. Sequence numbers restart at 1.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start, b.size, b.seq = 0, 0, 0
	for i := range b.ring {
		b.ring[i] = schema.LogEntry{}
	}
}

// Entries returns the buffered entries, oldest first.
func (b *Buffer) Entries() []schema.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]schema.LogEntry, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.ring[(b.start+i)%b.capacity]
	}
	return out
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity returns the maximum number of entries kept.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Total returns how many entries were appended since the last Clear,
// including evicted ones.
func (b *Buffer) Total() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}
