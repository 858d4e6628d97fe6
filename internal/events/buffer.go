// Package events holds the bounded live event buffer.
package events

import (
	"sync"

	"github.com/rickgao/fraudwatch-sync/internal/model"
)

// DefaultCapacity is the number of live events retained.
const DefaultCapacity = 50

// Buffer is a fixed-capacity, newest-first sequence of live events.
// Order is insertion order; event timestamps are not consulted.
type Buffer struct {
	mu       sync.RWMutex
	events   []model.LiveEvent // events[0] is the newest
	capacity int

	pushed  int64
	evicted int64
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Len      int
	Capacity int
	Pushed   int64
	Evicted  int64
}

// NewBuffer creates a buffer. Capacities below 1 are raised to 1.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		events:   make([]model.LiveEvent, 0, capacity),
		capacity: capacity,
	}
}

// Push prepends e, evicting the oldest entry when the buffer is over
// capacity. Each push evicts at most one entry.
func (b *Buffer) Push(e model.LiveEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) < b.capacity {
		b.events = append(b.events, model.LiveEvent{})
	} else {
		b.evicted++
	}
	copy(b.events[1:], b.events[:len(b.events)-1])
	b.events[0] = e
	b.pushed++
}

// Snapshot returns a copy of the events, newest first.
func (b *Buffer) Snapshot() []model.LiveEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.LiveEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return b.capacity
}

// Stats returns buffer statistics.
func (b *Buffer) Stats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BufferStats{
		Len:      len(b.events),
		Capacity: b.capacity,
		Pushed:   b.pushed,
		Evicted:  b.evicted,
	}
}
