package cache

import (
	"sync"

	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// DefaultEventCapacity bounds the changes kept between two snapshots
const DefaultEventCapacity = 1024

// EventCache collects agent state changes between snapshot cycles. Once
// full, the oldest change is dropped so a stalled aggregator cannot grow it.
type EventCache struct {
	mu       sync.Mutex
	changes  []types.AgentStateChange
	capacity int
	dropped  int
}

// NewEventCache creates an event cache with DefaultEventCapacity
func NewEventCache() *EventCache {
	return NewEventCacheSize(DefaultEventCapacity)
}

// NewEventCacheSize creates an event cache holding at most capacity changes
func NewEventCacheSize(capacity int) *EventCache {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return &EventCache{capacity: capacity}
}

// Add records a state change
func (c *EventCache) Add(sc types.AgentStateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.changes) == c.capacity {
		copy(c.changes, c.changes[1:])
		c.changes = c.changes[:len(c.changes)-1]
		c.dropped++
	}
	c.changes = append(c.changes, sc)
}

// Drain returns the buffered changes in arrival order and the number lost
// to overflow since the last drain, then resets both.
func (c *EventCache) Drain() ([]types.AgentStateChange, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, dropped := c.changes, c.dropped
	c.changes, c.dropped = nil, 0
	return out, dropped
}

// Size returns the number of buffered changes
func (c *EventCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes)
}
