package store

import (
	"sync"
)

// DefaultDedupCapacity is the number of recent message ids remembered.
const DefaultDedupCapacity = 100

// DedupRepo defines the interface for inbound message deduplication.
type DedupRepo interface {
	// IsDuplicate reports whether messageID has already been recorded.
	IsDuplicate(messageID string) bool

	// RecordInbound records messageID. It returns false if the id was already
	// recorded, so the check and the insert happen as one step.
	RecordInbound(messageID string) bool
}

// MemoryDedup remembers the most recent message ids in a bounded FIFO.
// The oldest id is evicted once capacity is reached. Nothing is persisted.
type MemoryDedup struct {
	mu       sync.Mutex
	capacity int
	ring     []string
	next     int
	seen     map[string]struct{}
}

var _ DedupRepo = (*MemoryDedup)(nil)

// NewMemoryDedup creates a dedup cache holding up to capacity ids.
func NewMemoryDedup(capacity int) *MemoryDedup {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &MemoryDedup{
		capacity: capacity,
		ring:     make([]string, 0, capacity),
		seen:     make(map[string]struct{}, capacity),
	}
}

func (d *MemoryDedup) IsDuplicate(messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[messageID]
	return ok
}

func (d *MemoryDedup) RecordInbound(messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[messageID]; ok {
		return false
	}
	if len(d.ring) < d.capacity {
		d.ring = append(d.ring, messageID)
	} else {
		delete(d.seen, d.ring[d.next])
		d.ring[d.next] = messageID
		d.next = (d.next + 1) % d.capacity
	}
	d.seen[messageID] = struct{}{}
	return true
}

// Len returns the number of ids currently remembered.
func (d *MemoryDedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ring)
}
