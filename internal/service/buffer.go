package service

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jengzang/records-live-go/internal/models"
)

// DefaultBufferCapacity is the per-principal limit of pending reports.
const DefaultBufferCapacity = 100

// LocationBuffer holds validated reports per principal until the next
// flush. Each principal gets a fixed-size ring; once full the oldest
// report is evicted so memory stays bounded whatever the input rate.
type LocationBuffer struct {
	mu       sync.RWMutex
	capacity int
	slots    map[string]*bufferSlot
	evicted  atomic.Uint64
}

type bufferSlot struct {
	mu    sync.Mutex
	items []models.LocationReport
	head  int
	size  int
}

// BufferStats is a point-in-time view of the buffer.
type BufferStats struct {
	Principals int    `json:"principals"`
	Buffered   int    `json:"buffered"`
	Evicted    uint64 `json:"evicted"`
}

// NewLocationBuffer creates a new location buffer
func NewLocationBuffer(capacity int) *LocationBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &LocationBuffer{
		capacity: capacity,
		slots:    make(map[string]*bufferSlot),
	}
}

// Capacity returns the per-principal limit.
func (b *LocationBuffer) Capacity() int {
	return b.capacity
}

// Add appends a report to the principal's buffer. It reports whether the
// oldest pending report had to be evicted to make room.
func (b *LocationBuffer) Add(principalID string, report models.LocationReport) bool {
	// The read lock is held while writing into the slot so Remove, which
	// takes the write lock, cannot drop a slot mid-append.
	b.mu.RLock()
	if slot, ok := b.slots[principalID]; ok {
		evicted := slot.push(report, b.capacity)
		b.mu.RUnlock()
		b.countEviction(evicted)
		return evicted
	}
	b.mu.RUnlock()

	b.mu.Lock()
	slot, ok := b.slots[principalID]
	if !ok {
		slot = &bufferSlot{}
		b.slots[principalID] = slot
	}
	evicted := slot.push(report, b.capacity)
	b.mu.Unlock()
	b.countEviction(evicted)
	return evicted
}

func (b *LocationBuffer) countEviction(evicted bool) {
	if evicted {
		b.evicted.Add(1)
	}
}

// Flush atomically removes and returns the principal's pending reports in
// arrival order. The buffer is empty afterwards.
func (b *LocationBuffer) Flush(principalID string) []models.LocationReport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	slot, ok := b.slots[principalID]
	if !ok {
		return nil
	}
	return slot.drain()
}

// Len returns the number of pending reports for a principal.
func (b *LocationBuffer) Len(principalID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	slot, ok := b.slots[principalID]
	if !ok {
		return 0
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.size
}

// Pending lists the principals with at least one buffered report.
func (b *LocationBuffer) Pending() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var principals []string
	for p, slot := range b.slots {
		slot.mu.Lock()
		if slot.size > 0 {
			principals = append(principals, p)
		}
		slot.mu.Unlock()
	}
	sort.Strings(principals)
	return principals
}

// Remove releases the principal's slot if it holds nothing. It reports
// whether the slot is gone.
func (b *LocationBuffer) Remove(principalID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	slot, ok := b.slots[principalID]
	if !ok {
		return true
	}
	slot.mu.Lock()
	empty := slot.size == 0
	slot.mu.Unlock()
	if empty {
		delete(b.slots, principalID)
	}
	return empty
}

// Stats returns current buffer occupancy.
func (b *LocationBuffer) Stats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stats := BufferStats{Evicted: b.evicted.Load()}
	for _, slot := range b.slots {
		slot.mu.Lock()
		if slot.size > 0 {
			stats.Principals++
			stats.Buffered += slot.size
		}
		slot.mu.Unlock()
	}
	return stats
}

func (s *bufferSlot) push(report models.LocationReport, capacity int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = make([]models.LocationReport, capacity)
	}
	if s.size < capacity {
		s.items[(s.head+s.size)%capacity] = report
		s.size++
		return false
	}
	s.items[s.head] = report
	s.head = (s.head + 1) % capacity
	return true
}

func (s *bufferSlot) drain() []models.LocationReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size == 0 {
		return nil
	}
	out := make([]models.LocationReport, s.size)
	n := len(s.items)
	for i := range out {
		idx := (s.head + i) % n
		out[i] = s.items[idx]
		s.items[idx] = models.LocationReport{}
	}
	s.head = 0
	s.size = 0
	return out
}
