// Package ring provides a fixed-capacity, append-only per-device history
// used as the shared backbone for smoothing, feature extraction, and
// anomaly detection. Appends are O(1); tail scans are O(k).
package ring

import (
	"sync"
	"time"

	"github.com/signalmesh/fleetwatch/pkg/models"
)

// DefaultCapacity is the default number of measurements retained per
// device (spec §3: "ring buffer of <=N=100 measurements").
const DefaultCapacity = 100

// Buffer is a thread-safe, fixed-capacity FIFO of measurements for one
// device. Appends are strictly ordered; once capacity is reached the
// oldest entry is evicted to make room for the newest.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	entries  []models.Measurement
	start    int // index of the oldest entry within entries
	count    int
}

// New creates a Buffer with the given capacity. A capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		entries:  make([]models.Measurement, capacity),
	}
}

// Append adds a measurement to the buffer, evicting the oldest entry if
// the buffer is already at capacity. Safe for concurrent use, though the
// orchestrator serializes appends per device via its own lock.
func (b *Buffer) Append(m models.Measurement) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := (b.start + b.count) % b.capacity
	if b.count < b.capacity {
		b.entries[idx] = m
		b.count++
		return
	}
	// At capacity: overwrite the oldest slot and advance start.
	b.entries[b.start] = m
	b.start = (b.start + 1) % b.capacity
}

// Len returns the current number of entries held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Tail returns a point-in-time copy of the last k entries, oldest first.
// If k <= 0 or k > Len(), the full buffer is returned.
func (b *Buffer) Tail(k int) []models.Measurement {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if k <= 0 || k > b.count {
		k = b.count
	}
	out := make([]models.Measurement, k)
	skip := b.count - k
	for i := 0; i < k; i++ {
		idx := (b.start + skip + i) % b.capacity
		out[i] = b.entries[idx]
	}
	return out
}

// All returns a point-in-time copy of every retained entry, oldest first.
func (b *Buffer) All() []models.Measurement {
	return b.Tail(0)
}

// Window returns a point-in-time copy of entries whose Timestamp falls
// within [now-d, now], oldest first.
func (b *Buffer) Window(now time.Time, d time.Duration) []models.Measurement {
	all := b.All()
	cutoff := now.Add(-d)
	var out []models.Measurement
	for _, m := range all {
		if !m.Timestamp.Before(cutoff) && !m.Timestamp.After(now) {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recently appended entry and whether one exists.
func (b *Buffer) Last() (models.Measurement, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.count == 0 {
		return models.Measurement{}, false
	}
	idx := (b.start + b.count - 1) % b.capacity
	return b.entries[idx], true
}
