package log

import (
	"strings"
	"sync"
)

// RingBuffer holds recent log entries for the recorder view.
type RingBuffer struct {
	mu       sync.RWMutex
	entries  []string
	capacity int
	head     int
	size     int
}

// NewRingBuffer creates a buffer with given capacity.
// Capacity must be >= 1; values <= 0 are normalized to 1.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{
		entries:  make([]string, capacity),
		capacity: capacity,
	}
}

// Add appends an entry, overwriting the oldest if full.
// A trailing newline is stripped so entries render as single lines.
func (r *RingBuffer) Add(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.head] = strings.TrimRight(entry, "\n")
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Len returns the number of buffered entries.
func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// GetLast returns the last n entries, oldest first.
func (r *RingBuffer) GetLast(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n = min(n, r.size)
	if n <= 0 {
		return nil
	}

	result := make([]string, n)
	start := (r.head - n + r.capacity) % r.capacity
	for i := range n {
		result[i] = r.entries[(start+i)%r.capacity]
	}
	return result
}

// Clear empties the buffer.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.size = 0
}
