// Package dedup tracks recently handled Slack deliveries so that retried
// events are processed at most once.
package dedup

import "sync"

// DefaultCapacity is the number of message timestamps remembered.
const DefaultCapacity = 100

// Window is a bounded, insertion-ordered set of message timestamps.
// The oldest entry is evicted once the window is full. Safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	cap   int
	ring  []string
	next  int // slot the next insert overwrites once the ring is full
	index map[string]struct{}
}

// NewWindow creates a window holding at most capacity timestamps.
// A non-positive capacity falls back to DefaultCapacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		cap:   capacity,
		ring:  make([]string, 0, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

// ShouldProcess reports whether ts has not been seen yet, recording it if so.
// Empty timestamps cannot be deduplicated and are always reported as new.
func (w *Window) ShouldProcess(ts string) bool {
	if ts == "" {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, seen := w.index[ts]; seen {
		return false
	}

	if len(w.ring) < w.cap {
		w.ring = append(w.ring, ts)
	} else {
		delete(w.index, w.ring[w.next])
		w.ring[w.next] = ts
		w.next = (w.next + 1) % w.cap
	}
	w.index[ts] = struct{}{}
	return true
}

// Len returns the number of remembered timestamps.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ring)
}

// Capacity returns the maximum number of remembered timestamps.
func (w *Window) Capacity() int { return w.cap }
