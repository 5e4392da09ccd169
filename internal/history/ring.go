// Package history holds the most recent samples for live observers in a
// fixed-capacity circular buffer.
package history

import (
	"iter"
	"sync"
	"time"

	"airquality-node/internal/reading"
)

// DefaultCapacity keeps one minute of readings at 1 Hz.
const DefaultCapacity = 60

// Entry is a sample and its capture time, expressed as the monotonic offset
// since the node started.
type Entry struct {
	Sample reading.Sample
	At     time.Duration
}

// Ring is a fixed-capacity FIFO-overwrite buffer. It is safe for concurrent
// use; snapshots are copies and never observe a partial push.
type Ring struct {
	mu     sync.RWMutex
	buf    []Entry
	cursor int
	full   bool
}

// NewRing returns an empty Ring. A capacity below 1 selects DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]Entry, capacity)}
}

// Capacity returns the fixed number of slots.
func (r *Ring) Capacity() int {
	return len(r.buf)
}

// Len returns min(Capacity, total pushes).
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.buf)
	}
	return r.cursor
}

// Push writes at the cursor and advances it, evicting the oldest entry once
// the buffer has wrapped.
func (r *Ring) Push(s reading.Sample, at time.Duration) {
	r.mu.Lock()
	r.buf[r.cursor] = Entry{Sample: s, At: at}
	r.cursor = (r.cursor + 1) % len(r.buf)
	if r.cursor == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Entries returns a copy of the stored entries, oldest first.
func (r *Ring) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.full {
		out := make([]Entry, r.cursor)
		copy(out, r.buf[:r.cursor])
		return out
	}
	out := make([]Entry, 0, len(r.buf))
	out = append(out, r.buf[r.cursor:]...)
	out = append(out, r.buf[:r.cursor]...)
	return out
}

// Snapshot returns a restartable sequence over the entries stored at the time
// of the call, oldest first.
func (r *Ring) Snapshot() iter.Seq[Entry] {
	entries := r.Entries()
	return func(yield func(Entry) bool) {
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}
