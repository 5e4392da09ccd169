// Package wallclock abstracts the parts of package time the pipeline depends
// on so that tests can control apparent time.
package wallclock

import (
	"sync"
	"time"
)

// Clock is the time source used by the supervisor, coordinator and node loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type wallClock struct{}

// Now indirects time.Now.
func (wallClock) Now() time.Time { return time.Now() }

// After indirects time.After.
func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Real returns the process wall clock.
func Real() Clock { return wallClock{} }

// Fake is a manually driven Clock. After fires immediately and advances the
// fake time by the requested duration, so blocking waits complete instantly
// while still being observable through Now.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake positioned at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// After advances the fake time by d and returns an already fired channel.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.Advance(d)
	ch := make(chan time.Time, 1)
	ch <- f.Now()
	return ch
}
