// Package accumulator keeps running per-channel sums of accepted samples and
// turns them into averaged batches for upload.
package accumulator

import (
	"sync"

	"airquality-node/internal/reading"
)

// DefaultThreshold is the number of samples required before a batch is
// eligible for upload.
const DefaultThreshold = 10

// Batch is the per-channel arithmetic mean of Count samples.
type Batch struct {
	Mean  reading.Sample
	Count int

	sums  [reading.Channels]float64
	epoch uint64
}

// Accumulator is safe for concurrent use. Push and Drain/Commit are
// serialized so a batch never observes a half-applied sample.
type Accumulator struct {
	mu        sync.Mutex
	sums      [reading.Channels]float64
	count     int
	threshold int
	epoch     uint64
}

// New returns an empty Accumulator. A threshold below 1 selects
// DefaultThreshold.
func New(threshold int) *Accumulator {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Accumulator{threshold: threshold}
}

// Push adds every channel of s to its running sum. Callers validate first.
func (a *Accumulator) Push(s reading.Sample) {
	v := s.Values()
	a.mu.Lock()
	for i := range v {
		a.sums[i] += v[i]
	}
	a.count++
	a.mu.Unlock()
}

// Count returns the number of samples pushed since the last reset.
func (a *Accumulator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Threshold returns the configured batch size.
func (a *Accumulator) Threshold() int {
	return a.threshold
}

// HasEnoughSamples reports whether Count() >= Threshold().
func (a *Accumulator) HasEnoughSamples() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count >= a.threshold
}

// Drain returns the averaged batch and resets the accumulator. It returns
// false without mutating anything when no samples are pending.
func (a *Accumulator) Drain() (Batch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.batchLocked()
	if !ok {
		return Batch{}, false
	}
	a.resetLocked()
	return b, true
}

// Peek returns the averaged batch without consuming it. The batch must be
// handed to Commit once its delivery is confirmed.
func (a *Accumulator) Peek() (Batch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.batchLocked()
}

// Commit removes the contribution of a batch obtained from Peek. Samples
// pushed after the Peek are kept. Commit returns false and changes nothing if
// the accumulator was drained or committed since the Peek.
func (a *Accumulator) Commit(b Batch) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b.Count == 0 || b.epoch != a.epoch {
		return false
	}
	if b.Count >= a.count {
		a.resetLocked()
		return true
	}
	for i := range a.sums {
		a.sums[i] -= b.sums[i]
	}
	a.count -= b.Count
	a.epoch++
	return true
}

// Reset discards all pending samples.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.resetLocked()
	a.mu.Unlock()
}

func (a *Accumulator) batchLocked() (Batch, bool) {
	if a.count == 0 {
		return Batch{}, false
	}
	var mean [reading.Channels]float64
	n := float64(a.count)
	for i, sum := range a.sums {
		mean[i] = sum / n
	}
	return Batch{
		Mean:  reading.FromValues(mean),
		Count: a.count,
		sums:  a.sums,
		epoch: a.epoch,
	}, true
}

func (a *Accumulator) resetLocked() {
	a.sums = [reading.Channels]float64{}
	a.count = 0
	a.epoch++
}
