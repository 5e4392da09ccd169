package accumulator

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airquality-node/internal/reading"
)

const tolerance = 1e-9

func sampleOf(v float64) reading.Sample {
	return reading.Sample{PM1: v, PM25: v, PM4: v, PM10: v, Humidity: v, Temperature: v, VOC: v, NOx: v}
}

func assertSampleInDelta(t *testing.T, want, got reading.Sample) {
	t.Helper()
	w, g := want.Values(), got.Values()
	for i := range w {
		assert.InDelta(t, w[i], g[i], tolerance, "channel %d", i)
	}
}

func TestDrain_ReturnsMeanAndResets(t *testing.T) {
	a := New(10)
	samples := []reading.Sample{
		{PM1: 1, PM25: 2, PM4: 3, PM10: 4, Humidity: 40, Temperature: 20, VOC: 100, NOx: 1},
		{PM1: 3, PM25: 4, PM4: 5, PM10: 6, Humidity: 50, Temperature: 22, VOC: 120, NOx: 3},
		{PM1: 5, PM25: 9, PM4: 7, PM10: 11, Humidity: 45, Temperature: 24, VOC: 80, NOx: 2},
	}
	for _, s := range samples {
		a.Push(s)
	}
	require.Equal(t, 3, a.Count())

	b, ok := a.Drain()
	require.True(t, ok)
	assert.Equal(t, 3, b.Count)
	assertSampleInDelta(t, reading.Sample{PM1: 3, PM25: 5, PM4: 5, PM10: 7, Humidity: 45, Temperature: 22, VOC: 100, NOx: 2}, b.Mean)
	assert.Equal(t, 0, a.Count())

	_, ok = a.Drain()
	assert.False(t, ok, "second drain must be empty")
}

func TestDrain_Empty(t *testing.T) {
	a := New(10)
	b, ok := a.Drain()
	assert.False(t, ok)
	assert.Equal(t, Batch{}, b)
	assert.Equal(t, 0, a.Count())
	assert.False(t, a.HasEnoughSamples())
}

func TestDrain_MeanOfManySamples(t *testing.T) {
	for _, n := range []int{1, 2, 7, 10, 61, 1000} {
		a := New(10)
		var sum float64
		for i := 0; i < n; i++ {
			v := float64(i%17) * 1.25
			sum += v
			a.Push(sampleOf(v))
		}
		b, ok := a.Drain()
		require.True(t, ok)
		assertSampleInDelta(t, sampleOf(sum/float64(n)), b.Mean)
		assert.Equal(t, 0, a.Count())
	}
}

func TestHasEnoughSamples_Boundary(t *testing.T) {
	a := New(10)
	for i := 0; i < 9; i++ {
		a.Push(reading.Sample{})
	}
	assert.Equal(t, 9, a.Count())
	assert.False(t, a.HasEnoughSamples(), "threshold-1 samples")

	a.Push(reading.Sample{})
	assert.True(t, a.HasEnoughSamples(), "threshold samples")

	a.Push(reading.Sample{})
	assert.True(t, a.HasEnoughSamples(), "above threshold")
}

func TestNew_DefaultThreshold(t *testing.T) {
	assert.Equal(t, DefaultThreshold, New(0).Threshold())
	assert.Equal(t, 3, New(3).Threshold())
}

func TestPeek_DoesNotConsume(t *testing.T) {
	a := New(2)
	a.Push(sampleOf(2))
	a.Push(sampleOf(4))

	b, ok := a.Peek()
	require.True(t, ok)
	assertSampleInDelta(t, sampleOf(3), b.Mean)
	assert.Equal(t, 2, a.Count())

	again, ok := a.Peek()
	require.True(t, ok)
	assert.Equal(t, b.Mean, again.Mean)
}

func TestCommit_ClearsPeekedBatch(t *testing.T) {
	a := New(2)
	a.Push(sampleOf(2))
	a.Push(sampleOf(4))

	b, _ := a.Peek()
	assert.True(t, a.Commit(b))
	assert.Equal(t, 0, a.Count())
	_, ok := a.Peek()
	assert.False(t, ok)
}

func TestCommit_KeepsSamplesPushedAfterPeek(t *testing.T) {
	a := New(2)
	a.Push(sampleOf(2))
	a.Push(sampleOf(4))
	b, _ := a.Peek()

	a.Push(sampleOf(10))
	a.Push(sampleOf(20))

	require.True(t, a.Commit(b))
	assert.Equal(t, 2, a.Count())
	rest, ok := a.Peek()
	require.True(t, ok)
	assertSampleInDelta(t, sampleOf(15), rest.Mean)
}

func TestCommit_StaleBatchIgnored(t *testing.T) {
	a := New(1)
	a.Push(sampleOf(1))
	b, _ := a.Peek()
	require.True(t, a.Commit(b))

	a.Push(sampleOf(5))
	assert.False(t, a.Commit(b), "committing twice must not remove newer samples")
	assert.Equal(t, 1, a.Count())

	drained, _ := a.Drain()
	assert.False(t, a.Commit(drained), "drained batches are already consumed")
}

func TestCommit_EmptyBatch(t *testing.T) {
	a := New(1)
	a.Push(sampleOf(1))
	assert.False(t, a.Commit(Batch{}))
	assert.Equal(t, 1, a.Count())
}

func TestUncommittedBatchKeepsContribution(t *testing.T) {
	a := New(2)
	a.Push(sampleOf(1))
	a.Push(sampleOf(3))
	_, _ = a.Peek()

	a.Push(sampleOf(5))
	b, ok := a.Peek()
	require.True(t, ok)
	assert.Equal(t, 3, b.Count)
	assertSampleInDelta(t, sampleOf(3), b.Mean)
}

func TestPush_NaNPropagates(t *testing.T) {
	a := New(1)
	a.Push(reading.Sample{Temperature: math.NaN()})
	b, ok := a.Drain()
	require.True(t, ok)
	assert.True(t, math.IsNaN(b.Mean.Temperature))
}

func TestConcurrentPushAndDrain(t *testing.T) {
	a := New(10)
	const writers, perWriter = 8, 500

	var wg sync.WaitGroup
	var mu sync.Mutex
	drainedCount := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				a.Push(sampleOf(1))
				if j%50 == 0 {
					if b, ok := a.Drain(); ok {
						mu.Lock()
						drainedCount += b.Count
						mu.Unlock()
					}
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, writers*perWriter, drainedCount+a.Count())
}
