package sensor

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"airquality-node/internal/reading"
)

// Simulated produces a slow random walk around typical indoor values.
type Simulated struct {
	mu         sync.Mutex
	rng        *rand.Rand
	tempOffset float64
	measuring  bool
	last       reading.Sample
}

func NewSimulated(tempOffset float64) *Simulated {
	return &Simulated{
		rng:        rand.New(rand.NewPCG(1, 2)),
		tempOffset: tempOffset,
		last: reading.Sample{
			PM1: 4, PM25: 8, PM4: 10, PM10: 12,
			Humidity: 45, Temperature: 21.5, VOC: 100, NOx: 1,
		},
	}
}

func (s *Simulated) Start(context.Context) error {
	s.mu.Lock()
	s.measuring = true
	s.mu.Unlock()
	return nil
}

func (s *Simulated) Stop(context.Context) error {
	s.mu.Lock()
	s.measuring = false
	s.mu.Unlock()
	return nil
}

func (s *Simulated) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.measuring
}

func (s *Simulated) Read(context.Context) (reading.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.measuring {
		return reading.Sample{}, ErrNotInitialized
	}
	l := &s.last
	l.PM1 = s.walk(l.PM1, 0.3, 0, 200)
	l.PM25 = math.Max(l.PM1, s.walk(l.PM25, 0.5, 0, 500))
	l.PM4 = math.Max(l.PM25, s.walk(l.PM4, 0.5, 0, 500))
	l.PM10 = math.Max(l.PM4, s.walk(l.PM10, 0.6, 0, 1000))
	l.Humidity = s.walk(l.Humidity, 0.2, 0, 100)
	l.Temperature = s.walk(l.Temperature, 0.05, -10, 50)
	l.VOC = s.walk(l.VOC, 2, 1, 500)
	l.NOx = s.walk(l.NOx, 0.2, 1, 500)

	out := *l
	out.Temperature += s.tempOffset
	return out, nil
}

func (s *Simulated) Close() error { return nil }

func (s *Simulated) walk(v, step, lo, hi float64) float64 {
	v += (s.rng.Float64()*2 - 1) * step
	return math.Min(hi, math.Max(lo, v))
}
