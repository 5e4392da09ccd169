package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airquality-node/internal/accumulator"
	"airquality-node/internal/connection"
	"airquality-node/internal/history"
	"airquality-node/internal/reading"
	"airquality-node/internal/sensor"
	"airquality-node/internal/upload"
	"airquality-node/internal/wallclock"
)

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

type fakeSensor struct {
	mu      sync.Mutex
	started bool
	stops   int
	errs    []error
	next    reading.Sample
	reads   int
}

func (f *fakeSensor) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeSensor) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
	f.stops++
	return nil
}

func (f *fakeSensor) Read(context.Context) (reading.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return reading.Sample{}, err
		}
	}
	return f.next, nil
}

func (f *fakeSensor) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

type fakeObservers struct {
	mu       sync.Mutex
	currents []history.Entry
	statuses int
}

func (f *fakeObservers) PublishCurrent(e history.Entry) {
	f.mu.Lock()
	f.currents = append(f.currents, e)
	f.mu.Unlock()
}

func (f *fakeObservers) PublishStatus() {
	f.mu.Lock()
	f.statuses++
	f.mu.Unlock()
}

func (f *fakeObservers) ClientCount() int { return 2 }

type fakeConn struct{ err error }

func (f *fakeConn) EnsureConnected(context.Context) error { return f.err }

type fakeTransport struct {
	sent []reading.Sample
	err  error
}

func (f *fakeTransport) Upload(_ context.Context, s reading.Sample) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.sent = append(f.sent, s)
	return int64(100 + len(f.sent)), nil
}

type fakeLink struct{ st connection.Status }

func (f fakeLink) Status() connection.Status { return f.st }

type fakeGate struct{ on bool }

func (f *fakeGate) InProgress() bool { return f.on }

type fixture struct {
	clock *wallclock.Fake
	sens  *fakeSensor
	obs   *fakeObservers
	acc   *accumulator.Accumulator
	ring  *history.Ring
	tr    *fakeTransport
	conn  *fakeConn
	gate  *fakeGate
	node  *Node
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		clock: wallclock.NewFake(t0),
		sens:  &fakeSensor{next: reading.Sample{PM1: 1, PM25: 2, PM4: 3, PM10: 4, Humidity: 40, Temperature: 21, VOC: 100, NOx: 1}},
		obs:   &fakeObservers{},
		acc:   accumulator.New(10),
		ring:  history.NewRing(60),
		tr:    &fakeTransport{},
		conn:  &fakeConn{},
		gate:  &fakeGate{},
	}
	coord := upload.NewCoordinator(f.acc, reading.NewValidator(), f.conn, f.tr, t0, upload.Options{
		Interval: 20 * time.Second,
		Mode:     upload.ModeCommit,
	})
	f.node = New(Deps{
		Sensor:      f.sens,
		Validator:   reading.NewValidator(),
		Accumulator: f.acc,
		History:     f.ring,
		Uploader:    coord,
		Observers:   f.obs,
		Link:        fakeLink{st: connection.Status{State: connection.Connected, Attempts: 1}},
		Gate:        f.gate,
		Clock:       f.clock,
	}, opts)
	return f
}

func (f *fixture) step(t *testing.T) StepResult {
	t.Helper()
	return f.node.Step(context.Background(), f.clock.Now())
}

func TestStep_readsOncePerInterval(t *testing.T) {
	f := newFixture(t, Options{ReadInterval: time.Second})

	res := f.step(t)
	assert.True(t, res.Read)
	assert.True(t, res.Accepted)

	f.clock.Advance(500 * time.Millisecond)
	res = f.step(t)
	assert.False(t, res.Read)

	f.clock.Advance(500 * time.Millisecond)
	res = f.step(t)
	assert.True(t, res.Read)

	assert.Equal(t, 2, f.acc.Count())
	assert.Equal(t, 2, f.ring.Len())
	require.Len(t, f.obs.currents, 2)
	assert.Equal(t, time.Second, f.obs.currents[1].At)
}

func TestStep_warmupDelaysFirstRead(t *testing.T) {
	f := newFixture(t, Options{ReadInterval: time.Second, Warmup: 10 * time.Second})
	require.NoError(t, f.node.StartMeasurement(context.Background()))

	for range 9 {
		f.clock.Advance(time.Second)
		assert.False(t, f.step(t).Read)
	}
	f.clock.Advance(time.Second)
	assert.True(t, f.step(t).Read)
	assert.Equal(t, 1, f.sens.reads)
}

func TestStep_invalidReadingDropped(t *testing.T) {
	f := newFixture(t, Options{})
	f.sens.next.VOC = 501

	res := f.step(t)
	assert.True(t, res.Read)
	assert.False(t, res.Accepted)
	assert.Zero(t, f.acc.Count())
	assert.Zero(t, f.ring.Len())
	assert.Empty(t, f.obs.currents)
}

func TestStep_notReadyRetriesNextPoll(t *testing.T) {
	f := newFixture(t, Options{ReadInterval: time.Second})
	f.sens.errs = []error{sensor.ErrNotReady}

	assert.False(t, f.step(t).Read)
	f.clock.Advance(10 * time.Millisecond)
	assert.True(t, f.step(t).Read)
	assert.Equal(t, 2, f.sens.reads)
}

func TestStep_readErrorWaitsFullInterval(t *testing.T) {
	f := newFixture(t, Options{ReadInterval: time.Second})
	f.sens.errs = []error{errors.New("i2c: nack")}

	assert.False(t, f.step(t).Read)
	f.clock.Advance(10 * time.Millisecond)
	f.step(t)
	assert.Equal(t, 1, f.sens.reads)

	f.clock.Advance(time.Second)
	assert.True(t, f.step(t).Read)
}

func TestStep_pausedDuringMaintenance(t *testing.T) {
	f := newFixture(t, Options{})
	f.gate.on = true

	f.clock.Advance(time.Minute)
	res := f.step(t)
	assert.True(t, res.Paused)
	assert.Zero(t, f.sens.reads)
	assert.Equal(t, upload.NotDue, res.Upload.Outcome)

	f.gate.on = false
	res = f.step(t)
	assert.True(t, res.Read)
	assert.Equal(t, upload.Collecting, res.Upload.Outcome)
}

func TestStep_uploadsAveragedBatch(t *testing.T) {
	f := newFixture(t, Options{ReadInterval: time.Second})

	var uploads []upload.Result
	for i := range 25 {
		f.sens.next.PM25 = float64(i)
		res := f.step(t)
		if res.Upload.Outcome != upload.NotDue {
			uploads = append(uploads, res.Upload)
		}
		f.clock.Advance(time.Second)
	}

	require.Len(t, uploads, 1)
	assert.Equal(t, upload.Uploaded, uploads[0].Outcome)
	assert.Equal(t, 21, uploads[0].Samples)
	require.Len(t, f.tr.sent, 1)
	assert.InDelta(t, 10.0, f.tr.sent[0].PM25, 1e-9)
	assert.Equal(t, 4, f.acc.Count())
	assert.Equal(t, 25, f.ring.Len())
	assert.Equal(t, 1, f.obs.statuses)
}

func TestStep_offlineKeepsSamples(t *testing.T) {
	f := newFixture(t, Options{ReadInterval: time.Second})
	f.conn.err = connection.ErrAttemptsExhausted

	for range 21 {
		f.step(t)
		f.clock.Advance(time.Second)
	}
	assert.Empty(t, f.tr.sent)
	assert.Equal(t, 21, f.acc.Count())
	assert.Equal(t, 1, f.obs.statuses)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.node.StartMeasurement(context.Background()))
	f.step(t)
	f.clock.Advance(90 * time.Second)
	f.gate.on = true

	st := f.node.Status()
	assert.Equal(t, int64(90), st.Uptime)
	assert.Equal(t, 2, st.Clients)
	assert.True(t, st.SensorInitialized)
	assert.Equal(t, 10, st.AverageTarget)
	assert.Equal(t, "connected", st.Link)
	assert.Equal(t, 1, st.ReconnectAttempts)
	assert.True(t, st.Maintenance)
	assert.NotZero(t, st.HeapSize)
	assert.LessOrEqual(t, st.FreeHeap, st.HeapSize)
}

func TestRun_stopsSensorOnCancel(t *testing.T) {
	f := newFixture(t, Options{PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.node.Run(ctx) }()

	assert.Eventually(t, func() bool {
		f.sens.mu.Lock()
		defer f.sens.mu.Unlock()
		return f.sens.reads > 0
	}, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	f.sens.mu.Lock()
	defer f.sens.mu.Unlock()
	assert.Equal(t, 1, f.sens.stops)
	assert.False(t, f.sens.started)
}
