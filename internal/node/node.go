// Package node runs the cooperative polling loop that ties the sensor, the
// accumulator, the history ring and the upload coordinator together.
package node

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"airquality-node/internal/accumulator"
	"airquality-node/internal/connection"
	"airquality-node/internal/dashboard"
	"airquality-node/internal/history"
	"airquality-node/internal/reading"
	"airquality-node/internal/sensor"
	"airquality-node/internal/upload"
	"airquality-node/internal/wallclock"
)

// Sensor is the measurement source driven by the loop.
type Sensor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Read(ctx context.Context) (reading.Sample, error)
	Initialized() bool
}

// Uploader decides and performs uploads.
type Uploader interface {
	Tick(ctx context.Context, now time.Time) upload.Result
	UntilNext(now time.Time) time.Duration
	LastEntryID() int64
}

// Observers receives live updates for connected dashboards.
type Observers interface {
	PublishCurrent(e history.Entry)
	PublishStatus()
	ClientCount() int
}

// LinkStatus reports connection bookkeeping.
type LinkStatus interface {
	Status() connection.Status
}

// Paused reports whether sampling is suspended for maintenance.
type Paused interface {
	InProgress() bool
}

type Deps struct {
	Sensor      Sensor
	Validator   reading.Validator
	Accumulator *accumulator.Accumulator
	History     *history.Ring
	Uploader    Uploader
	Observers   Observers
	Link        LinkStatus
	Gate        Paused
	Clock       wallclock.Clock
}

type Options struct {
	ReadInterval time.Duration
	PollInterval time.Duration
	Warmup       time.Duration
}

// StepResult describes what one loop iteration did.
type StepResult struct {
	Read     bool
	Accepted bool
	Paused   bool
	Upload   upload.Result
}

type Node struct {
	deps  Deps
	opts  Options
	start time.Time

	mu       sync.Mutex
	lastRead time.Time
	readyAt  time.Time
}

func New(deps Deps, opts Options) *Node {
	if deps.Clock == nil {
		deps.Clock = wallclock.Real()
	}
	if opts.ReadInterval <= 0 {
		opts.ReadInterval = time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	return &Node{deps: deps, opts: opts, start: deps.Clock.Now()}
}

// StartMeasurement starts the sensor and holds off reading until the warm-up
// period has passed.
func (n *Node) StartMeasurement(ctx context.Context) error {
	if err := n.deps.Sensor.Start(ctx); err != nil {
		return err
	}
	n.mu.Lock()
	n.readyAt = n.deps.Clock.Now().Add(n.opts.Warmup)
	n.mu.Unlock()
	slog.Info("sensor measurement started", "warmup", n.opts.Warmup)
	return nil
}

func (n *Node) StopMeasurement(ctx context.Context) error {
	if err := n.deps.Sensor.Stop(ctx); err != nil {
		return err
	}
	slog.Info("sensor measurement stopped")
	return nil
}

// Step runs one loop iteration at now.
func (n *Node) Step(ctx context.Context, now time.Time) StepResult {
	if n.deps.Gate != nil && n.deps.Gate.InProgress() {
		return StepResult{Paused: true}
	}

	var res StepResult
	if n.readDue(now) {
		res.Read, res.Accepted = n.sample(ctx, now)
	}

	res.Upload = n.deps.Uploader.Tick(ctx, now)
	switch res.Upload.Outcome {
	case upload.NotDue, upload.Collecting:
	default:
		n.deps.Observers.PublishStatus()
	}
	return res
}

func (n *Node) readDue(now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if now.Before(n.readyAt) {
		return false
	}
	return n.lastRead.IsZero() || now.Sub(n.lastRead) >= n.opts.ReadInterval
}

// sample reads once. A sensor that has no data yet is polled again on the
// next step; any other failure waits a full read interval.
func (n *Node) sample(ctx context.Context, now time.Time) (read, accepted bool) {
	s, err := n.deps.Sensor.Read(ctx)
	if errors.Is(err, sensor.ErrNotReady) {
		return false, false
	}

	n.mu.Lock()
	n.lastRead = now
	n.mu.Unlock()

	if err != nil {
		slog.Warn("sensor read failed", "error", err)
		return false, false
	}
	if !n.deps.Validator.Valid(s) {
		slog.Debug("invalid reading dropped", "voc", s.VOC, "nox", s.NOx)
		return true, false
	}

	n.deps.Accumulator.Push(s)
	entry := history.Entry{Sample: s, At: now.Sub(n.start)}
	n.deps.History.Push(entry.Sample, entry.At)
	n.deps.Observers.PublishCurrent(entry)

	slog.Debug("reading accepted",
		"averaging", n.deps.Accumulator.Count(),
		"threshold", n.deps.Accumulator.Threshold(),
		"next_upload_s", int(n.deps.Uploader.UntilNext(now).Seconds()),
	)
	return true, true
}

// Run starts measurement and steps until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	if err := n.StartMeasurement(ctx); err != nil {
		slog.Error("failed to start sensor measurement", "error", err)
	}
	defer func() {
		if err := n.StopMeasurement(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to stop sensor measurement", "error", err)
		}
	}()

	for {
		n.Step(ctx, n.deps.Clock.Now())
		select {
		case <-ctx.Done():
			return nil
		case <-n.deps.Clock.After(n.opts.PollInterval):
		}
	}
}

// Status assembles the observer status payload.
func (n *Node) Status() dashboard.Status {
	now := n.deps.Clock.Now()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	st := dashboard.Status{
		Uptime:            int64(now.Sub(n.start).Seconds()),
		FreeHeap:          mem.HeapSys - mem.HeapInuse,
		HeapSize:          mem.HeapSys,
		Clients:           n.deps.Observers.ClientCount(),
		SensorInitialized: n.deps.Sensor.Initialized(),
		AverageCount:      n.deps.Accumulator.Count(),
		AverageTarget:     n.deps.Accumulator.Threshold(),
		LastEntryID:       n.deps.Uploader.LastEntryID(),
	}
	if n.deps.Link != nil {
		ls := n.deps.Link.Status()
		st.Link = ls.State.String()
		st.ReconnectAttempts = ls.Attempts
	}
	if n.deps.Gate != nil {
		st.Maintenance = n.deps.Gate.InProgress()
	}
	return st
}
