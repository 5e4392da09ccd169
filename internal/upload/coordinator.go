// Package upload decides, once per tick, whether a batch of averaged samples
// is due and delivers it through a Transport.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"airquality-node/internal/accumulator"
	"airquality-node/internal/reading"
)

// DefaultInterval is the minimum time between upload decisions.
const DefaultInterval = 20 * time.Second

// Transport delivers one averaged sample and returns the identifier the remote
// side assigned to it.
type Transport interface {
	Upload(ctx context.Context, s reading.Sample) (int64, error)
}

// Connectivity is satisfied by *connection.Supervisor.
type Connectivity interface {
	EnsureConnected(ctx context.Context) error
}

// Recorder receives every decision that got past the sample threshold.
type Recorder interface {
	RecordUpload(ctx context.Context, at time.Time, r Result) error
}

type Mode string

const (
	// ModeCommit keeps a batch pending until its delivery is confirmed.
	ModeCommit Mode = "commit"
	// ModeDrain consumes the batch before upload; failures lose it.
	ModeDrain Mode = "drain"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCommit, ModeDrain:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown upload mode %q", s)
}

type Outcome int

const (
	NotDue Outcome = iota
	Collecting
	InvalidBatch
	Offline
	UploadFailed
	Uploaded
)

func (o Outcome) String() string {
	switch o {
	case NotDue:
		return "not_due"
	case Collecting:
		return "collecting"
	case InvalidBatch:
		return "invalid_batch"
	case Offline:
		return "offline"
	case UploadFailed:
		return "upload_failed"
	case Uploaded:
		return "uploaded"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result describes what one Tick did.
type Result struct {
	Outcome Outcome
	// Samples is the number of raw samples behind Mean.
	Samples int
	Mean    reading.Sample
	EntryID int64
	// Retained is true when the batch is still pending in the accumulator.
	Retained bool
	Err      error
}

type Options struct {
	Interval time.Duration
	Mode     Mode
	Recorder Recorder
}

type Coordinator struct {
	acc       *accumulator.Accumulator
	validator reading.Validator
	conn      Connectivity
	transport Transport
	recorder  Recorder
	interval  time.Duration
	mode      Mode

	tickMu sync.Mutex

	mu       sync.Mutex
	lastTick time.Time

	lastEntry atomic.Int64
}

// NewCoordinator starts the interval at start, so the first upload decision
// happens one interval later.
func NewCoordinator(acc *accumulator.Accumulator, v reading.Validator, conn Connectivity, t Transport, start time.Time, opts Options) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Mode == "" {
		opts.Mode = ModeCommit
	}
	return &Coordinator{
		acc:       acc,
		validator: v,
		conn:      conn,
		transport: t,
		recorder:  opts.Recorder,
		interval:  opts.Interval,
		mode:      opts.Mode,
		lastTick:  start,
	}
}

// Tick is called from the polling loop. Ticks are serialized.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) Result {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	c.mu.Lock()
	if now.Sub(c.lastTick) < c.interval {
		c.mu.Unlock()
		return Result{Outcome: NotDue}
	}
	c.lastTick = now
	c.mu.Unlock()

	if !c.acc.HasEnoughSamples() {
		slog.Debug("not enough samples for upload", "count", c.acc.Count(), "threshold", c.acc.Threshold())
		return Result{Outcome: Collecting, Samples: c.acc.Count(), Retained: true}
	}

	var (
		batch accumulator.Batch
		ok    bool
	)
	if c.mode == ModeDrain {
		batch, ok = c.acc.Drain()
	} else {
		batch, ok = c.acc.Peek()
	}
	if !ok {
		return Result{Outcome: Collecting, Retained: true}
	}

	res := c.deliver(ctx, batch)
	if c.recorder != nil && res.Outcome != Collecting {
		if err := c.recorder.RecordUpload(ctx, now, res); err != nil {
			slog.Warn("failed to record upload", "error", err)
		}
	}
	return res
}

func (c *Coordinator) deliver(ctx context.Context, batch accumulator.Batch) Result {
	res := Result{Samples: batch.Count, Mean: batch.Mean, Retained: c.mode == ModeCommit}

	if !c.validator.Valid(batch.Mean) {
		c.commit(batch)
		res.Outcome = InvalidBatch
		res.Retained = false
		slog.Warn("averaged batch invalid, discarding", "samples", batch.Count)
		return res
	}

	if err := c.conn.EnsureConnected(ctx); err != nil {
		res.Outcome = Offline
		res.Err = err
		slog.Warn("link unavailable, skipping upload", "error", err, "retained", res.Retained)
		return res
	}

	id, err := c.transport.Upload(ctx, batch.Mean)
	if err != nil {
		res.Outcome = UploadFailed
		res.Err = err
		slog.Warn("upload failed, skipping upload", "error", err, "retained", res.Retained)
		return res
	}

	c.commit(batch)
	c.lastEntry.Store(id)
	res.Outcome = Uploaded
	res.EntryID = id
	res.Retained = false
	slog.Info("batch uploaded", "entry_id", id, "samples", batch.Count)
	return res
}

func (c *Coordinator) commit(b accumulator.Batch) {
	if c.mode == ModeCommit {
		c.acc.Commit(b)
	}
}

// LastEntryID returns the identifier of the last confirmed upload, or 0.
func (c *Coordinator) LastEntryID() int64 {
	return c.lastEntry.Load()
}

// UntilNext returns the time left before the next upload decision.
func (c *Coordinator) UntilNext(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.interval - now.Sub(c.lastTick)
	if d < 0 {
		return 0
	}
	return d
}

func (c *Coordinator) Mode() Mode { return c.mode }
