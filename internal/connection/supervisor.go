// Package connection supervises the node's network link: the blocking initial
// association and rate-limited, capped reconnection attempts afterwards.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"airquality-node/internal/wallclock"
)

var (
	ErrAssociationTimeout = errors.New("link association timed out")
	ErrAttemptsExhausted  = errors.New("reconnect attempts exhausted")
	ErrRateLimited        = errors.New("reconnect attempt rate limited")
	ErrReconnectFailed    = errors.New("reconnect attempt failed")
)

// Link is the link-layer driver the supervisor drives.
type Link interface {
	// Associate starts the initial association. It may return before the
	// link is up; the supervisor polls IsConnected.
	Associate(ctx context.Context) error
	// Reassociate drops and restarts the association.
	Reassociate(ctx context.Context) error
	// IsConnected reports live link-layer status.
	IsConnected() bool
}

type State int

const (
	Disconnected State = iota
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

type Options struct {
	ConnectTimeout time.Duration
	PollInterval   time.Duration
	MaxAttempts    int
	RetryInterval  time.Duration
	SettleDelay    time.Duration
}

func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 30 * time.Second,
		PollInterval:   500 * time.Millisecond,
		MaxAttempts:    3,
		RetryInterval:  5 * time.Second,
		SettleDelay:    3 * time.Second,
	}
}

// Status is a point-in-time copy of the supervisor bookkeeping.
type Status struct {
	State       State
	Attempts    int
	LastAttempt time.Time
	LinkUp      bool
}

type Supervisor struct {
	link  Link
	clock wallclock.Clock
	opts  Options

	// opMu serializes reconnection attempts; mu guards the bookkeeping and
	// is never held across link calls that block.
	opMu        sync.Mutex
	mu          sync.Mutex
	state       State
	attempts    int
	lastAttempt time.Time
}

func NewSupervisor(link Link, clock wallclock.Clock, opts Options) *Supervisor {
	def := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.RetryInterval < 0 {
		opts.RetryInterval = 0
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if clock == nil {
		clock = wallclock.Real()
	}
	return &Supervisor{link: link, clock: clock, opts: opts}
}

// Connect performs the blocking initial association, polling the link until
// it reports up or ConnectTimeout elapses.
func (s *Supervisor) Connect(ctx context.Context) error {
	slog.Info("associating link", "timeout", s.opts.ConnectTimeout)
	if err := s.link.Associate(ctx); err != nil {
		s.setState(Disconnected)
		return fmt.Errorf("associate: %w", err)
	}

	polls := uint64(s.opts.ConnectTimeout / s.opts.PollInterval)
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.PollInterval), polls),
		ctx,
	)
	err := backoff.Retry(func() error {
		if s.link.IsConnected() {
			return nil
		}
		return ErrAssociationTimeout
	}, b)
	if err != nil {
		s.setState(Disconnected)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return ErrAssociationTimeout
	}

	s.mu.Lock()
	s.state = Connected
	s.attempts = 0
	s.mu.Unlock()
	slog.Info("link connected")
	return nil
}

// EnsureConnected returns nil when the link is up, otherwise it performs at
// most one reconnection attempt subject to the attempt cap and the retry
// interval.
func (s *Supervisor) EnsureConnected(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.link.IsConnected() {
		s.state = Connected
		s.attempts = 0
		s.mu.Unlock()
		return nil
	}
	s.state = Disconnected

	if s.attempts >= s.opts.MaxAttempts {
		s.mu.Unlock()
		return ErrAttemptsExhausted
	}
	now := s.clock.Now()
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.opts.RetryInterval {
		s.mu.Unlock()
		return ErrRateLimited
	}

	s.attempts++
	s.lastAttempt = now
	s.state = Reconnecting
	attempt := s.attempts
	s.mu.Unlock()
	slog.Warn("link down, reconnecting", "attempt", attempt, "max_attempts", s.opts.MaxAttempts)

	if err := s.link.Reassociate(ctx); err != nil {
		s.setState(Disconnected)
		return fmt.Errorf("%w: %w", ErrReconnectFailed, err)
	}
	select {
	case <-s.clock.After(s.opts.SettleDelay):
	case <-ctx.Done():
		s.setState(Disconnected)
		return ctx.Err()
	}

	if !s.link.IsConnected() {
		s.setState(Disconnected)
		return ErrReconnectFailed
	}
	s.mu.Lock()
	s.state = Connected
	s.attempts = 0
	s.mu.Unlock()
	slog.Info("link reconnected")
	return nil
}

// IsConnected reads the link directly, bypassing the bookkeeping.
func (s *Supervisor) IsConnected() bool {
	return s.link.IsConnected()
}

// ResetAttempts clears the attempt counter so a supervisor that exhausted its
// attempts may try again.
func (s *Supervisor) ResetAttempts() {
	s.mu.Lock()
	s.attempts = 0
	s.lastAttempt = time.Time{}
	s.mu.Unlock()
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:       s.state,
		Attempts:    s.attempts,
		LastAttempt: s.lastAttempt,
		LinkUp:      s.link.IsConnected(),
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
