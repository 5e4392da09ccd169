// Package maintenance pauses sampling while a firmware update or other
// maintenance operation owns the device.
package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrAlreadyInProgress = errors.New("maintenance already in progress")
	ErrNotInProgress     = errors.New("no maintenance in progress")
)

// Hooks run with the gate already switched, outside its lock.
type Hooks struct {
	OnBegin func(ctx context.Context) error
	OnEnd   func(ctx context.Context) error
}

type Gate struct {
	hooks Hooks
	now   func() time.Time

	mu      sync.Mutex
	active  bool
	since   time.Time
	purpose string
}

func NewGate(hooks Hooks) *Gate {
	return &Gate{hooks: hooks, now: time.Now}
}

// Begin marks maintenance in progress. A failing OnBegin hook is logged but
// does not reopen the gate: the device must not sample mid-update.
func (g *Gate) Begin(ctx context.Context, purpose string) error {
	g.mu.Lock()
	if g.active {
		g.mu.Unlock()
		return ErrAlreadyInProgress
	}
	g.active = true
	g.since = g.now()
	g.purpose = purpose
	g.mu.Unlock()

	slog.Info("maintenance started", "purpose", purpose)
	if g.hooks.OnBegin != nil {
		if err := g.hooks.OnBegin(ctx); err != nil {
			slog.Warn("maintenance begin hook failed", "error", err)
		}
	}
	return nil
}

// End closes the gate after a successful operation.
func (g *Gate) End(ctx context.Context) error {
	return g.finish(ctx, "maintenance finished")
}

// Abort closes the gate after a failed or cancelled operation.
func (g *Gate) Abort(ctx context.Context) error {
	return g.finish(ctx, "maintenance aborted")
}

func (g *Gate) finish(ctx context.Context, msg string) error {
	g.mu.Lock()
	if !g.active {
		g.mu.Unlock()
		return ErrNotInProgress
	}
	took := g.now().Sub(g.since)
	purpose := g.purpose
	g.active = false
	g.purpose = ""
	g.mu.Unlock()

	slog.Info(msg, "purpose", purpose, "duration", took)
	if g.hooks.OnEnd != nil {
		if err := g.hooks.OnEnd(ctx); err != nil {
			slog.Warn("maintenance end hook failed", "error", err)
			return err
		}
	}
	return nil
}

func (g *Gate) InProgress() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
