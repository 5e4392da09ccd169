package maintenance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_BeginEnd(t *testing.T) {
	var began, ended int
	g := NewGate(Hooks{
		OnBegin: func(context.Context) error { began++; return nil },
		OnEnd:   func(context.Context) error { ended++; return nil },
	})
	ctx := context.Background()

	assert.False(t, g.InProgress())
	require.NoError(t, g.Begin(ctx, "ota"))
	assert.True(t, g.InProgress())
	assert.ErrorIs(t, g.Begin(ctx, "ota"), ErrAlreadyInProgress)

	require.NoError(t, g.End(ctx))
	assert.False(t, g.InProgress())
	assert.ErrorIs(t, g.End(ctx), ErrNotInProgress)

	assert.Equal(t, 1, began)
	assert.Equal(t, 1, ended)
}

func TestGate_Abort(t *testing.T) {
	ended := 0
	g := NewGate(Hooks{OnEnd: func(context.Context) error { ended++; return nil }})
	ctx := context.Background()

	assert.ErrorIs(t, g.Abort(ctx), ErrNotInProgress)
	require.NoError(t, g.Begin(ctx, "ota"))
	require.NoError(t, g.Abort(ctx))
	assert.False(t, g.InProgress())
	assert.Equal(t, 1, ended)
}

func TestGate_BeginHookFailureKeepsGateClosed(t *testing.T) {
	g := NewGate(Hooks{OnBegin: func(context.Context) error { return errors.New("i2c busy") }})

	require.NoError(t, g.Begin(context.Background(), "ota"))
	assert.True(t, g.InProgress())
}

func TestGate_EndHookFailureIsReported(t *testing.T) {
	g := NewGate(Hooks{OnEnd: func(context.Context) error { return errors.New("restart failed") }})
	ctx := context.Background()

	require.NoError(t, g.Begin(ctx, "ota"))
	assert.Error(t, g.End(ctx))
	assert.False(t, g.InProgress())
}
