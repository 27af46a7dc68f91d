package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateCountsLeases(t *testing.T) {
	g := newGate()
	require.Equal(t, StateActive, g.state())

	require.NoError(t, g.enter(context.Background()))
	require.NoError(t, g.enter(context.Background()))
	assert.Equal(t, 2, g.active())

	g.leave()
	g.leave()
	g.leave() // extra leave never goes negative
	assert.Equal(t, 0, g.active())
}

func TestGateSuspendBlocksUntilResume(t *testing.T) {
	g := newGate()

	changed, err := g.suspend()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StateSuspended, g.state())

	changed, err = g.suspend()
	require.NoError(t, err)
	assert.False(t, changed, "second suspend is a no-op")

	entered := make(chan error, 1)
	go func() { entered <- g.enter(context.Background()) }()

	select {
	case <-entered:
		t.Fatal("enter returned while the gate was suspended")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, g.active())

	changed, err = g.resume()
	require.NoError(t, err)
	assert.True(t, changed)

	select {
	case err := <-entered:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enter did not return after resume")
	}
	assert.Equal(t, 1, g.active())

	changed, err = g.resume()
	require.NoError(t, err)
	assert.False(t, changed, "resuming an open gate is a no-op")
}

func TestGateEnterHonoursContext(t *testing.T) {
	g := newGate()
	_, err := g.suspend()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = g.enter(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, g.active())
}

func TestGateShutWakesWaiters(t *testing.T) {
	g := newGate()
	_, err := g.suspend()
	require.NoError(t, err)

	entered := make(chan error, 1)
	go func() { entered <- g.enter(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	assert.True(t, g.shut())
	assert.False(t, g.shut())

	select {
	case err := <-entered:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("enter did not return after shut")
	}

	assert.Equal(t, StateClosed, g.state())
	_, err = g.suspend()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = g.resume()
	assert.ErrorIs(t, err, ErrClosed)
}
