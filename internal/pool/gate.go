package pool

import (
	"context"
	"sync"
)

// gate admits acquisitions while open and counts the leases it admitted.
//
// Admission and the suspended check happen under the same mutex, so once
// suspend returns no new lease can be admitted and the lease count can only
// go down. That is what lets a drain wait trust a zero count.
type gate struct {
	mu        sync.Mutex
	resumed   chan struct{} // closed while the gate is open
	leases    int
	suspended bool
	closed    bool
}

func newGate() *gate {
	ch := make(chan struct{})
	close(ch)
	return &gate{resumed: ch}
}

// enter admits one lease, waiting while the gate is suspended.
func (g *gate) enter(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return ErrClosed
		}
		if !g.suspended {
			g.leases++
			g.mu.Unlock()
			return nil
		}
		wait := g.resumed
		g.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *gate) leave() {
	g.mu.Lock()
	if g.leases > 0 {
		g.leases--
	}
	g.mu.Unlock()
}

// suspend closes the gate. Reports whether the state changed.
func (g *gate) suspend() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false, ErrClosed
	}
	if g.suspended {
		return false, nil
	}
	g.suspended = true
	g.resumed = make(chan struct{})
	return true, nil
}

// resume opens the gate and wakes blocked acquirers.
func (g *gate) resume() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false, ErrClosed
	}
	if !g.suspended {
		return false, nil
	}
	g.suspended = false
	close(g.resumed)
	return true, nil
}

// shut closes the gate for good. Waiters wake up and observe ErrClosed.
func (g *gate) shut() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}
	g.closed = true
	if g.suspended {
		close(g.resumed)
	}
	return true
}

func (g *gate) state() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case g.closed:
		return StateClosed
	case g.suspended:
		return StateSuspended
	default:
		return StateActive
	}
}

func (g *gate) active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.leases
}
