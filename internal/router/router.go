// Package router resolves units of work to the pool of the active backend.
package router

import (
	"context"

	"github.com/pkg/errors"

	"github.com/dreamware/poolswitch/internal/backend"
	"github.com/dreamware/poolswitch/internal/pool"
	"github.com/dreamware/poolswitch/internal/state"
)

// Router is the single indirection between request handling and the pools.
// It keeps no cache: every call reads the active backend again, so a
// committed migration is visible to the very next call.
type Router struct {
	registry *backend.Registry
	active   *state.Active
}

// New returns a router over registry that follows active.
func New(registry *backend.Registry, active *state.Active) *Router {
	return &Router{registry: registry, active: active}
}

// CurrentID returns the backend traffic is routed to right now.
func (r *Router) CurrentID() backend.ID {
	return r.active.Get()
}

// CurrentPool returns the pool of the active backend.
func (r *Router) CurrentPool() (pool.Pool, error) {
	return r.registry.Resolve(r.active.Get())
}

// Acquire checks out a connection from the active backend for one unit of
// work and reports which backend served it. The caller must Close the lease.
//
// Work that arrives during a migration waits on the suspended source pool.
// If the migration commits while it waits, the wait is abandoned and the
// connection is taken from the new active backend instead.
func (r *Router) Acquire(ctx context.Context) (pool.Lease, backend.ID, error) {
	for {
		id, changed := r.active.Watch()
		p, err := r.registry.Resolve(id)
		if err != nil {
			return nil, id, err
		}

		lease, err := acquire(ctx, p, changed)
		if err == nil {
			return lease, id, nil
		}
		if ctx.Err() == nil && closed(changed) {
			continue
		}
		return nil, id, errors.Wrapf(err, "backend %s", id)
	}
}

// acquire checks out from p, giving up as soon as changed is closed.
func acquire(ctx context.Context, p pool.Pool, changed <-chan struct{}) (pool.Lease, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-changed:
			cancel()
		case <-ctx.Done():
		}
	}()

	return p.Acquire(ctx)
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
