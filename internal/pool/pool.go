// Package pool defines the connection-pool capabilities the migration core
// depends on, and a database/sql backed implementation of them.
package pool

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// State is the operational state of a pool.
type State string

const (
	// StateActive means the pool hands out new connections.
	StateActive State = "ACTIVE"
	// StateSuspended means new acquisitions are blocked; leases already
	// checked out stay valid until released.
	StateSuspended State = "SUSPENDED"
	// StateClosed means the pool has been shut down.
	StateClosed State = "CLOSED"
)

var (
	// ErrSuspended is returned when an acquisition gives up waiting on a
	// suspended pool.
	ErrSuspended = errors.New("pool is suspended")
	// ErrClosed is returned by every operation on a closed pool.
	ErrClosed = errors.New("pool is closed")
)

// Suspendable pools can stop handing out new connections.
type Suspendable interface {
	Suspend(ctx context.Context) error
}

// Resumable pools can start handing out connections again.
type Resumable interface {
	Resume(ctx context.Context) error
}

// Drainable pools report how many connections are checked out and can
// close the idle ones.
type Drainable interface {
	ActiveCount() int
	SoftEvict(ctx context.Context) error
}

// Lease is a connection checked out of a pool for one unit of work.
// Close returns it to the pool; calling Close more than once is a no-op.
type Lease interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	Rebind(query string) string
	DriverName() string
	Close() error
}

// Pool is the full handle the registry stores for each backend.
type Pool interface {
	Suspendable
	Resumable
	Drainable

	// Acquire checks out a connection. On a suspended pool it blocks until
	// the pool is resumed or ctx ends.
	Acquire(ctx context.Context) (Lease, error)

	Name() string
	Driver() string
	State() State
	Stats() Stats
	Close() error
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
	State  State  `json:"state"`

	// Active is the number of leases checked out.
	Active int `json:"active"`
	// Idle and Open come from the driver pool.
	Idle int `json:"idle"`
	Open int `json:"open"`

	Acquired  uint64 `json:"acquired"`
	Rejected  uint64 `json:"rejected"` // gave up waiting on a suspended pool
	Suspends  uint64 `json:"suspends"`
	Evictions uint64 `json:"evictions"`
}
