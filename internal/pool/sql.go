package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	// Register the supported database/sql drivers.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Drivers accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
	DriverSQLite   = "sqlite"
)

const defaultMaxIdleConns = 2

// Config describes one backend's connection pool.
type Config struct {
	Name            string
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// AcquireTimeout bounds how long Acquire waits on a suspended pool.
	// Zero means wait until the caller's context ends.
	AcquireTimeout time.Duration
}

// SupportedDriver reports whether Open accepts driver.
func SupportedDriver(driver string) bool {
	switch driver {
	case DriverPostgres, DriverPGX, DriverSQLite:
		return true
	}
	return false
}

// SQLPool is a Pool backed by database/sql through sqlx.
//
// database/sql has no notion of suspension, so SQLPool puts a gate in front
// of it: every Acquire passes the gate, and the gate is what Suspend closes.
// Leases are counted at the gate rather than read from sql.DBStats.InUse,
// which would miss acquisitions that passed the gate but have not yet been
// handed a driver connection.
type SQLPool struct {
	db     *sqlx.DB
	gate   *gate
	logger log.FieldLogger
	cfg    Config

	evictMu sync.Mutex

	acquired  atomic.Uint64
	rejected  atomic.Uint64
	suspends  atomic.Uint64
	evictions atomic.Uint64
}

var _ Pool = (*SQLPool)(nil)

// Open opens a pool for cfg. No connection is made until first use.
func Open(cfg Config, logger log.FieldLogger) (*SQLPool, error) {
	if !SupportedDriver(cfg.Driver) {
		return nil, errors.Errorf("unsupported driver %q", cfg.Driver)
	}
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open pool %s", cfg.Name)
	}
	return New(db, cfg, logger), nil
}

// New wraps an already opened database handle.
func New(db *sqlx.DB, cfg Config, logger log.FieldLogger) *SQLPool {
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &SQLPool{
		db:   db,
		gate: newGate(),
		cfg:  cfg,
		logger: logger.WithFields(log.Fields{
			"pool":   cfg.Name,
			"driver": cfg.Driver,
		}),
	}
}

// Name returns the human-readable pool name.
func (p *SQLPool) Name() string { return p.cfg.Name }

// Driver returns the database/sql driver name.
func (p *SQLPool) Driver() string { return p.cfg.Driver }

// State returns the current operational state.
func (p *SQLPool) State() State { return p.gate.state() }

// ActiveCount returns the number of leases currently checked out.
func (p *SQLPool) ActiveCount() int { return p.gate.active() }

// Acquire checks out a connection.
//
// While the pool is suspended Acquire blocks until the pool is resumed, ctx
// ends, or the configured AcquireTimeout elapses; the last two return an
// error wrapping ErrSuspended.
func (p *SQLPool) Acquire(ctx context.Context) (Lease, error) {
	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	if err := p.gate.enter(ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil, errors.Wrapf(err, "failed to acquire from %s", p.cfg.Name)
		}
		p.rejected.Add(1)
		return nil, errors.Wrapf(ErrSuspended, "failed to acquire from %s: %v", p.cfg.Name, err)
	}

	conn, err := p.db.Connx(ctx)
	if err != nil {
		p.gate.leave()
		return nil, errors.Wrapf(err, "failed to get connection from %s", p.cfg.Name)
	}
	p.acquired.Add(1)

	return &sqlLease{Conn: conn, gate: p.gate, driver: p.cfg.Driver}, nil
}

// Suspend stops the pool from handing out new connections. Leases already
// checked out remain valid. Suspending a suspended pool is a no-op.
func (p *SQLPool) Suspend(ctx context.Context) error {
	changed, err := p.gate.suspend()
	if err != nil {
		return errors.Wrapf(err, "failed to suspend %s", p.cfg.Name)
	}
	if changed {
		p.suspends.Add(1)
		p.logger.WithField("active", p.ActiveCount()).Info("Pool suspended")
	}
	return nil
}

// Resume checks that the database answers and then lets the pool hand out
// connections again. A pool whose database does not answer stays suspended
// and the ping error is returned.
func (p *SQLPool) Resume(ctx context.Context) error {
	if p.gate.state() == StateClosed {
		return errors.Wrapf(ErrClosed, "failed to resume %s", p.cfg.Name)
	}

	if err := p.db.PingContext(ctx); err != nil {
		p.logger.WithError(err).Warn("Pool did not answer, not resuming")
		return errors.Wrapf(err, "pool %s did not answer", p.cfg.Name)
	}

	changed, err := p.gate.resume()
	if err != nil {
		return errors.Wrapf(err, "failed to resume %s", p.cfg.Name)
	}
	if changed {
		p.logger.Info("Pool resumed")
	}
	return nil
}

// SoftEvict closes the idle connections held by the pool. Connections in
// use are left alone and are returned to the pool as usual when released.
func (p *SQLPool) SoftEvict(ctx context.Context) error {
	if p.gate.state() == StateClosed {
		return errors.Wrapf(ErrClosed, "failed to evict from %s", p.cfg.Name)
	}

	p.evictMu.Lock()
	defer p.evictMu.Unlock()

	idle := p.db.Stats().Idle
	// A non-positive limit makes database/sql close every idle connection.
	p.db.SetMaxIdleConns(-1)
	p.db.SetMaxIdleConns(p.cfg.MaxIdleConns)
	p.evictions.Add(1)

	p.logger.WithField("evicted", idle).Debug("Soft evicted idle connections")
	return nil
}

// Stats returns a snapshot of the pool's counters.
func (p *SQLPool) Stats() Stats {
	dbStats := p.db.Stats()
	return Stats{
		Name:      p.cfg.Name,
		Driver:    p.cfg.Driver,
		State:     p.State(),
		Active:    p.ActiveCount(),
		Idle:      dbStats.Idle,
		Open:      dbStats.OpenConnections,
		Acquired:  p.acquired.Load(),
		Rejected:  p.rejected.Load(),
		Suspends:  p.suspends.Load(),
		Evictions: p.evictions.Load(),
	}
}

// Close shuts the pool down. Blocked acquirers fail with ErrClosed.
func (p *SQLPool) Close() error {
	if !p.gate.shut() {
		return nil
	}
	return errors.Wrapf(p.db.Close(), "failed to close %s", p.cfg.Name)
}

type sqlLease struct {
	*sqlx.Conn
	gate   *gate
	driver string
	once   sync.Once
	err    error
}

func (l *sqlLease) DriverName() string { return l.driver }

func (l *sqlLease) Close() error {
	l.once.Do(func() {
		l.err = l.Conn.Close()
		l.gate.leave()
	})
	return l.err
}
