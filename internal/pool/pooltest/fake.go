// Package pooltest provides a scriptable in-memory pool.Pool for tests.
package pooltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/dreamware/poolswitch/internal/pool"
)

// Fake is a pool.Pool without a database behind it. Tests hold and release
// leases to simulate in-flight work and set the *Err fields to make the
// matching operation fail.
type Fake struct {
	SuspendErr   error
	ResumeErr    error
	SoftEvictErr error

	// OnSuspend runs after a successful Suspend. Tests use it to observe or
	// interleave with the migration protocol.
	OnSuspend func()

	name   string
	mu     sync.Mutex
	calls  []string
	state  pool.State
	leases int
	cond   *sync.Cond
}

var _ pool.Pool = (*Fake)(nil)

// NewFake returns an active fake pool.
func NewFake(name string) *Fake {
	f := &Fake{name: name, state: pool.StateActive}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// NewSuspendedFake returns a fake pool that starts suspended.
func NewSuspendedFake(name string) *Fake {
	f := NewFake(name)
	f.state = pool.StateSuspended
	return f
}

// SetErrors replaces the scripted errors under the fake's lock.
func (f *Fake) SetErrors(suspend, resume, evict error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SuspendErr, f.ResumeErr, f.SoftEvictErr = suspend, resume, evict
}

// Hold checks out a lease without going through the suspended check and
// returns the function that releases it.
func (f *Fake) Hold() (release func()) {
	f.mu.Lock()
	f.leases++
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(f.release) }
}

func (f *Fake) release() {
	f.mu.Lock()
	f.leases--
	f.cond.Broadcast()
	f.mu.Unlock()
}

// Calls returns the lifecycle operations invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *Fake) Name() string   { return f.name }
func (f *Fake) Driver() string { return "fake" }

func (f *Fake) State() pool.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Fake) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leases
}

func (f *Fake) Suspend(ctx context.Context) error {
	f.mu.Lock()
	f.record("suspend")
	if f.SuspendErr != nil {
		err := f.SuspendErr
		f.mu.Unlock()
		return err
	}
	f.state = pool.StateSuspended
	hook := f.OnSuspend
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (f *Fake) Resume(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("resume")
	if f.ResumeErr != nil {
		return f.ResumeErr
	}
	f.state = pool.StateActive
	f.cond.Broadcast()
	return nil
}

func (f *Fake) SoftEvict(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("evict")
	return f.SoftEvictErr
}

// Acquire blocks while the fake is suspended. Unlike pool.SQLPool it only
// wakes on Resume, Close or lease release, so tests should pass a context
// they cancel.
func (f *Fake) Acquire(ctx context.Context) (pool.Lease, error) {
	stop := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		f.cond.Broadcast()
		f.mu.Unlock()
	})
	defer stop()

	f.mu.Lock()
	defer f.mu.Unlock()

	for f.state == pool.StateSuspended {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(pool.ErrSuspended, "failed to acquire from %s: %v", f.name, err)
		}
		f.cond.Wait()
	}
	if f.state == pool.StateClosed {
		return nil, pool.ErrClosed
	}

	f.leases++
	l := &lease{}
	l.release = func() { l.once.Do(f.release) }
	return l, nil
}

func (f *Fake) Stats() pool.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pool.Stats{
		Name:   f.name,
		Driver: "fake",
		State:  f.state,
		Active: f.leases,
	}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = pool.StateClosed
	f.cond.Broadcast()
	return nil
}

// ErrNoDatabase is returned by every query on a fake lease. Tests that need
// a database use pool.SQLPool on sqlite instead.
var ErrNoDatabase = errors.New("fake lease has no database")

type noDatabase struct{}

func (noDatabase) Connect(context.Context) (driver.Conn, error) { return nil, ErrNoDatabase }
func (noDatabase) Driver() driver.Driver { return noDatabase{} }
func (noDatabase) Open(string) (driver.Conn, error) { return nil, ErrNoDatabase }

// unreachable fails every query without panicking, including QueryRowx
// whose error only surfaces on Scan.
var unreachable = sqlx.NewDb(sql.OpenDB(noDatabase{}), "fake")

type lease struct {
	release func()
	once    sync.Once
}

func (l *lease) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return unreachable.QueryContext(ctx, query, args...)
}

func (l *lease) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	return unreachable.QueryxContext(ctx, query, args...)
}

func (l *lease) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	return unreachable.QueryRowxContext(ctx, query, args...)
}

func (l *lease) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return unreachable.ExecContext(ctx, query, args...)
}

func (l *lease) Rebind(query string) string { return query }

func (l *lease) DriverName() string { return "fake" }

func (l *lease) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return nil, ErrNoDatabase
}

func (l *lease) Close() error {
	l.release()
	return nil
}
