package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/dreamware/poolswitch/internal/backend"
	"github.com/dreamware/poolswitch/internal/quiesce"
	"github.com/dreamware/poolswitch/internal/state"
)

// DefaultDrainTimeout bounds the drain wait when none is configured.
const DefaultDrainTimeout = 5 * time.Minute

// Params configures a Controller.
type Params struct {
	Registry     *backend.Registry
	State        *state.Active
	Waiter       *quiesce.Waiter
	Logger       log.FieldLogger
	DrainTimeout time.Duration
}

// Controller moves live traffic from one backend to another.
//
// Only one migration runs at a time. Requests that arrive while one is
// running are rejected with ErrMigrationInProgress instead of queueing, so
// two protocols can never interleave and suspend both pools.
type Controller struct {
	registry     *backend.Registry
	active       *state.Active
	waiter       *quiesce.Waiter
	logger       log.FieldLogger
	drainTimeout time.Duration

	mu sync.Mutex // held for the whole protocol
}

// New creates a controller. A zero DrainTimeout selects DefaultDrainTimeout
// and a nil Waiter one with the default polling interval.
func New(p Params) *Controller {
	if p.DrainTimeout <= 0 {
		p.DrainTimeout = DefaultDrainTimeout
	}
	if p.Waiter == nil {
		p.Waiter = quiesce.New(quiesce.DefaultInterval, p.Logger)
	}
	return &Controller{
		registry:     p.Registry,
		active:       p.State,
		waiter:       p.Waiter,
		logger:       p.Logger,
		drainTimeout: p.DrainTimeout,
	}
}

// DrainTimeout returns the configured drain bound.
func (c *Controller) DrainTimeout() time.Duration {
	return c.drainTimeout
}

// Prepare suspends every pool except the active one, so that only the
// active backend hands out connections. It is meant to run once at startup.
// Failures are logged and do not stop the remaining pools from being
// prepared.
func (c *Controller) Prepare(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.active.Get()
	for _, e := range c.registry.Entries() {
		if e.ID == current {
			continue
		}
		logger := c.logger.WithFields(log.Fields{"backend": e.ID, "pool": e.Name})

		if err := e.Pool.SoftEvict(ctx); err != nil {
			logger.WithError(err).Warn("Failed to evict idle connections before suspending inactive pool")
		}
		if err := e.Pool.Suspend(ctx); err != nil {
			logger.WithError(err).Error("Failed to suspend inactive pool")
			continue
		}
		if err := e.Pool.SoftEvict(ctx); err != nil {
			logger.WithError(err).Warn("Failed to evict idle connections from suspended pool")
		}
		logger.Info("Inactive pool suspended")
	}
}

// Migrate makes target the active backend.
//
// The protocol is: suspend the source pool, evict its idle connections and
// wait for its checked-out connections to drain, resume the target pool,
// then switch the active backend. A failure after the source was suspended
// resumes the source. Failures are returned in the Result, never panicked.
//
// Once the protocol has started it runs to completion even if ctx is
// cancelled; ctx only supplies values to the pool operations.
func (c *Controller) Migrate(ctx context.Context, target string) Result {
	res := Result{
		ID:        uuid.NewString(),
		Requested: target,
		From:      c.active.Get(),
		Started:   time.Now(),
	}
	logger := c.logger.WithFields(log.Fields{
		"migration": res.ID,
		"requested": target,
	})
	logger.Info("Backend migration started")

	to, err := backend.ParseID(target)
	if err != nil {
		res.Err = errors.Wrap(ErrInvalidTarget, err.Error())
		res.Reason = "Provided backend identifier was invalid."
		return c.finish(logger, res, OutcomeFailed)
	}
	res.To = to

	if !c.mu.TryLock() {
		res.Err = ErrMigrationInProgress
		res.Reason = "Another migration is in progress."
		return c.finish(logger, res, OutcomeFailed)
	}
	defer c.mu.Unlock()

	res.From = c.active.Get()
	if res.From == to {
		res.Err = errors.Wrapf(ErrAlreadyActive, "%s", to)
		res.Reason = "Provided backend is already active."
		return c.finish(logger, res, OutcomeFailed)
	}

	logger = logger.WithFields(log.Fields{"from": res.From, "to": res.To})
	return c.run(context.WithoutCancel(ctx), logger, res)
}

// entries looks up both pools. NewRegistry guarantees an entry for every
// backend, so an error here means the controller was built without one.
func (c *Controller) entries(from, to backend.ID) (backend.Entry, backend.Entry, error) {
	source, err := c.registry.Entry(from)
	if err != nil {
		return backend.Entry{}, backend.Entry{}, errors.Wrap(ErrNotRegistered, err.Error())
	}
	target, err := c.registry.Entry(to)
	if err != nil {
		return backend.Entry{}, backend.Entry{}, errors.Wrap(ErrNotRegistered, err.Error())
	}
	return source, target, nil
}

func (c *Controller) run(ctx context.Context, logger log.FieldLogger, res Result) Result {
	source, target, err := c.entries(res.From, res.To)
	if err != nil {
		res.Err = err
		res.Reason = "Backend pools are not registered. Same backend is still active."
		return c.finish(logger, res, OutcomeFailed)
	}

	logger.Infof("Suspending currently active pool %s", source.Name)
	if err := source.Pool.Suspend(ctx); err != nil {
		logger.WithError(err).Errorf("Could not suspend pool %s", source.Name)
		res.Err = errors.Wrapf(ErrSuspendFailed, "%s: %v", source.Name, err)
		res.Reason = fmt.Sprintf("Could not suspend pool %s. Same backend is still active.", source.Name)
		return c.finish(logger, res, OutcomeFailed)
	}

	if err := c.drain(ctx, source); err != nil {
		reason := fmt.Sprintf("Could not drain pool %s.", source.Name)
		if errors.Is(err, ErrDrainTimedOut) {
			reason = fmt.Sprintf("Active connections on pool %s were not released within %s.", source.Name, c.drainTimeout)
		}
		return c.rollback(ctx, logger, res, source, err, reason)
	}

	logger.Infof("Resuming requested pool %s", target.Name)
	if err := target.Pool.Resume(ctx); err != nil {
		logger.WithError(err).Errorf("Could not resume pool %s", target.Name)
		cause := errors.Wrapf(ErrResumeTargetFailed, "%s: %v", target.Name, err)
		reason := fmt.Sprintf("Could not resume pool %s.", target.Name)
		return c.rollback(ctx, logger, res, source, cause, reason)
	}

	if err := c.active.Set(res.To); err != nil {
		res.Err = errors.Wrapf(ErrCommitFailed, "%s: %v", res.To, err)
		res.Reason = fmt.Sprintf("Pool %s was resumed and pool %s suspended, but the active backend could not be switched. Please restart the application.", target.Name, source.Name)
		return c.finish(logger, res, OutcomeFatal)
	}

	return c.finish(logger, res, OutcomeSucceeded)
}

// drain evicts idle connections from the suspended source, waits for the
// checked-out ones to be released, then evicts the connections they left
// behind.
func (c *Controller) drain(ctx context.Context, source backend.Entry) error {
	if err := source.Pool.SoftEvict(ctx); err != nil {
		return errors.Wrapf(ErrDrainFailed, "%s: %v", source.Name, err)
	}
	if !c.waiter.AwaitDrain(ctx, source.Pool, source.Name, c.drainTimeout) {
		return errors.Wrapf(ErrDrainTimedOut, "%s after %s", source.Name, c.drainTimeout)
	}
	if err := source.Pool.SoftEvict(ctx); err != nil {
		return errors.Wrapf(ErrDrainFailed, "%s: %v", source.Name, err)
	}
	return nil
}

// rollback resumes the source after cause ended the protocol.
func (c *Controller) rollback(ctx context.Context, logger log.FieldLogger, res Result, source backend.Entry, cause error, reason string) Result {
	res.Err = cause
	logger.WithError(cause).Warnf("Trying to resume pool %s", source.Name)

	if err := source.Pool.Resume(ctx); err != nil {
		res.RollbackErr = errors.Wrapf(ErrRollbackFailed, "%s: %v", source.Name, err)
		res.Reason = fmt.Sprintf("%s Tried to resume pool %s but it failed. No backend is accepting connections. Please restart the application.", reason, source.Name)
		return c.finish(logger, res, OutcomeFatal)
	}

	logger.Infof("Pool %s resumed back", source.Name)
	res.Reason = reason + " Same backend is still active."
	return c.finish(logger, res, OutcomeFailed)
}

func (c *Controller) finish(logger log.FieldLogger, res Result, outcome Outcome) Result {
	res.Outcome = outcome
	res.Finished = time.Now()

	logger = logger.WithFields(log.Fields{
		"outcome":  outcome,
		"duration": res.Duration(),
		"active":   c.active.LookupKey(),
	})

	switch outcome {
	case OutcomeSucceeded:
		logger.Info("Backend migration completed")
	case OutcomeFatal:
		if res.RollbackErr != nil {
			logger = logger.WithField("rollback_error", res.RollbackErr.Error())
		}
		logger.WithError(res.Err).
			WithField("severity", "critical").
			Error("Backend migration failed and could not be rolled back; operator intervention required")
	default:
		logger.WithError(res.Err).Warn("Backend migration failed")
	}
	return res
}
