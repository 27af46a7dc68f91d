// Package migration implements the live backend migration protocol: moving
// all database traffic of a running process from one backend to another
// without dropping in-flight work.
//
// # Overview
//
// Each backend owns a connection pool for the lifetime of the process. At
// any moment exactly one backend is active and all new units of work are
// routed to its pool; every other pool is suspended. A migration swaps
// which pool is suspended and which one is active.
//
// # Protocol
//
// Migrate runs four phases in a fixed order:
//
//	  source ACTIVE, target SUSPENDED
//	            │
//	            ▼
//	┌───────────────────────┐   error   ┌───────────────────────────┐
//	│ 1. SUSPEND_SOURCE     │──────────▶│ failed, nothing to undo    │
//	└───────────────────────┘           └───────────────────────────┘
//	            │
//	            ▼
//	┌───────────────────────┐  error or ┌───────────────────────────┐
//	│ 2. DRAIN_SOURCE       │  timeout  │ ROLLBACK: resume source    │
//	│    evict idle         │──────────▶│   ok    → failed           │
//	│    await active == 0  │           │   error → fatal            │
//	│    evict idle         │           └───────────────────────────┘
//	└───────────────────────┘                        ▲
//	            │                                    │
//	            ▼                                    │
//	┌───────────────────────┐   error                │
//	│ 3. RESUME_TARGET      │────────────────────────┘
//	└───────────────────────┘
//	            │
//	            ▼
//	┌───────────────────────┐   error   ┌───────────────────────────┐
//	│ 4. COMMIT             │──────────▶│ fatal                      │
//	└───────────────────────┘           └───────────────────────────┘
//	            │
//	            ▼
//	  target ACTIVE, source SUSPENDED
//
// The active backend only changes in COMMIT, after the target pool is
// resumed. Until then the router keeps sending work to the source pool,
// where new acquisitions wait on the suspension. Work already holding a
// connection is never interrupted; the drain phase waits for it.
//
// # Rejections
//
// Three requests are declined before anything is touched:
//
//   - an identifier that names no backend (ErrInvalidTarget)
//   - the backend that is already active (ErrAlreadyActive)
//   - any request while another migration is running (ErrMigrationInProgress)
//
// A controller built on a registry that lacks a pool fails the same way,
// with ErrNotRegistered. That is a server fault, not a bad request.
//
// # Failure Model
//
// Every failure is reported through the Result; Migrate never panics and
// never exits the process. Recoverable failures resume the source, so the
// caller finds the system exactly as it was before the request. A failed
// rollback or commit yields OutcomeFatal, logged at error level with
// severity=critical: the process keeps running but no pool may be serving
// connections until an operator restarts it.
//
// # Cancellation
//
// The protocol cannot be cancelled once it has begun. Abandoning it half
// way would leave the source suspended with nobody to resume it, so the
// request context is detached with context.WithoutCancel and the drain is
// bounded by the configured drain timeout instead.
//
// # Usage
//
//	ctrl := migration.New(migration.Params{
//	    Registry:     registry,
//	    State:        active,
//	    Waiter:       quiesce.New(100*time.Millisecond, logger),
//	    DrainTimeout: 5 * time.Minute,
//	    Logger:       logger,
//	})
//	ctrl.Prepare(ctx) // suspend inactive pools at startup
//
//	res := ctrl.Migrate(ctx, "secondary")
//	fmt.Println(res.Message())
package migration
