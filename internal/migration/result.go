package migration

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/dreamware/poolswitch/internal/backend"
)

// Rejections: nothing was changed.
var (
	ErrInvalidTarget       = errors.New("invalid target backend")
	ErrAlreadyActive       = errors.New("target backend is already active")
	ErrMigrationInProgress = errors.New("another migration is in progress")
)

// ErrNotRegistered means the registry has no pool for a backend. Nothing
// was changed, but the server is misconfigured rather than the request.
var ErrNotRegistered = errors.New("backend has no registered pool")

// Recoverable failures: the source pool was resumed and is still active.
var (
	ErrSuspendFailed      = errors.New("could not suspend source")
	ErrDrainTimedOut      = errors.New("drain timed out")
	ErrDrainFailed        = errors.New("could not drain source")
	ErrResumeTargetFailed = errors.New("could not resume target")
)

// Fatal failures: pools may be left unusable and need an operator.
var (
	ErrRollbackFailed = errors.New("rollback failed")
	ErrCommitFailed   = errors.New("could not switch active backend")
)

// Outcome classifies a migration attempt.
type Outcome string

const (
	// OutcomeSucceeded means the target is active.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed means the attempt was declined or rolled back; the
	// system is in its pre-migration state.
	OutcomeFailed Outcome = "failed"
	// OutcomeFatal means a rollback or the commit itself failed and the
	// process needs external remediation.
	OutcomeFatal Outcome = "fatal"
)

// Result is the record of one migration attempt. It only lives for the
// duration of the call that produced it and is never persisted.
type Result struct {
	Started  time.Time
	Finished time.Time

	// Err is the failure that ended the attempt, matched with errors.Is
	// against the package sentinels. Nil on success.
	Err error

	// RollbackErr is set when resuming the source after Err also failed.
	RollbackErr error

	ID        string
	Requested string // raw identifier as received
	Reason    string // operator-facing explanation of a failure
	From      backend.ID
	To        backend.ID
	Outcome   Outcome
}

// Succeeded reports whether the target became active.
func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSucceeded
}

// Fatal reports whether the attempt left the system in a state that needs
// operator intervention.
func (r Result) Fatal() bool {
	return r.Outcome == OutcomeFatal
}

// Message renders the one human-readable line returned to operators.
func (r Result) Message() string {
	if r.Succeeded() {
		return fmt.Sprintf("Backend migration successful. Active backend: %s.", r.To)
	}
	return "Backend could not migrate. " + r.Reason
}

// Duration is how long the attempt took.
func (r Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}
