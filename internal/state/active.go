// Package state holds the identifier of the backend that live traffic is
// routed to.
package state

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/dreamware/poolswitch/internal/backend"
)

// Active is the single mutable "which backend is live" value.
//
// Exactly one identifier is active at all times. Reads take a read lock and
// writes hold the write lock only for one assignment, so request routing is
// never held up by a migration: the long parts of a migration happen
// outside this type.
type Active struct {
	mu       sync.RWMutex
	current  backend.ID
	fallback backend.ID
	changed  chan struct{} // closed and replaced whenever current changes
}

// New returns the state initialised to the configured default backend.
//
// defaultKey is matched case-insensitively. When it is empty or names no
// known backend, a warning is logged and backend.Primary is used instead.
func New(defaultKey string, logger log.FieldLogger) *Active {
	def := backend.Primary

	if strings.TrimSpace(defaultKey) == "" {
		logger.Warnf("Default backend not set. Falling back to default lookup key %s.", def)
	} else if id, err := backend.ParseID(defaultKey); err != nil {
		logger.WithError(err).Warnf("Configured default backend %q is invalid. Falling back to default lookup key %s.", defaultKey, def)
	} else {
		def = id
	}

	a := &Active{current: def, fallback: def, changed: make(chan struct{})}
	logger.WithField("backend", a.LookupKey()).Info("Active backend initialised")
	return a
}

// Get returns the active backend.
func (a *Active) Get() backend.ID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// Watch returns the active backend together with a channel that is closed
// the next time the active backend changes.
func (a *Active) Watch() (backend.ID, <-chan struct{}) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current, a.changed
}

// LookupKey returns the lowercase identifier of the active backend.
func (a *Active) LookupKey() string {
	return strings.ToLower(a.Get().String())
}

// Set makes id the active backend. Once Set returns, every Get observes id
// until the next Set.
func (a *Active) Set(id backend.ID) error {
	if !id.Valid() {
		return errors.Wrapf(backend.ErrUnknownBackend, "cannot activate %q", id)
	}

	a.mu.Lock()
	a.set(id)
	a.mu.Unlock()
	return nil
}

func (a *Active) set(id backend.ID) {
	if id == a.current {
		return
	}
	a.current = id
	close(a.changed)
	a.changed = make(chan struct{})
}

// Default returns the backend chosen at initialisation.
func (a *Active) Default() backend.ID {
	return a.fallback
}

// Reset restores the default backend. Recovery and tests only; the
// migration protocol never calls it.
func (a *Active) Reset() {
	a.mu.Lock()
	a.set(a.fallback)
	a.mu.Unlock()
}
