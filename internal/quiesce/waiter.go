// Package quiesce waits for a pool's checked-out connections to reach zero.
package quiesce

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dreamware/poolswitch/internal/pool"
)

const (
	// DefaultInterval is the polling cadence used when none is configured.
	DefaultInterval = 100 * time.Millisecond
	minInterval     = time.Millisecond
)

// Waiter polls a pool's active connection count until it drains.
//
// The wait runs on the caller's goroutine with a ticker; there is no
// background task to leak. Every return path stops the ticker.
type Waiter struct {
	logger   log.FieldLogger
	interval time.Duration
}

// New creates a waiter that checks every interval. A zero interval selects
// DefaultInterval; anything below a millisecond is raised to one so the loop
// always yields.
func New(interval time.Duration, logger log.FieldLogger) *Waiter {
	if interval == 0 {
		interval = DefaultInterval
	}
	if interval < minInterval {
		interval = minInterval
	}
	return &Waiter{interval: interval, logger: logger}
}

// Interval returns the polling cadence.
func (w *Waiter) Interval() time.Duration {
	return w.interval
}

// AwaitDrain blocks until p reports no active connections, timeout elapses,
// or ctx ends. It returns true only in the first case. The count is checked
// once before the first tick, so an idle pool returns immediately.
//
// AwaitDrain only observes p; it never changes its state.
//
// Example:
//
//	if !waiter.AwaitDrain(ctx, source, "Pool-Primary", 5*time.Minute) {
//	    // roll back
//	}
func (w *Waiter) AwaitDrain(ctx context.Context, p pool.Drainable, name string, timeout time.Duration) bool {
	logger := w.logger.WithFields(log.Fields{
		"pool":    name,
		"timeout": timeout,
	})

	if p.ActiveCount() == 0 {
		logger.Info("No active connections on pool")
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logger.WithField("active", p.ActiveCount()).Info("Waiting for active connections to be released")

	for {
		select {
		case <-ticker.C:
			if p.ActiveCount() == 0 {
				logger.Info("Released all active connections on pool")
				return true
			}
		case <-ctx.Done():
			logger.WithError(ctx.Err()).
				WithField("active", p.ActiveCount()).
				Warn("Active connections did not drain")
			return false
		}
	}
}
