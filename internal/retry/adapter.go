// Package retry provides the blocking adapter: the readiness-driven
// loop that turns non-blocking engine primitives into calls that block
// until they complete or fail.
//
// It is the only code that observes the would-block signal.  Any other
// failure is returned to the caller on the first attempt; there is no
// retry policy above would-block.
package retry

import (
	"fmt"
	"time"

	"sshexec/internal/engine"
	"sshexec/internal/errors"
	"sshexec/internal/metrics"
	"sshexec/internal/poll"
	"sshexec/util"
)

// Blocker is the part of an engine session the adapter needs between
// attempts.
type Blocker interface {
	// BlockDirections reports what the last would-block was waiting on.
	BlockDirections() engine.Direction
	// Pollable is the descriptor to wait on.
	Pollable() engine.Pollable
}

// Adapter carries everything one session's blocking calls share.
// Only one adapter call may be in flight per session.
type Adapter struct {
	Engine  Blocker
	Waiter  poll.Waiter
	Timeout time.Duration // per-wait bound; 0 means poll.DefaultTimeout
	Metrics *metrics.Collector
	Logger  *util.Logger
}

// New returns an Adapter for e waiting through w.
func New(e Blocker, w poll.Waiter, timeout time.Duration, m *metrics.Collector, log *util.Logger) *Adapter {
	return &Adapter{Engine: e, Waiter: w, Timeout: timeout, Metrics: m, Logger: log}
}

// Run calls op until it produces a ready value or a real error.
//
// A would-block result (or an error for which errors.IsWouldBlock
// holds) causes exactly one readiness wait before op is called again
// from scratch.  When op does not say which direction it is waiting on
// the engine's BlockDirections is consulted.
func Run[T any](a *Adapter, op func() (engine.Result[T], error)) (T, error) {
	var zero T
	for {
		r, err := op()
		if err != nil {
			if !errors.IsWouldBlock(err) {
				return zero, err
			}
			r = engine.WouldBlock[T](engine.DirNone)
		}

		dir, pending := r.Pending()
		if !pending {
			return r.Value(), nil
		}
		if err := a.wait(dir); err != nil {
			return zero, err
		}
	}
}

// Do is Run for primitives that produce no value.
func Do(a *Adapter, op func() (engine.Status, error)) error {
	_, err := Run(a, op)
	return err
}

// Park waits once for the engine to make progress.  The event loop uses
// it when a full pass over its channels found nothing to do.
func (a *Adapter) Park() error {
	return a.wait(engine.DirNone)
}

func (a *Adapter) wait(dir engine.Direction) error {
	if dir == engine.DirNone {
		dir = a.Engine.BlockDirections()
	}
	a.Metrics.WouldBlock()
	a.Logger.Debug("would block, waiting %s", dir)

	if err := a.Waiter.Wait(a.Engine.Pollable(), dir, a.Timeout); err != nil {
		a.Metrics.RecordError(err.Error())
		return fmt.Errorf("readiness wait: %w", err)
	}
	return nil
}
