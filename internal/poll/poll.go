// Package poll implements the readiness waiter: the single place where a
// session is allowed to suspend while an engine primitive would block.
package poll

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"sshexec/internal/engine"
	"sshexec/internal/metrics"
	"sshexec/util"
)

// DefaultTimeout bounds a single readiness wait.
const DefaultTimeout = 10 * time.Second

// Waiter blocks until a pollable descriptor is ready in the requested
// direction or the timeout elapses.  It does not report which of the
// two happened; callers simply retry the operation.
type Waiter interface {
	Wait(p engine.Pollable, dir engine.Direction, timeout time.Duration) error
}

// FDWaiter waits on the descriptor with poll(2).
type FDWaiter struct {
	Metrics *metrics.Collector
	Logger  *util.Logger
}

// NewFDWaiter returns an FDWaiter reporting into m.  Both arguments may
// be nil.
func NewFDWaiter(m *metrics.Collector, log *util.Logger) *FDWaiter {
	return &FDWaiter{Metrics: m, Logger: log}
}

// Wait polls p for dir.  A zero timeout means DefaultTimeout.  A
// timeout is not an error.  EINTR restarts the poll with the time that
// is left.
func (w *FDWaiter) Wait(p engine.Pollable, dir engine.Direction, timeout time.Duration) error {
	if p == nil {
		return fmt.Errorf("poll: nil pollable")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	fds := []unix.PollFd{{Fd: int32(p.Fd()), Events: pollEvents(dir)}}
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		n, err := unix.Poll(fds, int(remaining.Milliseconds()))
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return fmt.Errorf("poll fd %d: %w", p.Fd(), err)
		case n == 0:
			w.Metrics.ReadinessTimeout()
			w.Logger.Debug("readiness wait timed out after %s (%s)", timeout, dir)
			return nil
		}
		if fds[0].Revents&unix.POLLNVAL != 0 {
			return fmt.Errorf("poll fd %d: %w", p.Fd(), unix.EBADF)
		}
		return nil
	}
}

// pollEvents maps a direction onto poll(2) event bits.  An unspecified
// direction waits for both.
func pollEvents(dir engine.Direction) int16 {
	var ev int16
	if dir&engine.Inbound != 0 {
		ev |= unix.POLLIN
	}
	if dir&engine.Outbound != 0 {
		ev |= unix.POLLOUT
	}
	if ev == 0 {
		ev = unix.POLLIN | unix.POLLOUT
	}
	return ev
}

// ── Pollable helpers ─────────────────────────────────────────────────

// FD adapts a raw descriptor to engine.Pollable.
type FD uintptr

// Fd returns the descriptor.
func (f FD) Fd() uintptr { return uintptr(f) }
