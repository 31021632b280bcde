package xssh

import (
	"sync"

	"golang.org/x/sys/unix"
)

// notifier is a self-pipe.  Helper goroutines write a byte whenever
// they post progress; the read end is the engine's pollable descriptor.
//
// The pipe is drained by the first engine call after each wait, not by
// every call: a caller making several calls per pass must still find
// the pipe readable for progress that one call drained and a later
// call in the same pass did not look at.
type notifier struct {
	mu     sync.Mutex
	r, w   int
	closed bool
	polled bool
}

func newNotifier() (*notifier, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, err
		}
	}
	return &notifier{r: p[0], w: p[1], polled: true}, nil
}

// Fd implements engine.Pollable.  Handing out the descriptor marks the
// start of a wait.
func (n *notifier) Fd() uintptr {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.polled = true
	return uintptr(n.r)
}

// signal makes the read end readable.  A full pipe is already readable,
// so EAGAIN is ignored.
func (n *notifier) signal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	unix.Write(n.w, []byte{1}) //nolint:errcheck
}

// drain empties the pipe if a wait happened since the last drain.
func (n *notifier) drain() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || !n.polled {
		return
	}
	n.polled = false
	var buf [64]byte
	for {
		if m, err := unix.Read(n.r, buf[:]); m <= 0 || err != nil {
			return
		}
	}
}

// block parks until the pipe is readable.  Only used in blocking mode.
func (n *notifier) block() {
	n.mu.Lock()
	fd, closed := n.r, n.closed
	n.polled = true
	n.mu.Unlock()
	if closed {
		return
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		if _, err := unix.Poll(fds, -1); err != unix.EINTR {
			return
		}
	}
}

func (n *notifier) close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	err := unix.Close(n.r)
	if werr := unix.Close(n.w); err == nil {
		err = werr
	}
	return err
}

// ── async calls ──────────────────────────────────────────────────────

// call is one blocking x/crypto operation parked in a goroutine.
type call[T any] struct {
	mu   sync.Mutex
	done bool
	val  T
	err  error
}

// async runs fn in a goroutine and signals n when it returns.
func async[T any](n *notifier, fn func() (T, error)) *call[T] {
	c := &call[T]{}
	go func() {
		v, err := fn()
		c.mu.Lock()
		c.val, c.err, c.done = v, err, true
		c.mu.Unlock()
		n.signal()
	}()
	return c
}

// result reports the outcome once fn has returned.
func (c *call[T]) result() (v T, err error, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val, c.err, c.done
}
