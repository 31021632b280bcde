package session

import (
	"fmt"

	"sshexec/internal/engine"
	"sshexec/internal/errors"
	"sshexec/internal/retry"
	"sshexec/util"
)

// Stream selects a callback slot on a Channel.
type Stream = engine.StreamID

const (
	// Primary is the command's standard output.
	Primary = engine.Primary
	// Extended is the command's standard error.
	Extended = engine.Extended
	// ExitStatus is the slot notified once the channel is fully closed.
	ExitStatus Stream = -1
)

// State is a channel's position in its lifecycle.
type State uint8

const (
	Open State = iota
	Executing
	Draining
	LocallyClosed
	RemoteClosed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Executing:
		return "executing"
	case Draining:
		return "draining"
	case LocallyClosed:
		return "locally-closed"
	case RemoteClosed:
		return "remote-closed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Event is what a callback receives.  Data is set for Primary and
// Extended, ExitStatus for the ExitStatus slot.
type Event struct {
	Stream     Stream
	Data       []byte
	ExitStatus int
}

// Callback handles one Event.  Data is only valid for the duration of
// the call.
type Callback func(Event)

const (
	slotPrimary = iota
	slotExtended
	slotExit
	numSlots
)

func slotOf(s Stream) (int, bool) {
	switch s {
	case Primary:
		return slotPrimary, true
	case Extended:
		return slotExtended, true
	case ExitStatus:
		return slotExit, true
	}
	return 0, false
}

// Channel is one command execution multiplexed over a Session.
type Channel struct {
	s   *Session
	h   engine.Channel
	id  uint32
	log *util.Logger

	state     State
	closed    bool
	freed     bool
	callbacks [numSlots]Callback

	exitStatus int
	hasExit    bool
}

func newChannel(s *Session, h engine.Channel, id uint32) *Channel {
	return &Channel{
		s:   s,
		h:   h,
		id:  id,
		log: s.log.With("channel", id),
	}
}

// ID is the channel's creation sequence number within its session,
// starting at 1.
func (c *Channel) ID() uint32 { return c.id }

// State returns the current lifecycle state.
func (c *Channel) State() State { return c.state }

// Closed reports whether the local CLOSE was sent.
func (c *Channel) Closed() bool { return c.closed }

// ExitStatus returns the status captured by the last completed Wait.
func (c *Channel) ExitStatus() (int, bool) { return c.exitStatus, c.hasExit }

// ── Callbacks ────────────────────────────────────────────────────────

// On registers fn for stream, replacing any earlier registration.  A
// nil fn clears the slot.  Unknown streams are ignored.
func (c *Channel) On(stream Stream, fn Callback) {
	if i, ok := slotOf(stream); ok {
		c.callbacks[i] = fn
	}
}

// OnData registers the standard output callback.
func (c *Channel) OnData(fn func([]byte)) {
	c.On(Primary, dataCallback(fn))
}

// OnExtendedData registers the standard error callback.
func (c *Channel) OnExtendedData(fn func([]byte)) {
	c.On(Extended, dataCallback(fn))
}

// OnExitStatus registers the exit status callback.
func (c *Channel) OnExitStatus(fn func(int)) {
	if fn == nil {
		c.On(ExitStatus, nil)
		return
	}
	c.On(ExitStatus, func(e Event) { fn(e.ExitStatus) })
}

func dataCallback(fn func([]byte)) Callback {
	if fn == nil {
		return nil
	}
	return func(e Event) { fn(e.Data) }
}

// ── State machine ────────────────────────────────────────────────────

// Execute runs command on the channel.
func (c *Channel) Execute(command string) error {
	if c.closed {
		return errors.ErrClosed
	}
	err := retry.Do(c.s.adapter, func() (engine.Status, error) {
		return c.h.Exec(command)
	})
	if err != nil {
		c.s.metrics.RecordError(err.Error())
		return err
	}
	c.log.Verbose("exec %q", command)
	if c.state == Open {
		c.state = Executing
	}
	return nil
}

// AttemptRead delivers whatever data is available now, Primary first,
// then Extended.  It never waits for data.  It returns false once the
// engine reports end of stream and every byte was delivered.
func (c *Channel) AttemptRead() (bool, error) {
	_, more, err := c.attemptRead()
	return more, err
}

// attemptRead is AttemptRead that also reports how many bytes were
// delivered, so callers can tell an idle pass from a productive one.
func (c *Channel) attemptRead() (int, bool, error) {
	if c.h.EOF() {
		return 0, false, nil
	}
	total := 0
	for _, stream := range [...]Stream{Primary, Extended} {
		for {
			r, err := c.h.Read(stream, c.s.readChunk)
			if err != nil {
				if errors.IsWouldBlock(err) {
					break
				}
				c.s.metrics.RecordError(err.Error())
				return total, false, err
			}
			if _, pending := r.Pending(); pending {
				break
			}
			data := r.Value()
			if len(data) == 0 {
				break
			}
			total += len(data)
			c.deliver(stream, data)
		}
	}
	// The streams may have ended while they were read.
	if total == 0 && c.h.EOF() {
		return 0, false, nil
	}
	return total, true, nil
}

func (c *Channel) deliver(stream Stream, data []byte) {
	if c.state == Executing {
		c.state = Draining
	}
	c.s.metrics.BytesReceived(stream, int64(len(data)))

	i, _ := slotOf(stream)
	fn := c.callbacks[i]
	if fn == nil {
		c.log.Debug("dropped %d bytes on %s", len(data), stream)
		return
	}
	fn(Event{Stream: stream, Data: data})
}

// Close sends the channel CLOSE.  A second call fails with
// errors.ErrDoubleClose whatever state the channel is in.
func (c *Channel) Close() error {
	if c.closed {
		return errors.ErrDoubleClose
	}
	if err := retry.Do(c.s.adapter, c.h.Close); err != nil {
		c.s.metrics.RecordError(err.Error())
		return err
	}
	c.closed = true
	if c.state < LocallyClosed {
		c.state = LocallyClosed
	}
	c.s.metrics.ChannelClosed()
	c.log.Debug("close sent")
	return nil
}

// Wait drains the channel, closes it if needed and blocks until the
// remote end closed too.  It then captures the exit status and hands
// it to the ExitStatus callback, once per completed Wait.
func (c *Channel) Wait() error {
	if c.state != Open {
		if err := c.drain(); err != nil {
			return err
		}
	}
	if !c.closed {
		if err := c.Close(); err != nil {
			return err
		}
	}
	if err := retry.Do(c.s.adapter, c.h.WaitClosed); err != nil {
		c.s.metrics.RecordError(err.Error())
		return err
	}

	c.exitStatus, c.hasExit = c.h.ExitStatus(), true
	c.state = RemoteClosed
	c.log.Verbose("exit status %d", c.exitStatus)

	if fn := c.callbacks[slotExit]; fn != nil {
		fn(Event{Stream: ExitStatus, ExitStatus: c.exitStatus})
	}
	return nil
}

// drain reads until end of stream, parking between idle passes.
func (c *Channel) drain() error {
	for {
		n, more, err := c.attemptRead()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		if n == 0 {
			if err := c.s.adapter.Park(); err != nil {
				return err
			}
		}
	}
}

func (c *Channel) free() error {
	if c.freed {
		return nil
	}
	c.freed = true
	if !c.closed {
		c.s.metrics.ChannelClosed()
	}
	return c.h.Free()
}
