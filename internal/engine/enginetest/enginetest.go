// Package enginetest provides a scripted, deterministic engine and a
// counting readiness waiter for unit tests of the session layer.
//
// Every state-changing primitive consumes the next Outcome queued for
// it; with nothing queued the primitive completes at once.  All calls
// are recorded in order so tests can assert what the session layer did
// (and did not) ask the engine to do.
package enginetest

import (
	"net"
	"time"

	"sshexec/internal/engine"
	"sshexec/internal/errors"
)

// Outcome scripts one engine call: Blocks would-blocks first, then Err
// (nil for success).
type Outcome struct {
	Blocks int
	// Dir is reported with every would-block.  DirNone makes the
	// adapter ask BlockDirections instead.
	Dir engine.Direction
	// ViaError signals the would-blocks as an ErrorEagain engine error
	// instead of a would-block result.
	ViaError bool
	Err      error
}

// Block is shorthand for an Outcome that would-blocks n times inbound
// before succeeding.
func Block(n int) Outcome {
	return Outcome{Blocks: n, Dir: engine.Inbound}
}

// Fail is shorthand for an Outcome that fails at once with err.
func Fail(err error) Outcome {
	return Outcome{Err: err}
}

// script is a per-operation queue of outcomes with a cursor into the
// would-blocks of the current head.
type script struct {
	queue   map[string][]Outcome
	pending map[string]int
}

func newScript() script {
	return script{queue: map[string][]Outcome{}, pending: map[string]int{}}
}

func (s *script) push(op string, o ...Outcome) {
	s.queue[op] = append(s.queue[op], o...)
}

// step advances op's script by one call.
func (s *script) step(op string) (engine.Status, error) {
	q := s.queue[op]
	if len(q) == 0 {
		return engine.Done(), nil
	}
	head := q[0]
	if s.pending[op] < head.Blocks {
		s.pending[op]++
		if head.ViaError {
			return engine.Status{}, errors.Engine(op, errors.ErrorEagain, "")
		}
		return engine.WouldBlock[struct{}](head.Dir), nil
	}
	s.pending[op] = 0
	s.queue[op] = q[1:]
	if head.Err != nil {
		return engine.Status{}, head.Err
	}
	return engine.Done(), nil
}

// ── Session ──────────────────────────────────────────────────────────

// Session is a scripted engine.Session.
type Session struct {
	// Calls lists every primitive invoked, in order.
	Calls []string
	// BlockDir is returned from BlockDirections.
	BlockDir engine.Direction
	// Blocking records the last SetBlocking argument.
	Blocking bool
	// Channels holds every channel handed out, in order.
	Channels []*Channel
	// NextChannels, when non-empty, supplies the handles OpenChannel
	// returns before it starts making fresh ones.
	NextChannels []*Channel
	// OpenErr, when set, fails the next OpenChannel.
	OpenErr error
	Freed   bool

	authenticated bool
	script        script
}

// NewSession returns an empty scripted session.
func NewSession() *Session {
	return &Session{BlockDir: engine.Inbound, script: newScript()}
}

// Script queues outcomes for op.  Ops are "handshake", "auth-password"
// and "auth-publickey".
func (s *Session) Script(op string, o ...Outcome) *Session {
	s.script.push(op, o...)
	return s
}

// SetAuthenticated forces the authentication state.
func (s *Session) SetAuthenticated(v bool) { s.authenticated = v }

func (s *Session) record(op string) { s.Calls = append(s.Calls, op) }

// Called reports how many times op was invoked.
func (s *Session) Called(op string) int {
	n := 0
	for _, c := range s.Calls {
		if c == op {
			n++
		}
	}
	return n
}

func (s *Session) SetBlocking(blocking bool) {
	s.record("set-blocking")
	s.Blocking = blocking
}

func (s *Session) Handshake(net.Conn) (engine.Status, error) {
	s.record("handshake")
	return s.script.step("handshake")
}

func (s *Session) Authenticated() bool {
	return s.authenticated
}

func (s *Session) AuthPassword(user, password string) (engine.Status, error) {
	s.record("auth-password")
	return s.auth("auth-password")
}

func (s *Session) AuthPublicKey(user, pub, priv, passphrase string) (engine.Status, error) {
	s.record("auth-publickey")
	return s.auth("auth-publickey")
}

func (s *Session) auth(op string) (engine.Status, error) {
	st, err := s.script.step(op)
	if err == nil {
		if _, pending := st.Pending(); !pending {
			s.authenticated = true
		}
	}
	return st, err
}

func (s *Session) OpenChannel() (engine.Channel, error) {
	s.record("open-channel")
	if err := s.OpenErr; err != nil {
		s.OpenErr = nil
		return nil, err
	}
	var ch *Channel
	if len(s.NextChannels) > 0 {
		ch, s.NextChannels = s.NextChannels[0], s.NextChannels[1:]
	} else {
		ch = NewChannel()
	}
	s.Channels = append(s.Channels, ch)
	return ch, nil
}

func (s *Session) BlockDirections() engine.Direction {
	s.record("block-directions")
	return s.BlockDir
}

func (s *Session) Pollable() engine.Pollable { return nopPollable{} }

func (s *Session) Free() error {
	s.record("free")
	s.Freed = true
	return nil
}

// ── Channel ──────────────────────────────────────────────────────────

// Read is one scripted read on a stream: data, a would-block, or an
// error.
type Read struct {
	Data  []byte
	Block bool
	Err   error
}

// Channel is a scripted engine.Channel.
type Channel struct {
	Calls []string
	// Exit is returned from ExitStatus once the channel is remotely
	// closed.
	Exit  int
	Freed bool

	reads  map[engine.StreamID][]Read
	eof    bool
	closed bool
	script script
}

// NewChannel returns a channel with nothing to read and no EOF.
func NewChannel() *Channel {
	return &Channel{reads: map[engine.StreamID][]Read{}, script: newScript()}
}

// Script queues outcomes for op.  Ops are "exec", "close" and
// "wait-closed".
func (c *Channel) Script(op string, o ...Outcome) *Channel {
	c.script.push(op, o...)
	return c
}

// Feed queues data chunks on stream.
func (c *Channel) Feed(stream engine.StreamID, chunks ...string) *Channel {
	for _, s := range chunks {
		c.reads[stream] = append(c.reads[stream], Read{Data: []byte(s)})
	}
	return c
}

// FeedBlock queues a would-block on stream.
func (c *Channel) FeedBlock(stream engine.StreamID) *Channel {
	c.reads[stream] = append(c.reads[stream], Read{Block: true})
	return c
}

// FeedErr queues a read failure on stream.
func (c *Channel) FeedErr(stream engine.StreamID, err error) *Channel {
	c.reads[stream] = append(c.reads[stream], Read{Err: err})
	return c
}

// SetEOF marks the remote end as finished sending.  EOF reports true
// once every queued read was consumed.
func (c *Channel) SetEOF() *Channel {
	c.eof = true
	return c
}

func (c *Channel) record(op string) { c.Calls = append(c.Calls, op) }

// Called reports how many times op was invoked.
func (c *Channel) Called(op string) int {
	n := 0
	for _, s := range c.Calls {
		if s == op {
			n++
		}
	}
	return n
}

func (c *Channel) Exec(command string) (engine.Status, error) {
	c.record("exec")
	return c.script.step("exec")
}

func (c *Channel) Read(stream engine.StreamID, max int) (engine.Result[[]byte], error) {
	c.record("read-" + stream.String())
	q := c.reads[stream]
	if len(q) == 0 {
		return engine.Ready([]byte(nil)), nil
	}
	head := q[0]
	switch {
	case head.Block:
		c.reads[stream] = q[1:]
		return engine.WouldBlock[[]byte](engine.Inbound), nil
	case head.Err != nil:
		c.reads[stream] = q[1:]
		return engine.Result[[]byte]{}, head.Err
	}
	if len(head.Data) > max {
		c.reads[stream][0].Data = head.Data[max:]
		return engine.Ready(head.Data[:max]), nil
	}
	c.reads[stream] = q[1:]
	return engine.Ready(head.Data), nil
}

func (c *Channel) EOF() bool {
	if !c.eof {
		return false
	}
	for _, q := range c.reads {
		if len(q) > 0 {
			return false
		}
	}
	return true
}

func (c *Channel) Close() (engine.Status, error) {
	c.record("close")
	return c.script.step("close")
}

func (c *Channel) WaitClosed() (engine.Status, error) {
	c.record("wait-closed")
	st, err := c.script.step("wait-closed")
	if err == nil {
		if _, pending := st.Pending(); !pending {
			c.closed = true
		}
	}
	return st, err
}

func (c *Channel) ExitStatus() int {
	c.record("exit-status")
	if !c.closed {
		return 0
	}
	return c.Exit
}

func (c *Channel) Free() error {
	c.record("free")
	c.Freed = true
	return nil
}

// ── Waiter ───────────────────────────────────────────────────────────

// Waiter is a readiness waiter that returns at once and counts calls.
type Waiter struct {
	Dirs []engine.Direction
	// OnWait, when set, runs inside every wait; tests use it to make
	// progress appear while the caller is parked.
	OnWait func(n int)
	Err    error
}

func (w *Waiter) Wait(_ engine.Pollable, dir engine.Direction, _ time.Duration) error {
	w.Dirs = append(w.Dirs, dir)
	if w.OnWait != nil {
		w.OnWait(len(w.Dirs))
	}
	return w.Err
}

// Count returns the number of waits so far.
func (w *Waiter) Count() int { return len(w.Dirs) }

type nopPollable struct{}

func (nopPollable) Fd() uintptr { return ^uintptr(0) }
