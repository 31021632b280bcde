package xssh

import (
	"io"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"golang.org/x/crypto/ssh"

	"sshexec/internal/engine"
	sxerr "sshexec/internal/errors"
	"sshexec/util"
)

// chunk is one read handed from a reader goroutine to the facade.
type chunk struct {
	buf *[]byte
	n   int
}

// opened is what the channel-open goroutine posts.
type opened struct {
	ch   ssh.Channel
	reqs <-chan *ssh.Request
}

// Channel is an engine.Channel over an x/crypto session channel.
type Channel struct {
	s      *Session
	client *ssh.Client

	open  *call[opened]
	exec  *call[bool]
	close *call[struct{}]
	ch    ssh.Channel

	queues  [2]lfq.SPSC[chunk]
	partial [2][]byte
	queued  [2]atomic.Int64
	pumping [2]atomic.Bool
	stopped atomic.Bool

	remoteClosed atomic.Bool
	exitMu       sync.Mutex
	exitStatus   int
	freed        bool
}

var _ engine.Channel = (*Channel)(nil)

func newChannel(s *Session, client *ssh.Client) *Channel {
	c := &Channel{s: s, client: client}
	for i := range c.queues {
		c.queues[i].Init(s.opts.QueueDepth)
	}
	return c
}

type execMsg struct {
	Command string
}

type exitStatusMsg struct {
	Status uint32
}

// Exec opens the session channel if needed and sends the exec request.
func (c *Channel) Exec(command string) (engine.Status, error) {
	if c.freed {
		return engine.Status{}, sxerr.ErrClosed
	}
	return settle(c.s, func() (engine.Status, error) {
		if c.ch == nil {
			if c.open == nil {
				client := c.client
				c.open = async(c.s.notify, func() (opened, error) {
					ch, reqs, err := client.OpenChannel("session", nil)
					return opened{ch, reqs}, err
				})
			}
			o, err, ok := c.open.result()
			if !ok {
				return engine.WouldBlock[struct{}](engine.Inbound), nil
			}
			if err != nil {
				c.open = nil
				return engine.Status{}, sxerr.Engine("channel-open", sxerr.ErrorChannelFailure, "%v", err)
			}
			c.ch = o.ch
			c.start(o.reqs)
		}

		if c.exec == nil {
			ch := c.ch
			payload := ssh.Marshal(execMsg{Command: command})
			c.exec = async(c.s.notify, func() (bool, error) {
				return ch.SendRequest("exec", true, payload)
			})
		}
		ok, err, done := c.exec.result()
		if !done {
			return engine.WouldBlock[struct{}](engine.Inbound), nil
		}
		c.exec = nil
		if err != nil {
			return engine.Status{}, sxerr.Engine("channel-exec", sxerr.ErrorChannelClosed, "%v", err)
		}
		if !ok {
			return engine.Status{}, sxerr.Engine("channel-exec", sxerr.ErrorChannelRequestDenied, "exec %q refused", command)
		}
		c.s.log.Debug("exec %q accepted", command)
		return engine.Done(), nil
	})
}

// start launches the reader pumps and the request watcher.
func (c *Channel) start(reqs <-chan *ssh.Request) {
	c.pumping[engine.Primary].Store(true)
	c.pumping[engine.Extended].Store(true)
	go c.pump(engine.Primary, c.ch)
	go c.pump(engine.Extended, c.ch.Stderr())
	go c.watch(reqs)
}

// pump moves data from r into the stream's queue until EOF.
func (c *Channel) pump(stream engine.StreamID, r io.Reader) {
	defer func() {
		c.pumping[stream].Store(false)
		c.s.notify.signal()
	}()

	var bo iox.Backoff
	q := &c.queues[stream]
	for {
		buf := util.GetBuf()
		n, err := r.Read(*buf)
		if n > 0 {
			ck := chunk{buf: buf, n: n}
			for q.Enqueue(&ck) != nil {
				if c.stopped.Load() {
					util.PutBuf(buf)
					return
				}
				bo.Wait()
			}
			bo.Reset()
			c.queued[stream].Add(1)
			c.s.notify.signal()
		} else {
			util.PutBuf(buf)
		}
		if err != nil {
			if err != io.EOF {
				c.s.log.Debug("%s reader stopped: %v", stream, err)
			}
			return
		}
	}
}

// watch consumes channel requests, recording exit-status.  The request
// stream ends when the remote side closes the channel.
func (c *Channel) watch(reqs <-chan *ssh.Request) {
	for req := range reqs {
		if req.Type == "exit-status" {
			var msg exitStatusMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil {
				c.exitMu.Lock()
				c.exitStatus = int(msg.Status)
				c.exitMu.Unlock()
			}
		}
		if req.WantReply {
			req.Reply(false, nil) //nolint:errcheck
		}
	}
	c.remoteClosed.Store(true)
	c.s.notify.signal()
}

// Read returns buffered data for stream.  A ready empty result means
// nothing is buffered and the stream is finished, or nothing was
// executed yet.
func (c *Channel) Read(stream engine.StreamID, max int) (engine.Result[[]byte], error) {
	if c.freed {
		return engine.Result[[]byte]{}, sxerr.ErrClosed
	}
	if stream != engine.Primary && stream != engine.Extended {
		return engine.Result[[]byte]{}, sxerr.Engine("channel-read", sxerr.ErrorInval, "unknown stream %d", stream)
	}
	if max <= 0 {
		return engine.Result[[]byte]{}, sxerr.Engine("channel-read", sxerr.ErrorBufferTooSmall, "")
	}
	return settle(c.s, func() (engine.Result[[]byte], error) {
		if c.ch == nil {
			return engine.Ready([]byte(nil)), nil
		}
		if p := c.partial[stream]; len(p) > 0 {
			return engine.Ready(c.takePartial(stream, p, max)), nil
		}

		// Check the pump before the queue: a pump that finished after
		// an empty dequeue has already enqueued its last chunk.
		live := c.pumping[stream].Load()
		ck, err := c.queues[stream].Dequeue()
		if err != nil {
			if live {
				return engine.WouldBlock[[]byte](engine.Inbound), nil
			}
			return engine.Ready([]byte(nil)), nil
		}

		c.queued[stream].Add(-1)
		data := make([]byte, ck.n)
		copy(data, (*ck.buf)[:ck.n])
		util.PutBuf(ck.buf)
		return engine.Ready(c.takePartial(stream, data, max)), nil
	})
}

func (c *Channel) takePartial(stream engine.StreamID, p []byte, max int) []byte {
	if len(p) <= max {
		c.partial[stream] = nil
		return p
	}
	c.partial[stream] = p[max:]
	return p[:max]
}

// EOF reports whether both streams ended and every byte was read.  It
// drains the notifier like any other call, so a pump finishing after
// this check leaves the pipe readable.
func (c *Channel) EOF() bool {
	c.s.notify.drain()
	if c.ch == nil {
		return c.remoteClosed.Load()
	}
	for i := range c.queues {
		// pumping is cleared after the last enqueue, so a stopped pump
		// means queued is final.
		if c.pumping[i].Load() || c.queued[i].Load() > 0 || len(c.partial[i]) > 0 {
			return false
		}
	}
	return true
}

// Close sends CLOSE.  Closing a channel that was never opened only
// marks it closed.
func (c *Channel) Close() (engine.Status, error) {
	if c.freed {
		return engine.Status{}, sxerr.ErrClosed
	}
	return settle(c.s, func() (engine.Status, error) {
		if c.ch == nil {
			if c.open != nil {
				// An open is in flight; let it land first.
				if _, _, ok := c.open.result(); !ok {
					return engine.WouldBlock[struct{}](engine.Inbound), nil
				}
				return engine.Status{}, sxerr.Engine("channel-close", sxerr.ErrorChannelUnknown, "channel was never executed")
			}
			c.remoteClosed.Store(true)
			return engine.Done(), nil
		}
		if c.close == nil {
			ch := c.ch
			c.close = async(c.s.notify, func() (struct{}, error) {
				return struct{}{}, ch.Close()
			})
		}
		_, err, ok := c.close.result()
		if !ok {
			return engine.WouldBlock[struct{}](engine.Inbound), nil
		}
		if err != nil && err != io.EOF {
			return engine.Status{}, sxerr.Engine("channel-close", sxerr.ErrorChannelClosed, "%v", err)
		}
		return engine.Done(), nil
	})
}

// WaitClosed completes once the remote side closed the channel.
func (c *Channel) WaitClosed() (engine.Status, error) {
	if c.freed {
		return engine.Status{}, sxerr.ErrClosed
	}
	return settle(c.s, func() (engine.Status, error) {
		if !c.remoteClosed.Load() {
			return engine.WouldBlock[struct{}](engine.Inbound), nil
		}
		return engine.Done(), nil
	})
}

// ExitStatus is the status from the exit-status request, 0 when none
// arrived.
func (c *Channel) ExitStatus() int {
	c.exitMu.Lock()
	defer c.exitMu.Unlock()
	return c.exitStatus
}

// Free closes the channel if still open and releases buffered chunks.
// The reader goroutines exit once the connection delivers EOF.
func (c *Channel) Free() error {
	if c.freed {
		return nil
	}
	c.freed = true
	c.stopped.Store(true)
	if c.ch != nil {
		c.ch.Close() //nolint:errcheck
	}
	for i := range c.queues {
		for {
			ck, err := c.queues[i].Dequeue()
			if err != nil {
				break
			}
			c.queued[i].Add(-1)
			util.PutBuf(ck.buf)
		}
		c.partial[i] = nil
	}
	return nil
}
