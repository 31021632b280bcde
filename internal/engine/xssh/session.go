// Package xssh is a non-blocking engine built on golang.org/x/crypto/ssh.
//
// x/crypto only offers blocking calls, so every protocol step runs in a
// helper goroutine and the engine primitives merely start it and then
// report would-block until it has posted a result.  Progress is
// signalled through a self-pipe whose read end is the engine's pollable
// descriptor, which lets the readiness waiter block on a real fd.
//
// Two limitations follow from x/crypto's API: the user name is bound by
// the first authentication attempt, and once the server stops offering
// a method family (or the caller has moved on from it) it cannot be
// tried again on the same session.
package xssh

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	"sshexec/internal/engine"
	sxerr "sshexec/internal/errors"
	"sshexec/internal/sshauth"
	"sshexec/util"
)

// DefaultQueueDepth is the number of read chunks buffered per stream.
const DefaultQueueDepth = 64

// maxBannerPeek bounds how much pre-banner text the handshake accepts.
const maxBannerPeek = 8192

// Options configures a Session.
type Options struct {
	// Addr is the "host:port" the connection was made to; it is what
	// known_hosts entries are matched against.  Defaults to the
	// connection's remote address.
	Addr string

	StrictHostKey bool
	KnownHosts    string

	// ClientVersion overrides the identification string sent to the
	// server.
	ClientVersion string

	// QueueDepth bounds the chunks buffered per stream before the
	// reader goroutines back off.
	QueueDepth int

	Logger *util.Logger
}

// Session is an engine.Session over x/crypto/ssh.  Like every engine
// handle it must be driven from one goroutine at a time.
type Session struct {
	opts     Options
	notify   *notifier
	log      *util.Logger
	blocking bool

	conn   net.Conn
	br     *bufio.Reader
	banner *call[string]

	user string
	flow *authFlow
	cur  *attempt

	mu       sync.Mutex
	channels []*Channel
	freed    bool
}

var _ engine.Session = (*Session)(nil)

// New creates a session handle.  Nothing touches the network until
// Handshake.
func New(opts Options) (*Session, error) {
	n, err := newNotifier()
	if err != nil {
		return nil, sxerr.Engine("session-init", sxerr.ErrorSocketNone, "self-pipe: %v", err)
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	return &Session{opts: opts, notify: n, log: opts.Logger}, nil
}

// SetBlocking switches between blocking and non-blocking mode.  In
// blocking mode every primitive waits for its helper goroutine instead
// of reporting would-block.
func (s *Session) SetBlocking(blocking bool) { s.blocking = blocking }

func (s *Session) BlockDirections() engine.Direction { return engine.Inbound }

func (s *Session) Pollable() engine.Pollable { return s.notify }

// settle runs one primitive step, repeating it while blocking mode is
// on and the step would block.
func settle[T any](s *Session, step func() (engine.Result[T], error)) (engine.Result[T], error) {
	for {
		s.notify.drain()
		r, err := step()
		if _, pending := r.Pending(); !pending || err != nil || !s.blocking {
			return r, err
		}
		s.notify.block()
	}
}

// ── Handshake ────────────────────────────────────────────────────────

// Handshake waits for the server identification line.  The key
// exchange itself runs as part of the first authentication attempt.
func (s *Session) Handshake(conn net.Conn) (engine.Status, error) {
	if s.freed {
		return engine.Status{}, sxerr.ErrClosed
	}
	return settle(s, func() (engine.Status, error) {
		if s.banner == nil {
			s.conn = conn
			if s.opts.Addr == "" {
				s.opts.Addr = conn.RemoteAddr().String()
			}
			s.br = bufio.NewReaderSize(conn, maxBannerPeek)
			br := s.br
			s.banner = async(s.notify, func() (string, error) { return peekBanner(br) })
		}

		line, err, ok := s.banner.result()
		if !ok {
			return engine.WouldBlock[struct{}](engine.Inbound), nil
		}
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return engine.Status{}, sxerr.Engine("handshake", sxerr.ErrorBannerRecv, "connection closed before identification")
			}
			if err == bufio.ErrBufferFull {
				return engine.Status{}, sxerr.Engine("handshake", sxerr.ErrorBannerRecv, "no identification line")
			}
			return engine.Status{}, sxerr.Engine("handshake", sxerr.ErrorSocketRecv, "%v", err)
		}
		if !strings.HasPrefix(line, "SSH-2.0-") && !strings.HasPrefix(line, "SSH-1.99-") {
			return engine.Status{}, sxerr.Engine("handshake", sxerr.ErrorBannerRecv, "unsupported protocol version %q", line)
		}
		s.log.Debug("server identification %q", line)
		return engine.Done(), nil
	})
}

// peekBanner looks for the "SSH-" line without consuming anything, so
// x/crypto later reads the identification exchange itself.  It scans
// everything buffered and reads further only when no line matched.
func peekBanner(br *bufio.Reader) (string, error) {
	if _, err := br.Peek(1); err != nil {
		return "", err
	}
	for {
		buf, _ := br.Peek(br.Buffered())
		if line, ok := bannerLine(buf); ok {
			return line, nil
		}
		// One byte past what is buffered forces a read, or fails with
		// bufio.ErrBufferFull once the buffer holds no banner.
		if _, err := br.Peek(len(buf) + 1); err != nil {
			return "", err
		}
	}
}

func bannerLine(buf []byte) (string, bool) {
	for start := 0; ; {
		i := bytes.IndexByte(buf[start:], '\n')
		if i < 0 {
			return "", false
		}
		line := strings.TrimRight(string(buf[start:start+i]), "\r")
		if strings.HasPrefix(line, "SSH-") {
			return line, true
		}
		start += i + 1
	}
}

// bufferedConn replays what the handshake peeked before reading from
// the socket.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// ── Authentication ───────────────────────────────────────────────────

// Authenticated reports whether the server accepted an attempt.
func (s *Session) Authenticated() bool {
	return s.client() != nil
}

func (s *Session) client() *ssh.Client {
	if s.flow == nil {
		return nil
	}
	s.flow.mu.Lock()
	defer s.flow.mu.Unlock()
	return s.flow.client
}

func (s *Session) AuthPassword(user, password string) (engine.Status, error) {
	return s.authenticate(user, func() (*attempt, error) {
		return &attempt{method: methodPassword, password: password}, nil
	})
}

// AuthPublicKey authenticates with a key pair read from disk.  An empty
// publicKeyPath skips the check that the public half matches.
func (s *Session) AuthPublicKey(user, publicKeyPath, privateKeyPath, passphrase string) (engine.Status, error) {
	return s.authenticate(user, func() (*attempt, error) {
		signer, err := sshauth.LoadSigner(privateKeyPath, passphrase)
		if err != nil {
			return nil, sxerr.Engine("userauth-publickey", sxerr.ErrorFile, "%v", err)
		}
		if publicKeyPath != "" {
			if err := sshauth.CheckPublicKey(publicKeyPath, signer); err != nil {
				return nil, sxerr.Engine("userauth-publickey", sxerr.ErrorFile, "%v", err)
			}
		}
		return &attempt{method: methodPublicKey, signer: signer}, nil
	})
}

// authenticate starts an attempt built by mk, or reports on the one
// already outstanding.  Retrying with the same arguments after a
// would-block continues the outstanding attempt.
func (s *Session) authenticate(user string, mk func() (*attempt, error)) (engine.Status, error) {
	if s.freed {
		return engine.Status{}, sxerr.ErrClosed
	}
	return settle(s, func() (engine.Status, error) {
		if s.cur != nil {
			settled, err := s.flow.poll(s.cur)
			if !settled {
				return engine.WouldBlock[struct{}](engine.Inbound), nil
			}
			s.cur = nil
			if err != nil {
				return engine.Status{}, err
			}
			return engine.Done(), nil
		}

		if s.Authenticated() {
			return engine.Done(), nil
		}
		if s.banner == nil {
			return engine.Status{}, sxerr.Engine("userauth", sxerr.ErrorBadUse, "handshake not started")
		}
		if s.user != "" && user != s.user {
			return engine.Status{}, sxerr.Engine("userauth", sxerr.ErrorInval,
				"user %q differs from %q bound by the first attempt", user, s.user)
		}

		a, err := mk()
		if err != nil {
			return engine.Status{}, err
		}
		if s.flow == nil {
			s.startHandshake(user, a.method)
		}
		s.flow.post(a)
		if settled, err := s.flow.poll(a); settled {
			// The handshake already ended; nothing will signal.
			if err != nil {
				return engine.Status{}, err
			}
			return engine.Done(), nil
		}
		s.cur = a
		return engine.WouldBlock[struct{}](engine.Inbound), nil
	})
}

// startHandshake runs ssh.NewClientConn in a goroutine.  The auth
// callbacks block on the flow until the caller posts attempts.
func (s *Session) startHandshake(user, first string) {
	s.user = user
	s.flow = newAuthFlow(s.notify)
	flow := s.flow

	cfg := &ssh.ClientConfig{
		User:          user,
		Auth:          flow.methods(first),
		ClientVersion: s.opts.ClientVersion,
	}
	hk, hkErr := sshauth.HostKeyCallback(s.opts.StrictHostKey, s.opts.KnownHosts)
	if hk != nil {
		cfg.HostKeyCallback = func(host string, remote net.Addr, key ssh.PublicKey) error {
			err := hk(host, remote, key)
			if err == nil {
				flow.keyed()
			}
			return err
		}
	}

	conn := bufferedConn{Conn: s.conn, r: s.br}
	addr := s.opts.Addr
	log := s.log

	go func() {
		if hkErr != nil {
			flow.finish(nil, fmt.Errorf("knownhosts: %w", hkErr))
			return
		}
		log.Debug("key exchange with %s as %s", addr, user)
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		if err != nil {
			log.Debug("handshake ended: %v", err)
			flow.finish(nil, err)
			return
		}
		flow.finish(ssh.NewClient(c, chans, reqs), nil)
	}()
}

// ── Channels ─────────────────────────────────────────────────────────

// OpenChannel returns a channel handle.  The session channel itself is
// opened by the first Exec.
func (s *Session) OpenChannel() (engine.Channel, error) {
	if s.freed {
		return nil, sxerr.ErrClosed
	}
	client := s.client()
	if client == nil {
		return nil, sxerr.Engine("channel-open", sxerr.ErrorBadUse, "session is not authenticated")
	}
	ch := newChannel(s, client)
	s.mu.Lock()
	s.channels = append(s.channels, ch)
	s.mu.Unlock()
	return ch, nil
}

// Free closes the SSH connection, stops every helper goroutine and
// releases the self-pipe.
func (s *Session) Free() error {
	if s.freed {
		return nil
	}
	s.freed = true

	s.mu.Lock()
	channels := s.channels
	s.channels = nil
	s.mu.Unlock()
	for _, ch := range channels {
		ch.Free() //nolint:errcheck
	}

	var err error
	if s.flow != nil {
		s.flow.abort()
		if c := s.client(); c != nil {
			if cerr := c.Close(); cerr != nil && !isClosedErr(cerr) {
				err = cerr
			}
		}
	}
	if s.conn != nil {
		// Unblocks a handshake goroutine still reading.
		s.conn.Close() //nolint:errcheck
	}
	if nerr := s.notify.close(); err == nil {
		err = nerr
	}
	return err
}

func isClosedErr(err error) bool {
	return err == io.EOF || sxerr.Is(err, net.ErrClosed)
}
