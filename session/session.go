// Package session drives command execution over a single SSH connection.
//
// A Session owns the socket and one engine handle.  It authenticates,
// opens channels and runs the event loop that drains every live channel
// on the calling goroutine.  All engine calls go through the blocking
// adapter, so every method here either completes or fails; none of them
// ever reports "would block".
//
// A Session and its Channels are not safe for concurrent use.
package session

import (
	"context"
	"net"

	"code.hybscloud.com/atomix"

	"sshexec/internal/engine"
	"sshexec/internal/errors"
	"sshexec/internal/metrics"
	"sshexec/internal/retry"
	"sshexec/util"
)

// Session is one authenticated (or authenticating) SSH connection.
type Session struct {
	host string
	port int
	conn net.Conn
	eng  engine.Session

	adapter   *retry.Adapter
	readChunk int
	log       *util.Logger
	metrics   *metrics.Collector

	channels []*Channel // live, in creation order
	all      []*Channel // every channel ever opened, for Close
	nextID   atomix.Uint32
	closed   bool
}

// Connect dials host:port, creates an engine handle and completes the
// protocol handshake.  ctx bounds the dial only.
//
// A dial failure is a *errors.ConnectionError; a handshake failure is a
// *errors.HandshakeError.
func Connect(ctx context.Context, host string, port int, opts ...Option) (*Session, error) {
	o := buildOptions(opts)
	addr := util.FormatAddr(host, port)

	o.logger.Verbose("connecting to %s", addr)
	conn, err := o.dialer.Dial(ctx, "tcp", addr)
	if err != nil {
		o.metrics.RecordError(err.Error())
		return nil, errors.Connection(addr, err)
	}

	eng, err := o.newEngine(addr)
	if err != nil {
		conn.Close()
		return nil, errors.Handshake(host, port, err)
	}
	return start(host, port, conn, eng, o)
}

// New runs the handshake over a connection the caller already has.  The
// session takes ownership of conn (and of the engine, when one is
// supplied with WithEngine) even when the handshake fails.
func New(conn net.Conn, opts ...Option) (*Session, error) {
	o := buildOptions(opts)
	host, port, err := util.SplitAddr(conn.RemoteAddr().String())
	if err != nil {
		host, port = conn.RemoteAddr().String(), 0
	}
	eng, err := o.newEngine(conn.RemoteAddr().String())
	if err != nil {
		conn.Close()
		return nil, errors.Handshake(host, port, err)
	}
	return start(host, port, conn, eng, o)
}

func start(host string, port int, conn net.Conn, eng engine.Session, o *options) (*Session, error) {
	log := o.logger.With("host", util.FormatAddr(host, port))
	s := &Session{
		host:      host,
		port:      port,
		conn:      conn,
		eng:       eng,
		adapter:   retry.New(eng, o.waiter, o.waitTimeout, o.metrics, log),
		readChunk: o.readChunk,
		log:       log,
		metrics:   o.metrics,
	}

	eng.SetBlocking(false)
	err := retry.Do(s.adapter, func() (engine.Status, error) {
		return eng.Handshake(conn)
	})
	if err != nil {
		s.metrics.RecordError(err.Error())
		eng.Free() //nolint:errcheck
		conn.Close()
		return nil, errors.Handshake(host, port, err)
	}
	log.Verbose("handshake complete")
	return s, nil
}

// Host returns the host the session was connected to.
func (s *Session) Host() string { return s.host }

// Port returns the port the session was connected to.
func (s *Session) Port() int { return s.port }

// Metrics returns the session's collector, possibly nil.
func (s *Session) Metrics() *metrics.Collector { return s.metrics }

// Authenticated asks the engine; the answer is never cached.
func (s *Session) Authenticated() bool {
	return s.eng.Authenticated()
}

// ── Authentication ───────────────────────────────────────────────────

// AuthByPassword authenticates user with a password.  A rejection is an
// *errors.AuthenticationError carrying the engine's reason code.
func (s *Session) AuthByPassword(user, password string) error {
	err := retry.Do(s.adapter, func() (engine.Status, error) {
		return s.eng.AuthPassword(user, password)
	})
	return s.authResult(user, "password", err)
}

// AuthByKeypair authenticates user with a key pair read from disk.
// passphrase is "" for unencrypted keys.  An empty publicKeyPath lets
// the engine derive the public key from the private one.
func (s *Session) AuthByKeypair(user, publicKeyPath, privateKeyPath, passphrase string) error {
	err := retry.Do(s.adapter, func() (engine.Status, error) {
		return s.eng.AuthPublicKey(user, publicKeyPath, privateKeyPath, passphrase)
	})
	return s.authResult(user, "publickey", err)
}

func (s *Session) authResult(user, method string, err error) error {
	if err == nil {
		s.log.Verbose("authenticated as %s (%s)", user, method)
		return nil
	}
	s.metrics.RecordError(err.Error())
	if handshakeFailure(err) {
		s.log.Verbose("key exchange with %s failed: %v", util.FormatAddr(s.host, s.port), err)
		return errors.Handshake(s.host, s.port, err)
	}
	s.metrics.AuthFailure()
	s.log.Verbose("%s authentication as %s failed: %v", method, user, err)
	return errors.Authentication(user, method, err)
}

// handshakeFailure reports whether an auth primitive failed in the key
// exchange it runs first.  No other credentials can fix those.
func handshakeFailure(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrorKnownHosts, errors.ErrorKexFailure, errors.ErrorKeyExchangeFailure,
		errors.ErrorBannerRecv, errors.ErrorBannerSend, errors.ErrorHostkeyInit:
		return true
	}
	return false
}

// ── Channels ─────────────────────────────────────────────────────────

// OpenChannel allocates a channel.  It fails with
// errors.ErrAuthenticationRequired, without touching the connection,
// when the session is not authenticated.
func (s *Session) OpenChannel() (*Channel, error) {
	if s.closed {
		return nil, errors.ErrClosed
	}
	if !s.Authenticated() {
		return nil, errors.ErrAuthenticationRequired
	}
	h, err := s.eng.OpenChannel()
	if err != nil {
		s.metrics.RecordError(err.Error())
		return nil, err
	}

	id := s.nextID.Add(1)
	ch := newChannel(s, h, id)
	s.channels = append(s.channels, ch)
	s.all = append(s.all, ch)
	s.metrics.ChannelOpened()
	ch.log.Debug("channel opened")
	return ch, nil
}

// RunCommand opens a channel, lets setup attach callbacks, executes
// command and waits for it to finish.  The finished channel is returned
// so the caller can read its exit status.
func (s *Session) RunCommand(command string, setup func(*Channel)) (*Channel, error) {
	ch, err := s.OpenChannel()
	if err != nil {
		return nil, err
	}
	if setup != nil {
		setup(ch)
	}
	if err := ch.Execute(command); err != nil {
		return ch, err
	}
	if err := ch.Wait(); err != nil {
		return ch, err
	}
	return ch, nil
}

// Channels returns the live channels in creation order.
func (s *Session) Channels() []*Channel {
	return append([]*Channel(nil), s.channels...)
}

// prune drops channels whose local CLOSE was sent.
func (s *Session) prune() {
	live := s.channels[:0]
	for _, ch := range s.channels {
		if !ch.closed {
			live = append(live, ch)
		}
	}
	for i := len(live); i < len(s.channels); i++ {
		s.channels[i] = nil
	}
	s.channels = live
}

// Close frees every channel handle, the engine handle and then the
// socket.  It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, ch := range s.all {
		if err := ch.free(); err != nil {
			errs = append(errs, err)
		}
	}
	s.all, s.channels = nil, nil

	if err := s.eng.Free(); err != nil {
		errs = append(errs, err)
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	s.log.Verbose("session closed")
	return errors.Join(errs...)
}
