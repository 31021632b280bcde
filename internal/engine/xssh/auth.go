package xssh

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	sxerr "sshexec/internal/errors"
	"sshexec/internal/sshauth"
)

const (
	methodPassword  = "password"
	methodPublicKey = "publickey"
)

var (
	errSwitchMethod = errors.New("caller switched authentication method")
	errAborted      = errors.New("session freed during authentication")
)

// attempt is one caller-driven authentication attempt.  The facade
// posts it and polls settled; the auth callbacks hand it to x/crypto
// and settle it once the server answered.
type attempt struct {
	method   string
	password string
	signer   ssh.Signer

	settled bool
	err     error
}

// authFlow bridges x/crypto's callback-driven authentication onto the
// engine's attempt-at-a-time primitives.  x/crypto re-invokes a
// retryable callback only after the server rejected the previous try,
// so a re-invocation settles the in-flight attempt as rejected.
type authFlow struct {
	mu       sync.Mutex
	pending  *attempt
	inflight *attempt
	posted   chan struct{}
	closing  chan struct{}
	notify   *notifier

	finished bool
	hostKey  bool // server host key accepted
	client   *ssh.Client
	err      error
}

func newAuthFlow(n *notifier) *authFlow {
	return &authFlow{
		posted:  make(chan struct{}, 1),
		closing: make(chan struct{}),
		notify:  n,
	}
}

// methods returns the x/crypto auth methods, the family of the first
// attempt first so that it is the one x/crypto tries first.
func (f *authFlow) methods(first string) []ssh.AuthMethod {
	pw := ssh.RetryableAuthMethod(ssh.PasswordCallback(f.password), 0)
	pk := ssh.RetryableAuthMethod(ssh.PublicKeysCallback(f.signers), 0)
	if first == methodPublicKey {
		return []ssh.AuthMethod{pk, pw}
	}
	return []ssh.AuthMethod{pw, pk}
}

// post queues a for the callbacks.
func (f *authFlow) post(a *attempt) {
	f.mu.Lock()
	if f.finished {
		a.settled, a.err = true, f.terminal(a)
		f.mu.Unlock()
		return
	}
	f.pending = a
	f.mu.Unlock()
	select {
	case f.posted <- struct{}{}:
	default:
	}
}

// poll reports whether a has been settled, and how.
func (f *authFlow) poll(a *attempt) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return a.settled, a.err
}

func (f *authFlow) password() (string, error) {
	a, err := f.take(methodPassword)
	if err != nil {
		return "", err
	}
	return a.password, nil
}

func (f *authFlow) signers() ([]ssh.Signer, error) {
	a, err := f.take(methodPublicKey)
	if err != nil {
		return nil, err
	}
	return []ssh.Signer{a.signer}, nil
}

// take blocks until the caller posts an attempt for method.  An
// attempt for the other method makes x/crypto move on to it.
func (f *authFlow) take(method string) (*attempt, error) {
	f.mu.Lock()
	if a := f.inflight; a != nil {
		f.inflight = nil
		f.settleLocked(a, rejection(a))
	}
	f.mu.Unlock()

	for {
		f.mu.Lock()
		if a := f.pending; a != nil {
			if a.method != method {
				f.mu.Unlock()
				return nil, errSwitchMethod
			}
			f.pending = nil
			f.inflight = a
			f.mu.Unlock()
			return a, nil
		}
		f.mu.Unlock()

		select {
		case <-f.posted:
		case <-f.closing:
			return nil, errAborted
		}
	}
}

// keyed records that the server's host key passed the check, which
// ends the key exchange as far as error reporting goes.
func (f *authFlow) keyed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hostKey = true
}

// finish records the outcome of the x/crypto handshake and settles
// whatever attempts are still open.
func (f *authFlow) finish(client *ssh.Client, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished, f.client, f.err = true, client, err

	if a := f.inflight; a != nil {
		f.inflight = nil
		if err == nil {
			f.settleLocked(a, nil)
		} else {
			f.settleLocked(a, f.terminal(a))
		}
	}
	if a := f.pending; a != nil {
		f.pending = nil
		f.settleLocked(a, f.terminal(a))
	}
}

// terminal is the error for an attempt made after (or cut short by)
// the end of the handshake.  Callers hold f.mu.
func (f *authFlow) terminal(a *attempt) error {
	op := "userauth-" + a.method
	switch {
	case f.err == nil:
		return nil
	case sshauth.IsHostKeyError(f.err), strings.Contains(f.err.Error(), "knownhosts:"):
		return sxerr.Engine(op, sxerr.ErrorKnownHosts, "%v", f.err)
	case causedBy(f.err, errAborted):
		return sxerr.Engine(op, sxerr.ErrorSocketDisconnect, "session freed")
	case !f.hostKey:
		return sxerr.Engine(op, sxerr.ErrorKexFailure, "%v", f.err)
	case causedBy(f.err, errSwitchMethod):
		return sxerr.Engine(op, sxerr.ErrorMethodNone, "%s authentication is not available", a.method)
	case strings.Contains(f.err.Error(), "unable to authenticate"):
		return rejection(a)
	case errors.Is(f.err, io.EOF), errors.Is(f.err, net.ErrClosed):
		return sxerr.Engine(op, sxerr.ErrorSocketDisconnect, "%v", f.err)
	}
	var opErr *net.OpError
	if errors.As(f.err, &opErr) {
		return sxerr.Engine(op, sxerr.ErrorSocketDisconnect, "%v", f.err)
	}
	return sxerr.Engine(op, sxerr.ErrorKexFailure, "%v", f.err)
}

// causedBy matches target through wrapping, or by message where an
// x/crypto version flattens the chain.
func causedBy(err, target error) bool {
	return errors.Is(err, target) || strings.Contains(err.Error(), target.Error())
}

func (f *authFlow) settleLocked(a *attempt, err error) {
	if a.settled {
		return
	}
	a.settled, a.err = true, err
	f.notify.signal()
}

// abort unblocks any waiting callback.
func (f *authFlow) abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.closing:
	default:
		close(f.closing)
	}
}

func rejection(a *attempt) error {
	if a.method == methodPublicKey {
		return sxerr.Engine("userauth-publickey", sxerr.ErrorPublickeyUnverified, "public key rejected by server")
	}
	return sxerr.Engine("userauth-password", sxerr.ErrorAuthenticationFailed, "password rejected by server")
}
