// Package errors provides the error taxonomy shared by the engine, the
// blocking adapter and the session layer.
//
// These types carry structured context (operation, address, engine code)
// that lets callers tell a rejected password from a locked account or an
// unsupported method, instead of collapsing every failure into a boolean.
package errors

import (
	"errors"
	"fmt"
	"net"

	"code.hybscloud.com/iox"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrAuthenticationRequired is returned when a channel is requested
	// before the session has authenticated.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrDoubleClose is returned by a second Close on the same channel.
	// Only one CLOSE may be sent over a channel.
	ErrDoubleClose = errors.New("channel already closed")

	// ErrClosed is returned by operations on a session or channel whose
	// handles were already freed.
	ErrClosed = errors.New("use of freed handle")

	// ErrWouldBlock is the transient "retry once the socket is ready"
	// signal. Only the blocking adapter may observe it.
	ErrWouldBlock = iox.ErrWouldBlock
)

// ── Structured error types ───────────────────────────────────────────

// ConnectionError represents a failure to establish the transport socket.
type ConnectionError struct {
	Addr      string // host:port that was dialed
	Err       error  // underlying error
	Temporary bool   // the network layer flagged the failure as transient
}

func (e *ConnectionError) Error() string {
	s := fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
	if e.Temporary {
		s += " (temporary)"
	}
	return s
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// HandshakeError represents a protocol handshake that failed for a
// non-retryable reason.
type HandshakeError struct {
	Host string
	Port int
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("ssh handshake %s:%d: %v", e.Host, e.Port, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// AuthenticationError reports that the remote side rejected the offered
// credentials or method. Code carries the engine's specific reason.
type AuthenticationError struct {
	User   string
	Method string // "password" or "publickey"
	Code   Code
	Err    error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("ssh auth %s as %q: %s: %v", e.Method, e.User, e.Code, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// EngineError is any other failure reported by the protocol engine.
type EngineError struct {
	Op   string // engine primitive, e.g. "channel-exec"
	Code Code
	Msg  string
}

func (e *EngineError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s (%d)", e.Op, e.Code, int(e.Code))
	}
	return fmt.Sprintf("%s: %s (%d): %s", e.Op, e.Code, int(e.Code), e.Msg)
}

// Is lets errors.Is match an EngineError against ErrWouldBlock when the
// engine signalled would-block through its code.
func (e *EngineError) Is(target error) bool {
	return target == ErrWouldBlock && e.Code == ErrorEagain
}

// ── Constructors ─────────────────────────────────────────────────────

// Connection creates a ConnectionError, detecting whether the network
// layer considers the failure temporary.
func Connection(addr string, err error) *ConnectionError {
	return &ConnectionError{Addr: addr, Err: err, Temporary: classifyTemporary(err)}
}

// Handshake creates a HandshakeError.
func Handshake(host string, port int, err error) *HandshakeError {
	return &HandshakeError{Host: host, Port: port, Err: err}
}

// Engine creates an EngineError.
func Engine(op string, code Code, format string, args ...interface{}) *EngineError {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &EngineError{Op: op, Code: code, Msg: msg}
}

// Authentication wraps an engine failure from an auth primitive. The
// code is lifted from err when it is an EngineError.
func Authentication(user, method string, err error) *AuthenticationError {
	return &AuthenticationError{User: user, Method: method, Code: CodeOf(err), Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// CodeOf returns the engine code carried by err, ErrorNone for nil and
// ErrorUnknown for errors that did not come from the engine.
func CodeOf(err error) Code {
	if err == nil {
		return ErrorNone
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ErrorUnknown
}

// IsWouldBlock reports whether err is the transient would-block signal,
// either as ErrWouldBlock itself or as an engine ErrorEagain code.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err) || errors.Is(err, ErrWouldBlock)
}

// classifyTemporary inspects standard library error types.
func classifyTemporary(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use sshexec/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
