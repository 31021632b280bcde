// Package engine defines the boundary between the session layer and the
// SSH protocol engine that actually speaks the wire protocol.
//
// Engine primitives never block the caller. A primitive that cannot
// complete yet returns a [Result] in the would-block state together with
// the direction the engine is waiting on; the blocking adapter in
// internal/retry is the only code that consumes that state.
package engine

import (
	"net"
)

// Direction tells the readiness waiter what the engine is waiting for.
type Direction uint8

const (
	// DirNone means the engine did not say; the adapter then asks
	// Session.BlockDirections.
	DirNone Direction = 0
	// Inbound means the engine needs the descriptor to become readable.
	Inbound Direction = 1 << 0
	// Outbound means the engine needs the descriptor to become writable.
	Outbound Direction = 1 << 1
	// Both waits for either condition.
	Both = Inbound | Outbound
)

func (d Direction) String() string {
	switch d {
	case DirNone:
		return "none"
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	case Both:
		return "both"
	}
	return "invalid"
}

// StreamID identifies a data stream within a channel.
type StreamID int

const (
	// Primary is the standard output stream.
	Primary StreamID = 0
	// Extended is the extended-data stream (standard error).
	Extended StreamID = 1
)

func (s StreamID) String() string {
	switch s {
	case Primary:
		return "primary"
	case Extended:
		return "extended"
	}
	return "stream"
}

// Result is the outcome of a non-blocking engine primitive: either a
// ready value or a would-block indication carrying a direction.
type Result[T any] struct {
	value   T
	blocked bool
	dir     Direction
}

// Status is the result of a primitive that produces no value.
type Status = Result[struct{}]

// Ready wraps a completed value.
func Ready[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Done is the completed Status.
func Done() Status {
	return Status{}
}

// WouldBlock reports that the primitive must be retried once the
// engine's descriptor is ready in direction d.
func WouldBlock[T any](d Direction) Result[T] {
	return Result[T]{blocked: true, dir: d}
}

// Pending reports whether the result is a would-block, and in which
// direction.
func (r Result[T]) Pending() (Direction, bool) {
	return r.dir, r.blocked
}

// Value returns the ready value. It is the zero value for a pending
// result.
func (r Result[T]) Value() T {
	return r.value
}

// Pollable is a descriptor the readiness waiter can block on.
type Pollable interface {
	Fd() uintptr
}

// Session is one engine session handle. Implementations are not safe
// for concurrent use; the session layer serialises every call.
type Session interface {
	// SetBlocking switches the handle between blocking and non-blocking
	// mode. The session layer always runs it non-blocking.
	SetBlocking(blocking bool)

	// Handshake starts (or continues) the protocol handshake on conn.
	Handshake(conn net.Conn) (Status, error)

	// Authenticated queries the engine's authentication state.
	Authenticated() bool

	// AuthPassword attempts password authentication.
	AuthPassword(user, password string) (Status, error)

	// AuthPublicKey attempts public-key authentication from key files.
	// passphrase is "" for unencrypted keys, never absent.
	AuthPublicKey(user, publicKeyPath, privateKeyPath, passphrase string) (Status, error)

	// OpenChannel allocates a channel handle. The handle is cheap; the
	// channel-open exchange completes as part of the first exec.
	OpenChannel() (Channel, error)

	// BlockDirections reports which direction the last would-block was
	// waiting on.
	BlockDirections() Direction

	// Pollable exposes the descriptor to wait on.
	Pollable() Pollable

	// Free releases the handle and every resource behind it.
	Free() error
}

// Channel is one engine channel handle.
type Channel interface {
	// Exec requests execution of command on the channel.
	Exec(command string) (Status, error)

	// Read returns up to max bytes from stream. A ready, zero-length
	// result means no more data on that stream for now.
	Read(stream StreamID, max int) (Result[[]byte], error)

	// EOF reports whether the remote end sent EOF and every buffered
	// byte was read.
	EOF() bool

	// Close sends the channel CLOSE message.
	Close() (Status, error)

	// WaitClosed completes once the remote end closed the channel.
	WaitClosed() (Status, error)

	// ExitStatus returns the exit status reported by the remote
	// command, 0 when none was received.
	ExitStatus() int

	// Free releases the channel handle.
	Free() error
}
