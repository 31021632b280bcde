// Package transport opens the byte stream a session runs over.  A
// dialer only establishes the connection; the SSH protocol on top of it
// belongs to the engine.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound connections.  Implementations are a plain TCP
// dialer and a jump dialer that reaches the target through an SSH
// gateway.
type Dialer interface {
	// Dial establishes a connection to address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer (the
	// gateway connection).  Stateless dialers return nil.
	Close() error
}
