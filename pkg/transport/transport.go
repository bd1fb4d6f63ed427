// Package transport defines the point-to-point byte link the protocol engine
// runs over, and provides the TCP implementation used in production.
//
// The protocol is strictly one session with one peer: the server waits for a
// device to connect, serves it until the session ends, then goes back to
// waiting. The interface mirrors that of the original USB bulk link: blocking
// send, blocking sized receive, optional timeout.
package transport

import (
	"errors"
	"time"
)

// ErrClosed reports an operation on a transport whose link has gone away
// (peer disconnect or local close).
var ErrClosed = errors.New("transport: link closed")

// Transport is a connected byte link to exactly one peer.
type Transport interface {
	// Send writes all of p to the peer and returns the number of bytes
	// written.
	Send(p []byte) (int, error)

	// Receive fills p from the peer, blocking until len(p) bytes arrived,
	// the link errored, or the timeout expired. A timeout of zero blocks
	// indefinitely. It returns the number of bytes read, which is less than
	// len(p) only when err is non-nil.
	Receive(p []byte, timeout time.Duration) (int, error)

	// RemoteAddr describes the peer for logging.
	RemoteAddr() string

	// Close tears down the link. Blocked Send/Receive calls return ErrClosed.
	Close() error
}
