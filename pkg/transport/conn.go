package transport

import (
	"errors"
	"io"
	"net"
	"time"
)

// ConnTransport adapts a net.Conn to the Transport interface. Timeouts are
// implemented with read deadlines; a zero timeout clears the deadline and
// blocks indefinitely, which is the production configuration.
type ConnTransport struct {
	conn net.Conn
}

// NewConn wraps an established connection.
func NewConn(conn net.Conn) *ConnTransport {
	return &ConnTransport{conn: conn}
}

// Send writes all of p to the peer.
func (t *ConnTransport) Send(p []byte) (int, error) {
	n, err := t.conn.Write(p)
	if err != nil {
		return n, mapLinkError(err)
	}
	return n, nil
}

// Receive reads exactly len(p) bytes unless the link errors or the deadline
// expires first.
func (t *ConnTransport) Receive(p []byte, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	n, err := io.ReadFull(t.conn, p)
	if err != nil {
		return n, mapLinkError(err)
	}
	return n, nil
}

// RemoteAddr describes the peer for logging.
func (t *ConnTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// Close tears down the link.
func (t *ConnTransport) Close() error {
	return t.conn.Close()
}

// mapLinkError collapses the ways a TCP link reports "peer gone" into
// ErrClosed so the session loop has one condition to terminate on. Timeouts
// and other transient errors pass through unchanged.
func mapLinkError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	if errors.Is(err, io.ErrClosedPipe) {
		return ErrClosed
	}
	return err
}

// IsTimeout reports whether err is a transient deadline expiry rather than a
// dead link.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
