package dbi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nxtools/dbibridge/internal/logger"
	"github.com/nxtools/dbibridge/pkg/metrics"
	"github.com/nxtools/dbibridge/pkg/transport"
)

// DefaultRetryDelay is the pause between failed accept attempts.
const DefaultRetryDelay = time.Second

// AdapterConfig carries the listener settings plus the per-session config.
type AdapterConfig struct {
	// Listen is the TCP address the adapter waits for the device on.
	Listen string

	// RetryDelay is the fixed pause after a failed accept before trying
	// again. Zero means DefaultRetryDelay.
	RetryDelay time.Duration

	Session SessionConfig
}

// Adapter owns the transport listener and serves one peer session at a time.
//
// The protocol is single-session by design: a new connection is only accepted
// after the previous session has terminated, mirroring the original backend's
// connect / serve / reconnect cycle.
type Adapter struct {
	config  AdapterConfig
	metrics metrics.SessionMetrics

	listenerMu   sync.Mutex
	listener     net.Listener
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewAdapter creates the adapter. metrics may be nil to disable collection.
func NewAdapter(cfg AdapterConfig, m metrics.SessionMetrics) *Adapter {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Adapter{
		config:   cfg,
		metrics:  m,
		shutdown: make(chan struct{}),
	}
}

// Serve listens for the device and runs sessions until the context is
// cancelled. It blocks; call it once per Adapter.
func (a *Adapter) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.config.Listen, err)
	}

	a.listenerMu.Lock()
	a.listener = listener
	a.listenerMu.Unlock()

	logger.Info("Waiting for device", "listen", a.config.Listen)

	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received", "error", ctx.Err())
		a.initiateShutdown()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-a.shutdown:
				// Expected: the listener was closed during shutdown.
				return nil
			default:
			}
			logger.Debug("Accept failed, retrying", "error", err, "delay", a.config.RetryDelay)
			time.Sleep(a.config.RetryDelay)
			continue
		}

		logger.Info("Device connected", "address", conn.RemoteAddr())
		a.serveConn(ctx, conn)
		logger.Info("Session ended, waiting for device", "listen", a.config.Listen)

		select {
		case <-a.shutdown:
			return nil
		default:
		}
	}
}

// serveConn runs one session over conn, synchronously. The connection is
// closed when the session ends or when shutdown is initiated mid-session.
func (a *Adapter) serveConn(ctx context.Context, conn net.Conn) {
	t := transport.NewConn(conn)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = t.Close()
		case <-a.shutdown:
			_ = t.Close()
		case <-done:
		}
	}()
	defer t.Close()

	if a.metrics != nil {
		a.metrics.RecordSessionStarted()
	}

	sess := NewSession(t, a.config.Session, a.metrics)
	if err := sess.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Session error", "address", conn.RemoteAddr(), "error", err)
	}

	if a.metrics != nil {
		a.metrics.RecordSessionEnded()
	}
}

// Addr returns the address the adapter is listening on, or nil before Serve
// has bound the listener. Useful when listening on an ephemeral port.
func (a *Adapter) Addr() net.Addr {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// initiateShutdown closes the listener exactly once, unblocking Accept.
func (a *Adapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdown)
		a.listenerMu.Lock()
		if a.listener != nil {
			_ = a.listener.Close()
		}
		a.listenerMu.Unlock()
	})
}
