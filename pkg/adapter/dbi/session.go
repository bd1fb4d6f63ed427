// Package dbi implements the DBI command session: the dispatch state machine
// that reads command frames from the transport, routes them to handlers, and
// streams file ranges back to the peer.
package dbi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nxtools/dbibridge/internal/bytesize"
	"github.com/nxtools/dbibridge/internal/logger"
	protocol "github.com/nxtools/dbibridge/internal/protocol/dbi"
	"github.com/nxtools/dbibridge/pkg/metrics"
	"github.com/nxtools/dbibridge/pkg/titles"
	"github.com/nxtools/dbibridge/pkg/transport"
)

// DefaultChunkSize is the transfer buffer size for range streaming.
const DefaultChunkSize = 1 << 20 // 1 MiB

// SessionConfig carries the per-session settings.
type SessionConfig struct {
	// TitlesRoot is the directory rescanned on every LIST command.
	TitlesRoot string

	// Extensions and MaxEntries bound the title scan; zero values use the
	// titles package defaults.
	Extensions []string
	MaxEntries int

	// ChunkSize is the range-streaming buffer size. Zero means
	// DefaultChunkSize.
	ChunkSize int

	// ReceiveTimeout bounds every blocking receive. Zero blocks indefinitely,
	// which is the production configuration; tests set a short timeout so a
	// silent peer cannot hang them.
	ReceiveTimeout time.Duration
}

// Session serves the command loop for one connected peer.
//
// The session is strictly sequential: one frame, one command, one handler at
// a time. The title cache is owned by the session and only ever touched from
// this loop, so it needs no locking.
type Session struct {
	transport transport.Transport
	config    SessionConfig
	cache     *titles.Cache
	metrics   metrics.SessionMetrics
}

// NewSession creates a session over an established transport. metrics may be
// nil to disable collection.
func NewSession(t transport.Transport, cfg SessionConfig, m metrics.SessionMetrics) *Session {
	return &Session{
		transport: t,
		config:    cfg,
		cache:     &titles.Cache{},
		metrics:   m,
	}
}

// Serve runs the command loop until the peer sends EXIT, violates the
// protocol with an unknown command id, or the link goes away.
//
// A header that decodes with a mismatched magic is dropped without a reply
// and the loop keeps reading 16-byte headers. If the peer still had payload
// bytes in flight the stream may never realign; that is the designed
// trade-off (the peer is expected to reconnect), not a recovery path.
func (s *Session) Serve(ctx context.Context) error {
	logger.Info("Entering command loop", "peer", s.transport.RemoteAddr())

	var hdr [protocol.HeaderSize]byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := s.transport.Receive(hdr[:], s.config.ReceiveTimeout)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				logger.Info("Peer disconnected", "peer", s.transport.RemoteAddr())
				return nil
			}
			if transport.IsTimeout(err) {
				continue
			}
			logger.Debug("Error reading command header", "error", err)
			continue
		}
		if n < protocol.HeaderSize {
			// No frame was actually produced; keep listening.
			s.recordFrame("short")
			continue
		}

		h, err := protocol.DecodeHeader(hdr[:])
		if err != nil {
			// Silent discard: no response, no termination. See the method doc
			// for the desynchronization caveat.
			s.recordFrame("bad_magic")
			logger.Debug("Discarding frame with bad magic", "peer", s.transport.RemoteAddr())
			continue
		}
		s.recordFrame("ok")

		logger.Debug("Command frame",
			"kind", h.Kind.String(),
			"command", h.Command.String(),
			"payload_size", bytesize.ByteSize(h.PayloadSize))
		s.recordCommand(h.Command.String())

		switch h.Command {
		case protocol.CmdExit:
			s.handleExit()
			return nil
		case protocol.CmdList:
			s.handleList()
		case protocol.CmdFileRange:
			s.handleFileRange(h.PayloadSize)
		default:
			// Unknown ids (including the deprecated list command) are a
			// protocol violation severe enough to end the session.
			logger.Warn("Unknown command id, terminating session", "command_id", uint32(h.Command))
			s.handleExit()
			return nil
		}
	}
}

// handleExit acknowledges session termination with an empty EXIT response.
func (s *Session) handleExit() {
	logger.Info("Exit")
	if _, err := s.transport.Send(protocol.EncodeHeader(protocol.KindResponse, protocol.CmdExit, 0)); err != nil {
		logger.Error("Failed to send exit response", "error", err)
	}
}

// handleList rebuilds the title cache and sends the inventory: a response
// frame announcing the payload length, then (after the peer's ack) one line
// per display name. Failures abort the command, never the session.
func (s *Session) handleList() {
	logger.Info("Get list", "root", s.config.TitlesRoot)

	s.cache = titles.Scan(s.config.TitlesRoot, titles.ScanOptions{
		Extensions: s.config.Extensions,
		MaxEntries: s.config.MaxEntries,
	})

	var b strings.Builder
	for _, name := range s.cache.Names() {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	payload := []byte(b.String())

	if _, err := s.transport.Send(protocol.EncodeHeader(protocol.KindResponse, protocol.CmdList, uint32(len(payload)))); err != nil {
		logger.Error("Failed to send list response", "error", err)
		return
	}
	if !s.receiveAck() {
		return
	}
	if _, err := s.transport.Send(payload); err != nil {
		logger.Error("Failed to send title list", "error", err)
		return
	}

	logger.Debug("Title list sent",
		"titles", s.cache.Len(),
		"bytes", bytesize.ByteSize(len(payload)))
}

// receiveAck reads the peer's 16-byte ack frame. Its contents are logged at
// debug level and not otherwise validated.
func (s *Session) receiveAck() bool {
	var buf [protocol.HeaderSize]byte
	if _, err := s.transport.Receive(buf[:], s.config.ReceiveTimeout); err != nil {
		logger.Error("Failed to receive ack frame", "error", err)
		return false
	}
	if h, err := protocol.DecodeHeader(buf[:]); err == nil {
		logger.Debug("Ack",
			"kind", h.Kind.String(),
			"command", h.Command.String(),
			"payload_size", h.PayloadSize)
	} else {
		logger.Debug("Ack frame not decodable", "error", err)
	}
	return true
}

func (s *Session) recordFrame(result string) {
	if s.metrics != nil {
		s.metrics.RecordFrame(result)
	}
}

func (s *Session) recordCommand(command string) {
	if s.metrics != nil {
		s.metrics.RecordCommand(command)
	}
}
