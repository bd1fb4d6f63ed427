package dbi

import (
	"fmt"
	"io"
	"os"

	"github.com/nxtools/dbibridge/internal/bytesize"
	"github.com/nxtools/dbibridge/internal/logger"
	protocol "github.com/nxtools/dbibridge/internal/protocol/dbi"
)

// MaxDescriptorSize caps the file-range descriptor read. Descriptors carry a
// fixed 16-byte prefix plus a file name, so anything near this limit is a
// corrupt or hostile length field, not a real request.
const MaxDescriptorSize = 64 << 10 // 64 KiB

// handleFileRange runs one FILE_RANGE exchange: ack the request, read and
// parse the descriptor, announce the range, then stream it in chunks.
//
// Every failure path logs and returns, aborting only this command; the
// session loop keeps listening afterwards.
func (s *Session) handleFileRange(descriptorLen uint32) {
	logger.Info("File range", "descriptor_len", descriptorLen)

	// Prime the peer to send the descriptor body.
	if _, err := s.transport.Send(protocol.EncodeHeader(protocol.KindAck, protocol.CmdFileRange, descriptorLen)); err != nil {
		logger.Error("Failed to ack file range request", "error", err)
		return
	}

	if descriptorLen > MaxDescriptorSize {
		logger.Error("File range descriptor too large",
			"size", bytesize.ByteSize(descriptorLen),
			"max", bytesize.ByteSize(MaxDescriptorSize))
		return
	}

	payload := make([]byte, descriptorLen)
	if _, err := s.transport.Receive(payload, s.config.ReceiveTimeout); err != nil {
		logger.Error("Failed to receive file range descriptor", "error", err)
		return
	}

	desc, err := protocol.ParseRangeDescriptor(payload)
	if err != nil {
		logger.Error("Invalid file range descriptor", "error", err)
		return
	}

	path := s.cache.Resolve(desc.Name)
	logger.Info("Range requested",
		"size", bytesize.ByteSize(desc.Size),
		"offset", desc.Offset,
		"name_len", desc.NameLen,
		"path", path)

	if _, err := s.transport.Send(protocol.EncodeHeader(protocol.KindResponse, protocol.CmdFileRange, desc.Size)); err != nil {
		logger.Error("Failed to send file range response", "error", err)
		return
	}
	if !s.receiveAck() {
		return
	}

	if err := s.streamRange(path, desc.Offset, desc.Size); err != nil {
		logger.Error("Range transfer aborted", "path", path, "error", err)
		if s.metrics != nil {
			s.metrics.RecordTransferAborted()
		}
	}
}

// streamRange sends exactly size bytes of the file starting at offset, in
// chunks of at most the configured chunk size. A read that comes up short --
// including a range that runs past the end of the file -- aborts the transfer
// rather than padding the stream with garbage. The file is closed on every
// exit path.
func (s *Session) streamRange(path string, offset uint64, size uint32) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		return fmt.Errorf("seek to %d: %w", offset, err)
	}

	chunkSize := s.config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)

	var sent uint64
	remaining := uint64(size)
	for remaining > 0 {
		n := uint64(chunkSize)
		if n > remaining {
			n = remaining
		}

		if _, err := io.ReadFull(f, buf[:n]); err != nil {
			return fmt.Errorf("read at offset %d: %w", offset+sent, err)
		}
		if _, err := s.transport.Send(buf[:n]); err != nil {
			return fmt.Errorf("send at offset %d: %w", offset+sent, err)
		}

		sent += n
		remaining -= n
		if s.metrics != nil {
			s.metrics.RecordStreamedBytes(n)
		}
	}

	logger.Debug("Range transfer complete", "path", path, "bytes", bytesize.ByteSize(sent))
	return nil
}
