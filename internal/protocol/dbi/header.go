// Package dbi implements the DBI command-frame wire protocol: the fixed
// 16-byte command header and the variable-length file-range descriptor that
// follows a FILE_RANGE request.
//
// All multi-byte integer fields on the wire are little-endian.
package dbi

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed size of every command frame on the wire.
const HeaderSize = 16

// Magic is the 4-byte protocol tag every valid frame starts with.
var Magic = [4]byte{'D', 'B', 'I', '0'}

// Kind identifies the role of a frame within a command exchange.
type Kind uint32

const (
	KindRequest  Kind = 0
	KindResponse Kind = 1
	KindAck      Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "REQUEST"
	case KindResponse:
		return "RESPONSE"
	case KindAck:
		return "ACK"
	default:
		return fmt.Sprintf("KIND(%d)", uint32(k))
	}
}

// Command identifies the operation a request frame asks for.
type Command uint32

const (
	CmdExit Command = 0
	// CmdListDeprecated is a legacy list command id. It is decoded like any
	// other id but no handler exists for it; the dispatcher treats it as
	// unknown.
	CmdListDeprecated Command = 1
	CmdFileRange      Command = 2
	CmdList           Command = 3
)

func (c Command) String() string {
	switch c {
	case CmdExit:
		return "EXIT"
	case CmdListDeprecated:
		return "LIST_DEPRECATED"
	case CmdFileRange:
		return "FILE_RANGE"
	case CmdList:
		return "LIST"
	default:
		return fmt.Sprintf("CMD(%d)", uint32(c))
	}
}

var (
	// ErrShortHeader reports a buffer too small to hold a command header.
	ErrShortHeader = errors.New("dbi: short command header")

	// ErrBadMagic reports a header whose magic does not match the protocol tag.
	ErrBadMagic = errors.New("dbi: bad magic")
)

// Header is a decoded 16-byte command frame.
//
// PayloadSize describes the data that follows the frame on the wire; its
// exact meaning depends on the command (descriptor length for FILE_RANGE
// requests, payload byte count for LIST and FILE_RANGE responses).
type Header struct {
	Kind        Kind
	Command     Command
	PayloadSize uint32
}

// DecodeHeader parses a command header from buf.
//
// It returns ErrShortHeader when buf holds fewer than HeaderSize bytes and
// ErrBadMagic when the protocol tag does not match; callers discard such
// frames without replying.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(buf))
	}
	if buf[0] != Magic[0] || buf[1] != Magic[1] || buf[2] != Magic[2] || buf[3] != Magic[3] {
		return Header{}, ErrBadMagic
	}
	return Header{
		Kind:        Kind(binary.LittleEndian.Uint32(buf[4:8])),
		Command:     Command(binary.LittleEndian.Uint32(buf[8:12])),
		PayloadSize: binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// Encode serializes the header into a fresh 16-byte frame.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Kind))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Command))
	binary.LittleEndian.PutUint32(buf[12:16], h.PayloadSize)
	return buf
}

// EncodeHeader builds and serializes a command header in one step.
func EncodeHeader(kind Kind, cmd Command, payloadSize uint32) []byte {
	return Header{Kind: kind, Command: cmd, PayloadSize: payloadSize}.Encode()
}
