package dbi

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// descriptorFixedSize is the fixed prefix of a file-range descriptor:
// range size (u32), range offset (u64), advisory name length (u32).
const descriptorFixedSize = 16

// ErrShortDescriptor reports a file-range payload too small to hold the
// fixed descriptor prefix.
var ErrShortDescriptor = errors.New("dbi: short file-range descriptor")

// RangeDescriptor is the decoded payload of a FILE_RANGE request.
//
// Name is derived from the payload length, never from NameLen: the client's
// advisory length is not trusted for sizing and is retained for logging only.
// The name bytes are not necessarily null-terminated; a trailing NUL (and
// anything after it) is stripped.
type RangeDescriptor struct {
	Size    uint32 // number of bytes requested
	Offset  uint64 // absolute byte offset into the target file
	NameLen uint32 // advisory, as sent by the client
	Name    string // display name or direct path of the target
}

// ParseRangeDescriptor decodes a file-range descriptor from the payload that
// follows a FILE_RANGE request frame.
func ParseRangeDescriptor(payload []byte) (RangeDescriptor, error) {
	if len(payload) < descriptorFixedSize {
		return RangeDescriptor{}, fmt.Errorf("%w: %d bytes", ErrShortDescriptor, len(payload))
	}

	name := payload[descriptorFixedSize:]
	for i, b := range name {
		if b == 0 {
			name = name[:i]
			break
		}
	}

	return RangeDescriptor{
		Size:    binary.LittleEndian.Uint32(payload[0:4]),
		Offset:  binary.LittleEndian.Uint64(payload[4:12]),
		NameLen: binary.LittleEndian.Uint32(payload[12:16]),
		Name:    string(name),
	}, nil
}
