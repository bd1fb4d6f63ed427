// Package bytesize provides a byte-count type that parses human-readable
// size strings ("1Mi", "500KB", "4096") and renders readable log fields.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize represents a size in bytes.
type ByteSize uint64

// Common byte size constants
const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

// unitMultipliers maps lowercase unit suffixes to their byte multipliers.
var unitMultipliers = map[string]ByteSize{
	"": B, "b": B,
	"k": KB, "kb": KB,
	"m": MB, "mb": MB,
	"g": GB, "gb": GB,
	"t": TB, "tb": TB,
	"ki": KiB, "kib": KiB,
	"mi": MiB, "mib": MiB,
	"gi": GiB, "gib": GiB,
	"ti": TiB, "tib": TiB,
}

// Parse parses a human-readable byte size string: a number followed by an
// optional unit suffix. Binary units (Ki/Mi/Gi/Ti) multiply by 1024, decimal
// units (K/M/G/T) by 1000. Plain numbers are bytes.
func Parse(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	// Split the numeric prefix from the unit suffix.
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	numStr := s[:i]
	unit := strings.ToLower(strings.TrimSpace(s[i:]))

	multiplier, ok := unitMultipliers[unit]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit: %q", s[i:])
	}

	if strings.Contains(numStr, ".") {
		num, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in byte size: %q", numStr)
		}
		return ByteSize(num * float64(multiplier)), nil
	}

	num, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in byte size: %q", numStr)
	}
	return ByteSize(num) * multiplier, nil
}

// UnmarshalText implements encoding.TextUnmarshaler so ByteSize can be used
// directly in config structs.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// String renders the size with the largest binary unit that divides it cleanly
// enough to read, e.g. "1.0MiB", "16KiB", "731B".
func (b ByteSize) String() string {
	switch {
	case b >= TiB:
		return fmt.Sprintf("%.1fTiB", float64(b)/float64(TiB))
	case b >= GiB:
		return fmt.Sprintf("%.1fGiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.1fMiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.1fKiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", uint64(b))
	}
}
