package bytesize

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"plain zero", "0", 0, false},
		{"plain bytes", "1024", 1024, false},
		{"bytes suffix", "1024B", 1024, false},
		{"kibibytes", "1Ki", 1024, false},
		{"kibibytes long", "1KiB", 1024, false},
		{"mebibytes", "100Mi", 100 * 1024 * 1024, false},
		{"gibibytes", "1GiB", 1024 * 1024 * 1024, false},
		{"kilobytes", "1KB", 1000, false},
		{"megabytes", "100MB", 100 * 1000 * 1000, false},
		{"lowercase unit", "1gi", 1024 * 1024 * 1024, false},
		{"fractional", "1.5Ki", 1536, false},
		{"surrounding space", "  1Mi  ", 1024 * 1024, false},
		{"empty", "", 0, true},
		{"garbage", "lots", 0, true},
		{"bad unit", "10XB", 0, true},
		{"no number", "Mi", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		size ByteSize
		want string
	}{
		{0, "0B"},
		{731, "731B"},
		{16 * KiB, "16.0KiB"},
		{MiB, "1.0MiB"},
		{3 * GiB / 2, "1.5GiB"},
	}

	for _, tt := range tests {
		if got := tt.size.String(); got != tt.want {
			t.Errorf("ByteSize(%d).String() = %q, want %q", uint64(tt.size), got, tt.want)
		}
	}
}
