package bytesize

import (
	"testing"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"plain zero", "0", 0, false},
		{"plain bytes", "1024", 1024, false},
		{"bytes suffix", "1024B", 1024, false},

		{"kibibytes", "512Ki", 512 * KiB, false},
		{"mebibytes", "32Mi", 32 * MiB, false},
		{"mebibytes long", "100MiB", 100 * MiB, false},
		{"gibibytes", "4Gi", 4 * GiB, false},

		{"kilobytes", "1KB", 1000, false},
		{"megabytes", "100MB", 100 * MB, false},
		{"gigabytes", "1G", 1 * GB, false},

		{"lowercase unit", "1gi", 1 * GiB, false},
		{"uppercase unit", "1GI", 1 * GiB, false},
		{"surrounding space", "  1Gi  ", 1 * GiB, false},
		{"space before unit", "1 Gi", 1 * GiB, false},

		{"fractional mebibytes", "1.5Mi", ByteSize(1.5 * float64(MiB)), false},
		{"fractional gibibytes", "0.5Gi", 512 * MiB, false},

		{"empty", "", 0, true},
		{"whitespace only", "   ", 0, true},
		{"unknown unit", "1Xi", 0, true},
		{"terabytes rejected", "1Ti", 0, true},
		{"negative", "-1Gi", 0, true},
		{"unit only", "Gi", 0, true},
		{"garbage", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseByteSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseByteSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestByteSizeUnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("8Mi")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if b != 8*MiB {
		t.Errorf("b = %d, want 8Mi", b)
	}
	if err := b.UnmarshalText([]byte("nope")); err == nil {
		t.Error("invalid input accepted")
	}
}

func TestByteSizeString(t *testing.T) {
	tests := []struct {
		input ByteSize
		want  string
	}{
		{512, "512B"},
		{2 * KiB, "2.00KiB"},
		{100 * MiB, "100.00MiB"},
		{1 * GiB, "1.00GiB"},
		{ByteSize(1.5 * float64(GiB)), "1.50GiB"},
	}
	for _, tt := range tests {
		if got := tt.input.String(); got != tt.want {
			t.Errorf("ByteSize(%d).String() = %q, want %q", tt.input, got, tt.want)
		}
	}
}
