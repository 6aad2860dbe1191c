package sequence

import (
	"testing"
	"time"
)

func TestFormat_PrefixPadSuffix(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		value   int64
		segment string
		cfg     FormatConfig
		want    string
	}{
		{
			name:  "prefix and padding",
			value: 42,
			cfg:   FormatConfig{Prefix: "INV-", PadLength: 6, PadChar: "0"},
			want:  "INV-000042",
		},
		{
			name:  "suffix only",
			value: 7,
			cfg:   FormatConfig{Suffix: "/A", PadLength: 3, PadChar: "0"},
			want:  "007/A",
		},
		{
			name:  "no formatting",
			value: 123,
			cfg:   FormatConfig{},
			want:  "123",
		},
		{
			name:  "value wider than pad is not truncated",
			value: 1234567,
			cfg:   FormatConfig{PadLength: 4, PadChar: "0"},
			want:  "1234567",
		},
		{
			name:  "custom pad char",
			value: 5,
			cfg:   FormatConfig{PadLength: 4, PadChar: "_"},
			want:  "___5",
		},
		{
			name:  "empty pad char defaults to zero",
			value: 5,
			cfg:   FormatConfig{PadLength: 3},
			want:  "005",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(tt.value, tt.segment, tt.cfg, now)
			if got != tt.want {
				t.Errorf("Format mismatch\nwant: %s\ngot:  %s", tt.want, got)
			}
		})
	}
}

func TestFormat_Pattern(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		value   int64
		segment string
		cfg     FormatConfig
		want    string
	}{
		{
			name:    "year segment drives the date token",
			value:   42,
			segment: "2024",
			cfg:     FormatConfig{Pattern: "{PREFIX}{YEAR}-{VALUE:6}", Prefix: "INV-"},
			want:    "INV-2024-000042",
		},
		{
			name:  "date tokens fall back to the clock",
			value: 9,
			cfg:   FormatConfig{Pattern: "{YEAR}/{MONTH}/{DAY}-{VALUE}"},
			want:  "2026/08/28-9",
		},
		{
			name:    "month segment fills year and month",
			value:   3,
			segment: "202401",
			cfg:     FormatConfig{Pattern: "{YEAR}-{MONTH}-{VALUE:3}"},
			want:    "2024-01-003",
		},
		{
			name:    "day segment fills all date parts",
			value:   1,
			segment: "20240215",
			cfg:     FormatConfig{Pattern: "{YEAR}{MONTH}{DAY}/{VALUE:4}"},
			want:    "20240215/0001",
		},
		{
			name:    "non-date segment is ignored for dates",
			value:   5,
			segment: "acme",
			cfg:     FormatConfig{Pattern: "{YEAR}-{VALUE}"},
			want:    "2026-5",
		},
		{
			name:  "plain value token uses pad length",
			value: 12,
			cfg:   FormatConfig{Pattern: "N{VALUE}", PadLength: 5, PadChar: "0"},
			want:  "N00012",
		},
		{
			name:  "repeated width token",
			value: 8,
			cfg:   FormatConfig{Pattern: "{VALUE:2}-{VALUE:4}"},
			want:  "08-0008",
		},
		{
			name:  "suffix token",
			value: 1,
			cfg:   FormatConfig{Pattern: "{VALUE}{SUFFIX}", Suffix: "-X"},
			want:  "1-X",
		},
		{
			name:  "malformed width token is left alone",
			value: 1,
			cfg:   FormatConfig{Pattern: "{VALUE:x}"},
			want:  "{VALUE:x}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(tt.value, tt.segment, tt.cfg, now)
			if got != tt.want {
				t.Errorf("Format mismatch\nwant: %s\ngot:  %s", tt.want, got)
			}
		})
	}
}

func TestFormat_Deterministic(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cfg := FormatConfig{Pattern: "{PREFIX}{YEAR}-{VALUE:6}", Prefix: "ORD-"}

	first := Format(99, "2025", cfg, now)
	second := Format(99, "2025", cfg, now)
	if first != second {
		t.Errorf("formatting not deterministic: %s vs %s", first, second)
	}
}
