package sequence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatConfig carries the formatting rules of a sequence. Kept separate from
// the aggregate so Format stays a pure function over plain data.
type FormatConfig struct {
	Prefix    string
	Suffix    string
	PadLength int
	PadChar   string
	Pattern   string
}

// FormatConfig extracts the formatting rules from the sequence.
func (s *Sequence) FormatConfig() FormatConfig {
	return FormatConfig{
		Prefix:    s.Prefix,
		Suffix:    s.Suffix,
		PadLength: s.PadLength,
		PadChar:   s.PadChar,
		Pattern:   s.Pattern,
	}
}

// Format renders a raw counter value into the caller-visible identifier.
// Deterministic, no side effects: date tokens resolve from the segment key
// when it is date-derived (YYYY, YYYYMM or YYYYMMDD), falling back to now.
//
// With a pattern set, the tokens {PREFIX}, {SUFFIX}, {VALUE}, {VALUE:N},
// {YEAR}, {MONTH} and {DAY} are substituted. Without one the result is
// prefix + padded value + suffix. Padding widths are a minimum, never a
// maximum: a value wider than the pad width is emitted unpadded.
func Format(value int64, segment string, cfg FormatConfig, now time.Time) string {
	if cfg.Pattern == "" {
		return cfg.Prefix + pad(value, cfg.PadLength, cfg.PadChar) + cfg.Suffix
	}

	year, month, day := dateParts(segment, now)

	out := cfg.Pattern
	out = strings.ReplaceAll(out, "{PREFIX}", cfg.Prefix)
	out = strings.ReplaceAll(out, "{SUFFIX}", cfg.Suffix)
	out = replaceValueWidthTokens(out, value, cfg.PadChar)
	out = strings.ReplaceAll(out, "{VALUE}", pad(value, cfg.PadLength, cfg.PadChar))
	out = strings.ReplaceAll(out, "{YEAR}", year)
	out = strings.ReplaceAll(out, "{MONTH}", month)
	out = strings.ReplaceAll(out, "{DAY}", day)
	return out
}

// pad left-pads the decimal rendering of value to width with padChar.
func pad(value int64, width int, padChar string) string {
	raw := strconv.FormatInt(value, 10)
	if width <= len(raw) {
		return raw
	}
	if padChar == "" {
		padChar = "0"
	}
	return strings.Repeat(padChar, width-len(raw)) + raw
}

// replaceValueWidthTokens substitutes every {VALUE:N} occurrence.
func replaceValueWidthTokens(pattern string, value int64, padChar string) string {
	const open = "{VALUE:"
	for {
		start := strings.Index(pattern, open)
		if start < 0 {
			return pattern
		}
		end := strings.Index(pattern[start:], "}")
		if end < 0 {
			return pattern
		}
		end += start
		width, err := strconv.Atoi(pattern[start+len(open) : end])
		if err != nil {
			// Malformed width: leave the token as-is and stop substituting
			// to avoid an infinite loop.
			return pattern
		}
		pattern = pattern[:start] + pad(value, width, padChar) + pattern[end+1:]
	}
}

// dateParts derives {YEAR}/{MONTH}/{DAY} substitutions. A date-derived
// segment key (as produced by the segment resolver) takes precedence over
// the clock so formatted values stay consistent with their segment.
func dateParts(segment string, now time.Time) (year, month, day string) {
	year = now.Format("2006")
	month = now.Format("01")
	day = now.Format("02")

	if !isDigits(segment) {
		return year, month, day
	}
	switch len(segment) {
	case 4: // YYYY
		year = segment
	case 6: // YYYYMM
		year, month = segment[:4], segment[4:6]
	case 8: // YYYYMMDD
		year, month, day = segment[:4], segment[4:6], segment[6:8]
	}
	return year, month, day
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatValue is a convenience wrapper over Format using the sequence's own
// configuration.
func (s *Sequence) FormatValue(value int64, segment string, now time.Time) string {
	return Format(value, segment, s.FormatConfig(), now)
}

// String implements fmt.Stringer for logging.
func (s *Sequence) String() string {
	return fmt.Sprintf("sequence(%s name=%s value=%d)", s.ID, s.Name, s.CurrentValue)
}
