package event

import (
	"fmt"
	"strings"
	"time"
)

// storageLayout is fixed-width so that lexical order equals time order.
const storageLayout = "2006-01-02T15:04:05.000000Z"

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// FormatTimestamp renders t in the storage layout (UTC, microseconds).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(storageLayout)
}

// ParseTimestamp accepts the timestamp shapes written by the collectors:
// RFC 3339, space- or T-separated local forms, and Python logging's
// comma-separated milliseconds. Zone-less values are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrMalformedEvent)
	}
	// "2024-01-02 10:00:00,123" -> "2024-01-02 10:00:00.123"
	if i := strings.LastIndexByte(s, ','); i > 0 && i >= len(s)-7 {
		s = s[:i] + "." + s[i+1:]
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparsable timestamp %q", ErrMalformedEvent, s)
}
