// Package timex renders and parses the canonical timestamp form used on the
// wire: ISO-8601 with an explicit +08:00 offset.
package timex

import (
	"fmt"
	"time"
)

// Zone is the fixed rendering zone. Storage stays UTC; only the API surface
// renders in this offset.
var Zone = time.FixedZone("UTC+8", 8*60*60)

// Format renders t in the canonical offset form.
func Format(t time.Time) string {
	return t.In(Zone).Format(time.RFC3339)
}

// FormatPtr renders t, or returns empty for nil.
func FormatPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return Format(*t)
}

// Parse accepts RFC3339 timestamps with any offset (and bare
// "2006-01-02T15:04:05", interpreted in the canonical zone).
func Parse(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, Zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
