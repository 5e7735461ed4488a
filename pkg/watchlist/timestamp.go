package watchlist

import (
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp formats t the way baselines are stored: UTC, millisecond
// precision, trailing Z.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ParseTimestamp accepts the layouts the backend is known to emit.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// advance returns the baseline to keep when next is proposed over cur.
// A baseline never moves backwards. When either side cannot be parsed the
// backend's value is taken as is.
func advance(cur, next string) string {
	if next == "" {
		return cur
	}
	if cur == "" {
		return next
	}
	c, okc := ParseTimestamp(cur)
	n, okn := ParseTimestamp(next)
	if okn && okc && n.Before(c) {
		return cur
	}
	return next
}
