package transform

import (
	"errors"
	"strings"
	"time"
)

var errEmptyTimestamp = errors.New("empty timestamp")

// timestampLayouts are tried in order. Layouts without a zone are read as
// UTC. Fractional seconds are accepted after the seconds field even when the
// layout does not name them.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z07",
	"2006-01-02 15:04:05 -0700 MST",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006/01/02 15:04:05",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006 3:04:05 PM",
	"2006-01-02",
	"1/2/2006",
}

// ParseTimestamp parses a free-form timestamp and normalizes it to UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errEmptyTimestamp
	}

	var firstErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// dayOfWeek numbers days Monday=0 through Sunday=6.
func dayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
