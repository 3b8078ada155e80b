package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// IsRelativeTime reports whether value is a relative token such as "now" or "now-1y".
func IsRelativeTime(value string) bool {
	return value == "now" || strings.HasPrefix(value, "now-")
}

// maxRelativeAmount bounds n in "now-<n><unit>" so hour offsets stay within
// time.Duration.
const maxRelativeAmount = 1_000_000

// ResolveTime turns an RFC3339 timestamp or a relative token ("now", "now-<n><unit>",
// unit one of h, d, w, M, y) into an absolute time anchored at now.
func ResolveTime(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if !IsRelativeTime(value) {
		return ParseRFC3339(value)
	}
	if value == "now" {
		return now, nil
	}

	spec := strings.TrimPrefix(value, "now-")
	if len(spec) < 2 {
		return time.Time{}, fmt.Errorf("relative time %q: missing unit", value)
	}
	unit := spec[len(spec)-1]
	n, err := strconv.Atoi(spec[:len(spec)-1])
	if err != nil || n < 0 || n > maxRelativeAmount {
		return time.Time{}, fmt.Errorf("relative time %q: bad amount", value)
	}

	switch unit {
	case 'h':
		return now.Add(-time.Duration(n) * time.Hour), nil
	case 'd':
		return now.AddDate(0, 0, -n), nil
	case 'w':
		return now.AddDate(0, 0, -7*n), nil
	case 'M':
		return now.AddDate(0, -n, 0), nil
	case 'y':
		return now.AddDate(-n, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("relative time %q: unknown unit %q", value, string(unit))
}
