package sched

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInterval is wrapped by all interval literal parse errors.
var ErrInterval = errors.New("invalid interval")

// ParseInterval parses a cycle interval literal. Supported suffixes are
// "ms", "us", "ns" and "s"; a bare number is in seconds. The value must
// be a positive integer.
func ParseInterval(spec string) (time.Duration, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return 0, fmt.Errorf("%w: empty literal", ErrInterval)
	}

	unit := time.Second
	switch {
	case strings.HasSuffix(s, "ms"):
		unit = time.Millisecond
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "us"):
		unit = time.Microsecond
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "ns"):
		unit = time.Nanosecond
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "s"):
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInterval, spec, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %q: must be positive", ErrInterval, spec)
	}
	return time.Duration(n) * unit, nil
}
