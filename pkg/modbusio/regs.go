package modbusio

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Space identifies one of the four Modbus register spaces.
type Space uint8

const (
	SpaceCoil Space = iota
	SpaceDiscrete
	SpaceInput
	SpaceHolding
)

// String returns the space name used in log output and errors.
func (s Space) String() string {
	switch s {
	case SpaceCoil:
		return "coil"
	case SpaceDiscrete:
		return "discrete"
	case SpaceInput:
		return "input"
	case SpaceHolding:
		return "holding"
	default:
		return "invalid"
	}
}

// Prefix returns the single-letter range notation prefix.
func (s Space) Prefix() byte {
	switch s {
	case SpaceCoil:
		return 'c'
	case SpaceDiscrete:
		return 'd'
	case SpaceInput:
		return 'i'
	default:
		return 'h'
	}
}

// IsBits reports whether the space holds single-bit values.
func (s Space) IsBits() bool { return s == SpaceCoil || s == SpaceDiscrete }

// Writable reports whether a client may write to the space. Discrete
// inputs and input registers are read-only by protocol definition.
func (s Space) Writable() bool { return s == SpaceCoil || s == SpaceHolding }

func spaceFor(prefix byte) (Space, bool) {
	switch prefix {
	case 'c':
		return SpaceCoil, true
	case 'd':
		return SpaceDiscrete, true
	case 'i':
		return SpaceInput, true
	case 'h':
		return SpaceHolding, true
	default:
		return 0, false
	}
}

// Range is a contiguous run of registers or bits in one space,
// transferred as a unit per sync.
type Range struct {
	Space Space
	Start uint16
	Count uint16
}

// String renders the range back into the "<kind><start>-<end>" notation.
func (r Range) String() string {
	if r.Count <= 1 {
		return fmt.Sprintf("%c%d", r.Space.Prefix(), r.Start)
	}
	return fmt.Sprintf("%c%d-%d", r.Space.Prefix(), r.Start, int(r.Start)+int(r.Count)-1)
}

// ErrRange is wrapped by all range and offset parse errors.
var ErrRange = errors.New("invalid register range")

// ParseRange parses the range notation "<kind><start>[-[<kind>]<end>]".
// The end address is inclusive and may repeat the kind letter of the
// start ("h10-h27" equals "h10-27"); a differing kind letter is an error.
func ParseRange(spec string) (Range, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return Range{}, fmt.Errorf("%w: empty spec", ErrRange)
	}

	space, ok := spaceFor(s[0])
	if !ok {
		return Range{}, fmt.Errorf("%w: %q: unknown register kind %q", ErrRange, spec, s[0:1])
	}

	startStr, endStr, hasEnd := strings.Cut(s[1:], "-")
	start, err := parseAddr(startStr)
	if err != nil {
		return Range{}, fmt.Errorf("%w: %q: bad start address: %v", ErrRange, spec, err)
	}

	if !hasEnd {
		return Range{Space: space, Start: start, Count: 1}, nil
	}

	if endStr != "" {
		if endSpace, ok := spaceFor(endStr[0]); ok {
			if endSpace != space {
				return Range{}, fmt.Errorf("%w: %q: mixed register kinds", ErrRange, spec)
			}
			endStr = endStr[1:]
		}
	}
	end, err := parseAddr(endStr)
	if err != nil {
		return Range{}, fmt.Errorf("%w: %q: bad end address: %v", ErrRange, spec, err)
	}
	if end < start {
		return Range{}, fmt.Errorf("%w: %q: end %d before start %d", ErrRange, spec, end, start)
	}

	return Range{Space: space, Start: start, Count: end - start + 1}, nil
}

func parseAddr(s string) (uint16, error) {
	if s == "" {
		return 0, errors.New("empty address")
	}
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// ParseOffset resolves an entry offset against its range. A plain number
// (optionally a "+"-joined sum such as "2+3") is relative to the range
// start; with a leading "=" the number is an absolute register address
// that must fall inside the range. The returned offset is always
// relative to the range start.
func ParseOffset(spec string, r Range) (int, error) {
	s := strings.TrimSpace(spec)
	absolute := strings.HasPrefix(s, "=")
	if absolute {
		s = s[1:]
	}

	sum := 0
	for _, part := range strings.Split(s, "+") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return 0, fmt.Errorf("%w: offset %q: %v", ErrRange, spec, err)
		}
		sum += v
	}
	if sum < 0 {
		return 0, fmt.Errorf("%w: offset %q is negative", ErrRange, spec)
	}

	if absolute {
		if sum < int(r.Start) {
			return 0, fmt.Errorf("%w: absolute offset %d before range %s", ErrRange, sum, r)
		}
		sum -= int(r.Start)
	}
	if sum >= int(r.Count) {
		return 0, fmt.Errorf("%w: offset %q outside range %s", ErrRange, spec, r)
	}
	return sum, nil
}
