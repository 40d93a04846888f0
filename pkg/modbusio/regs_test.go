package modbusio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	cases := []struct {
		spec  string
		space Space
		start uint16
		count uint16
	}{
		{"c0", SpaceCoil, 0, 1},
		{"c0-7", SpaceCoil, 0, 8},
		{"d100", SpaceDiscrete, 100, 1},
		{"i30000-30009", SpaceInput, 30000, 10},
		{"h10-27", SpaceHolding, 10, 18},
		{"h10-h27", SpaceHolding, 10, 18},
		{" h5 ", SpaceHolding, 5, 1},
		{"h0-0", SpaceHolding, 0, 1},
	}

	for _, c := range cases {
		r, err := ParseRange(c.spec)
		require.NoError(t, err, "spec %q", c.spec)
		assert.Equal(t, c.space, r.Space, "spec %q", c.spec)
		assert.Equal(t, c.start, r.Start, "spec %q", c.spec)
		assert.Equal(t, c.count, r.Count, "spec %q", c.spec)
	}
}

func TestParseRangeErrors(t *testing.T) {
	for _, spec := range []string{
		"",
		"x10",
		"h",
		"h-5",
		"h10-",
		"h10-5",
		"h10-c20", // mixed kinds
		"h70000",
		"10-20",
	} {
		_, err := ParseRange(spec)
		assert.ErrorIs(t, err, ErrRange, "spec %q", spec)
	}
}

func TestRangeString(t *testing.T) {
	assert.Equal(t, "h10-27", Range{Space: SpaceHolding, Start: 10, Count: 18}.String())
	assert.Equal(t, "c0", Range{Space: SpaceCoil, Start: 0, Count: 1}.String())
}

func TestParseOffsetRelative(t *testing.T) {
	r := Range{Space: SpaceHolding, Start: 10, Count: 18}

	off, err := ParseOffset("0", r)
	require.NoError(t, err)
	assert.Equal(t, 0, off)

	off, err = ParseOffset("5", r)
	require.NoError(t, err)
	assert.Equal(t, 5, off)

	// Sums are evaluated left to right.
	off, err = ParseOffset("2+3", r)
	require.NoError(t, err)
	assert.Equal(t, 5, off)
}

func TestParseOffsetAbsolute(t *testing.T) {
	r := Range{Space: SpaceHolding, Start: 10, Count: 18}

	// "=10" addresses the first register of h10-27.
	off, err := ParseOffset("=10", r)
	require.NoError(t, err)
	assert.Equal(t, 0, off)

	off, err = ParseOffset("=27", r)
	require.NoError(t, err)
	assert.Equal(t, 17, off)

	off, err = ParseOffset("=10+8", r)
	require.NoError(t, err)
	assert.Equal(t, 8, off)
}

func TestParseOffsetErrors(t *testing.T) {
	r := Range{Space: SpaceHolding, Start: 10, Count: 18}

	for _, spec := range []string{
		"",
		"x",
		"-1",
		"18",   // one past the end
		"=9",   // absolute before range start
		"=28",  // absolute past range end
		"1+",   // dangling sum
		"=1+x", // bad summand
	} {
		_, err := ParseOffset(spec, r)
		assert.ErrorIs(t, err, ErrRange, "spec %q", spec)
	}
}

func TestSpaceProperties(t *testing.T) {
	assert.True(t, SpaceCoil.IsBits())
	assert.True(t, SpaceDiscrete.IsBits())
	assert.False(t, SpaceInput.IsBits())
	assert.False(t, SpaceHolding.IsBits())

	assert.True(t, SpaceCoil.Writable())
	assert.True(t, SpaceHolding.Writable())
	assert.False(t, SpaceDiscrete.Writable())
	assert.False(t, SpaceInput.Writable())
}
