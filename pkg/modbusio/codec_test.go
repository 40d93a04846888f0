package modbusio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/goplc-io/goplc/pkg/ctxstore"
)

func encodeOne(t *testing.T, v any) []uint16 {
	t.Helper()
	w, err := appendWords(nil, v)
	require.NoError(t, err)
	return w
}

func TestEncodeSingleWordValues(t *testing.T) {
	assert.Equal(t, []uint16{0x00AB}, encodeOne(t, uint8(0xAB)))
	assert.Equal(t, []uint16{0xFFFB}, encodeOne(t, int8(-5)))
	assert.Equal(t, []uint16{0x1234}, encodeOne(t, uint16(0x1234)))
	assert.Equal(t, []uint16{0xFB9E}, encodeOne(t, int16(-1122)))
}

func TestEncodeIntegersBigEndianWordOrder(t *testing.T) {
	assert.Equal(t, []uint16{0xFFAA, 0x1122}, encodeOne(t, uint32(0xFFAA1122)))
	assert.Equal(t, []uint16{0xFFAA, 0x1122}, encodeOne(t, int32(-5631710)))
	assert.Equal(t,
		[]uint16{0x0123, 0x4567, 0x89AB, 0xCDEF},
		encodeOne(t, uint64(0x0123456789ABCDEF)))
	assert.Equal(t,
		[]uint16{0xFFFF, 0xFFFF, 0xFFFF, 0xFFFE},
		encodeOne(t, int64(-2)))
}

func TestEncodeFloatsSwappedWordOrder(t *testing.T) {
	// REAL values go out low word first.
	assert.Equal(t, []uint16{0xB150, 0x4715}, encodeOne(t, float32(38321.312)))

	// LREAL values go out in fully reversed word order.
	assert.Equal(t,
		[]uint16{0x9DB2, 0x27EF, 0x3CC1, 0x414D},
		encodeOne(t, float64(3832194.312)))
}

func TestDecodeMatchesEncode(t *testing.T) {
	cases := []struct {
		kind ctxstore.Kind
		v    any
	}{
		{ctxstore.KindUint8, uint8(0xAB)},
		{ctxstore.KindInt8, int8(-5)},
		{ctxstore.KindUint16, uint16(0xFFFF)},
		{ctxstore.KindInt16, int16(-1122)},
		{ctxstore.KindUint32, uint32(0xFFAA1122)},
		{ctxstore.KindInt32, int32(math.MinInt32)},
		{ctxstore.KindUint64, uint64(0x0123456789ABCDEF)},
		{ctxstore.KindInt64, int64(-2)},
		{ctxstore.KindFloat32, float32(38321.312)},
		{ctxstore.KindFloat64, float64(3832194.312)},
	}

	for _, c := range cases {
		w, err := appendWords(nil, c.v)
		require.NoError(t, err)
		got, err := decodeWords(c.kind, w)
		require.NoError(t, err)
		assert.Equal(t, c.v, got, "kind %s", c.kind)
	}
}

func TestDecodeWordCountMismatch(t *testing.T) {
	_, err := decodeWords(ctxstore.KindUint32, []uint16{1})
	assert.ErrorIs(t, err, ErrCodec)

	_, err = decodeWords(ctxstore.KindBool, []uint16{1})
	assert.ErrorIs(t, err, ErrCodec)
}

func TestWordsPerElem(t *testing.T) {
	for kind, want := range map[ctxstore.Kind]int{
		ctxstore.KindInt8:    1,
		ctxstore.KindUint8:   1,
		ctxstore.KindInt16:   1,
		ctxstore.KindUint16:  1,
		ctxstore.KindInt32:   2,
		ctxstore.KindUint32:  2,
		ctxstore.KindFloat32: 2,
		ctxstore.KindInt64:   4,
		ctxstore.KindUint64:  4,
		ctxstore.KindFloat64: 4,
	} {
		got, err := WordsPerElem(kind)
		require.NoError(t, err)
		assert.Equal(t, want, got, "kind %s", kind)
	}

	_, err := WordsPerElem(ctxstore.KindBool)
	assert.ErrorIs(t, err, ErrCodec)
	_, err = WordsPerElem(ctxstore.KindDuration)
	assert.ErrorIs(t, err, ErrCodec)
}

func TestWordsBytesRoundTrip(t *testing.T) {
	words := []uint16{0x0102, 0xFFFE, 0x0000}
	b := WordsToBytes(words)
	assert.Equal(t, []byte{0x01, 0x02, 0xFF, 0xFE, 0x00, 0x00}, b)

	back, err := BytesToWords(b)
	require.NoError(t, err)
	assert.Equal(t, words, back)

	_, err = BytesToWords([]byte{0x01})
	assert.ErrorIs(t, err, ErrCodec)
}

func TestBitsPackLSBFirst(t *testing.T) {
	bits := []bool{true, false, true, true, false, false, false, false, true}
	b := PackBits(bits)
	assert.Equal(t, []byte{0x0D, 0x01}, b)

	back, err := UnpackBits(b, len(bits))
	require.NoError(t, err)
	assert.Equal(t, bits, back)

	_, err = UnpackBits([]byte{0x00}, 9)
	assert.ErrorIs(t, err, ErrCodec)
}

func TestCodecRoundTripProperty(t *testing.T) {
	t.Run("uint32", rapid.MakeCheck(func(t *rapid.T) {
		v := rapid.Uint32().Draw(t, "v")
		w, err := appendWords(nil, v)
		if err != nil {
			t.Fatal(err)
		}
		got, err := decodeWords(ctxstore.KindUint32, w)
		if err != nil {
			t.Fatal(err)
		}
		if got.(uint32) != v {
			t.Fatalf("round trip: %#x != %#x", got, v)
		}
	}))

	t.Run("int64", rapid.MakeCheck(func(t *rapid.T) {
		v := rapid.Int64().Draw(t, "v")
		w, err := appendWords(nil, v)
		if err != nil {
			t.Fatal(err)
		}
		got, err := decodeWords(ctxstore.KindInt64, w)
		if err != nil {
			t.Fatal(err)
		}
		if got.(int64) != v {
			t.Fatalf("round trip: %d != %d", got, v)
		}
	}))

	t.Run("float32", rapid.MakeCheck(func(t *rapid.T) {
		v := math.Float32frombits(rapid.Uint32().Draw(t, "bits"))
		w, err := appendWords(nil, v)
		if err != nil {
			t.Fatal(err)
		}
		got, err := decodeWords(ctxstore.KindFloat32, w)
		if err != nil {
			t.Fatal(err)
		}
		if math.Float32bits(got.(float32)) != math.Float32bits(v) {
			t.Fatalf("round trip: %v != %v", got, v)
		}
	}))

	t.Run("float64", rapid.MakeCheck(func(t *rapid.T) {
		v := math.Float64frombits(rapid.Uint64().Draw(t, "bits"))
		w, err := appendWords(nil, v)
		if err != nil {
			t.Fatal(err)
		}
		got, err := decodeWords(ctxstore.KindFloat64, w)
		if err != nil {
			t.Fatal(err)
		}
		if math.Float64bits(got.(float64)) != math.Float64bits(v) {
			t.Fatalf("round trip: %v != %v", got, v)
		}
	}))
}
