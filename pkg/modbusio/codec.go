package modbusio

import (
	"errors"
	"fmt"
	"math"

	"github.com/goplc-io/goplc/pkg/ctxstore"
)

// ErrCodec is wrapped by all value packing and unpacking errors.
var ErrCodec = errors.New("modbus codec")

// WordsPerElem returns the number of 16-bit registers one element of the
// given kind occupies in a word space. BOOL and TIME slots cannot be
// mapped to registers.
func WordsPerElem(k ctxstore.Kind) (int, error) {
	switch k {
	case ctxstore.KindInt8, ctxstore.KindUint8, ctxstore.KindInt16, ctxstore.KindUint16:
		return 1, nil
	case ctxstore.KindInt32, ctxstore.KindUint32, ctxstore.KindFloat32:
		return 2, nil
	case ctxstore.KindInt64, ctxstore.KindUint64, ctxstore.KindFloat64:
		return 4, nil
	default:
		return 0, fmt.Errorf("%w: kind %s cannot map to registers", ErrCodec, k)
	}
}

// appendWords encodes one slot value into registers. Integers wider than
// one register use big-endian word order; floats use the swapped order
// described in the package comment.
func appendWords(dst []uint16, v any) ([]uint16, error) {
	switch x := v.(type) {
	case int8:
		return append(dst, uint16(int16(x))), nil
	case uint8:
		return append(dst, uint16(x)), nil
	case int16:
		return append(dst, uint16(x)), nil
	case uint16:
		return append(dst, x), nil
	case int32:
		return appendWords(dst, uint32(x))
	case uint32:
		return append(dst, uint16(x>>16), uint16(x)), nil
	case int64:
		return appendWords(dst, uint64(x))
	case uint64:
		return append(dst, uint16(x>>48), uint16(x>>32), uint16(x>>16), uint16(x)), nil
	case float32:
		bits := math.Float32bits(x)
		return append(dst, uint16(bits), uint16(bits>>16)), nil
	case float64:
		bits := math.Float64bits(x)
		return append(dst, uint16(bits), uint16(bits>>16), uint16(bits>>32), uint16(bits>>48)), nil
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrCodec, v)
	}
}

// decodeWords is the inverse of appendWords for a single element.
func decodeWords(k ctxstore.Kind, w []uint16) (any, error) {
	wpe, err := WordsPerElem(k)
	if err != nil {
		return nil, err
	}
	if len(w) != wpe {
		return nil, fmt.Errorf("%w: kind %s needs %d words, got %d", ErrCodec, k, wpe, len(w))
	}

	switch k {
	case ctxstore.KindInt8:
		return int8(w[0]), nil
	case ctxstore.KindUint8:
		return uint8(w[0]), nil
	case ctxstore.KindInt16:
		return int16(w[0]), nil
	case ctxstore.KindUint16:
		return w[0], nil
	case ctxstore.KindInt32:
		return int32(uint32(w[0])<<16 | uint32(w[1])), nil
	case ctxstore.KindUint32:
		return uint32(w[0])<<16 | uint32(w[1]), nil
	case ctxstore.KindInt64:
		return int64(words64(w[0], w[1], w[2], w[3])), nil
	case ctxstore.KindUint64:
		return words64(w[0], w[1], w[2], w[3]), nil
	case ctxstore.KindFloat32:
		return math.Float32frombits(uint32(w[1])<<16 | uint32(w[0])), nil
	case ctxstore.KindFloat64:
		return math.Float64frombits(words64(w[3], w[2], w[1], w[0])), nil
	default:
		return nil, fmt.Errorf("%w: cannot decode kind %s", ErrCodec, k)
	}
}

func words64(w0, w1, w2, w3 uint16) uint64 {
	return uint64(w0)<<48 | uint64(w1)<<32 | uint64(w2)<<16 | uint64(w3)
}

// encodeSlotWords reads the slot(s) behind h and encodes them into
// registers, element by element for arrays.
func encodeSlotWords(tx *ctxstore.Txn, h ctxstore.Handle) ([]uint16, error) {
	wpe, err := WordsPerElem(h.Kind())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.Path(), err)
	}
	out := make([]uint16, 0, wpe*h.Len())

	if h.Len() == 1 {
		return appendWords(out, tx.Get(h))
	}
	for i := 0; i < h.Len(); i++ {
		v, err := tx.GetIndex(h, i)
		if err != nil {
			return nil, err
		}
		out, err = appendWords(out, v)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// decodeSlotWords writes registers into the slot(s) behind h. The word
// slice must cover the handle exactly.
func decodeSlotWords(tx *ctxstore.Txn, h ctxstore.Handle, w []uint16) error {
	wpe, err := WordsPerElem(h.Kind())
	if err != nil {
		return fmt.Errorf("%s: %w", h.Path(), err)
	}
	if len(w) != wpe*h.Len() {
		return fmt.Errorf("%s: %w: need %d words, got %d", h.Path(), ErrCodec, wpe*h.Len(), len(w))
	}

	if h.Len() == 1 {
		v, err := decodeWords(h.Kind(), w)
		if err != nil {
			return err
		}
		return tx.Set(h, v)
	}
	for i := 0; i < h.Len(); i++ {
		v, err := decodeWords(h.Kind(), w[i*wpe:(i+1)*wpe])
		if err != nil {
			return err
		}
		if err := tx.SetIndex(h, i, v); err != nil {
			return err
		}
	}
	return nil
}

// encodeSlotBits reads BOOL slot(s) as one bit per coil/discrete.
func encodeSlotBits(tx *ctxstore.Txn, h ctxstore.Handle) ([]bool, error) {
	if h.Kind() != ctxstore.KindBool {
		return nil, fmt.Errorf("%s: %w: bit spaces require BOOL, got %s", h.Path(), ErrCodec, h.Kind())
	}
	if h.Len() == 1 {
		return []bool{tx.Bool(h)}, nil
	}
	return tx.Get(h).([]bool), nil
}

// decodeSlotBits writes coil/discrete bits into BOOL slot(s).
func decodeSlotBits(tx *ctxstore.Txn, h ctxstore.Handle, bits []bool) error {
	if h.Kind() != ctxstore.KindBool {
		return fmt.Errorf("%s: %w: bit spaces require BOOL, got %s", h.Path(), ErrCodec, h.Kind())
	}
	if len(bits) != h.Len() {
		return fmt.Errorf("%s: %w: need %d bits, got %d", h.Path(), ErrCodec, h.Len(), len(bits))
	}
	if h.Len() == 1 {
		return tx.Set(h, bits[0])
	}
	return tx.Set(h, append([]bool(nil), bits...))
}

// WordsToBytes converts registers to the big-endian wire encoding used
// by the Modbus PDU payloads.
func WordsToBytes(w []uint16) []byte {
	out := make([]byte, 2*len(w))
	for i, v := range w {
		out[2*i] = byte(v >> 8)
		out[2*i+1] = byte(v)
	}
	return out
}

// BytesToWords converts a big-endian PDU payload back to registers.
func BytesToWords(b []byte) ([]uint16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: odd payload length %d", ErrCodec, len(b))
	}
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return out, nil
}

// PackBits packs coil values LSB-first into the wire encoding.
func PackBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// UnpackBits extracts n coil values from a wire payload.
func UnpackBits(data []byte, n int) ([]bool, error) {
	if len(data)*8 < n {
		return nil, fmt.Errorf("%w: %d bytes cannot hold %d bits", ErrCodec, len(data), n)
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return out, nil
}
