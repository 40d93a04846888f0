package ctxstore

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var (
	snapEncMode cbor.EncMode
	snapDecMode cbor.DecMode
)

func init() {
	var err error
	snapEncMode, err = cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		panic(err)
	}
	snapDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Snapshot serializes the whole context as a CBOR map mirroring the
// declared structure. On a serialized store the snapshot is consistent
// across all fields.
func (s *Store) Snapshot() ([]byte, error) {
	var v map[string]any
	s.View(func(tx *Txn) { v = tx.snapNode(s.root).(map[string]any) })
	return snapEncMode.Marshal(v)
}

func (tx *Txn) snapNode(n *node) any {
	switch {
	case n.fields != nil:
		m := make(map[string]any, len(n.order))
		for _, name := range n.order {
			m[name] = tx.snapNode(n.fields[name])
		}
		return m
	case n.elems != nil:
		out := make([]any, len(n.elems))
		for i, e := range n.elems {
			out[i] = tx.snapNode(e)
		}
		return out
	default:
		return tx.Get(n.handle)
	}
}

// Restore loads a snapshot produced by Snapshot back into the context.
// Fields absent from the snapshot keep their current value; snapshot
// entries that no longer match the schema are skipped. A value that
// cannot be represented in the declared slot type is an error.
func (s *Store) Restore(data []byte) error {
	var v map[string]any
	if err := snapDecMode.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("ctxstore: decode snapshot: %w", err)
	}
	var err error
	s.Update(func(tx *Txn) { err = tx.restoreNode(s.root, v) })
	return err
}

func (tx *Txn) restoreNode(n *node, v any) error {
	switch {
	case n.fields != nil:
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		for _, name := range n.order {
			sub, present := m[name]
			if !present {
				continue
			}
			if err := tx.restoreNode(n.fields[name], sub); err != nil {
				return err
			}
		}
		return nil

	case n.elems != nil:
		arr, ok := v.([]any)
		if !ok {
			return nil
		}
		for i, e := range n.elems {
			if i >= len(arr) {
				break
			}
			if err := tx.restoreNode(e, arr[i]); err != nil {
				return err
			}
		}
		return nil

	default:
		return tx.restoreLeaf(n.handle, v)
	}
}

func (tx *Txn) restoreLeaf(h Handle, v any) error {
	if h.n == 1 {
		cv, err := coerce(h, v)
		if err != nil {
			return err
		}
		return tx.Set(h, cv)
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	for i := 0; i < h.n && i < len(arr); i++ {
		eh, err := h.Index(i)
		if err != nil {
			return err
		}
		cv, err := coerce(eh, arr[i])
		if err != nil {
			return err
		}
		if err := tx.Set(eh, cv); err != nil {
			return err
		}
	}
	return nil
}

// SetCoerce writes v through the handle, converting compatible numeric
// representations (int64/uint64/float64 as produced by generic decoders)
// into the slot's exact type. Values out of range for the declared width
// are rejected without mutating the slot. Arrays accept []any with
// per-element coercion or an exactly typed slice.
func (tx *Txn) SetCoerce(h Handle, v any) error {
	// An exactly typed value needs no conversion.
	if err := tx.Set(h, v); err == nil {
		return nil
	}

	if h.n == 1 {
		cv, err := coerce(h, v)
		if err != nil {
			return err
		}
		return tx.Set(h, cv)
	}

	arr, ok := v.([]any)
	if !ok {
		return fmt.Errorf("%s: %w: slot is %s[%d], got %T", h.path, ErrType, h.kind, h.n, v)
	}
	if len(arr) != h.n {
		return fmt.Errorf("%s: %w: need %d elements, got %d", h.path, ErrType, h.n, len(arr))
	}
	// Validate all elements before writing any.
	converted := make([]any, h.n)
	for i, elem := range arr {
		eh, err := h.Index(i)
		if err != nil {
			return err
		}
		converted[i], err = coerce(eh, elem)
		if err != nil {
			return err
		}
	}
	for i, cv := range converted {
		if err := tx.SetIndex(h, i, cv); err != nil {
			return err
		}
	}
	return nil
}

// coerce converts a decoded CBOR value into the exact Go type of the
// slot, rejecting values out of range for the declared width.
func coerce(h Handle, v any) (any, error) {
	bad := func() (any, error) {
		return nil, fmt.Errorf("%s: %w: snapshot value %v (%T) does not fit %s", h.path, ErrType, v, v, h.kind)
	}

	if h.kind == KindBool {
		b, ok := v.(bool)
		if !ok {
			return bad()
		}
		return b, nil
	}

	// CBOR decodes integers as uint64 or int64 and floats as float64.
	var (
		i     int64
		u     uint64
		f     float64
		isInt bool
		neg   bool
	)
	switch x := v.(type) {
	case uint64:
		u, isInt = x, true
	case int64:
		i, isInt, neg = x, true, x < 0
		if !neg {
			u = uint64(x)
		}
	case float64:
		f = x
	case float32:
		f = float64(x)
	default:
		return bad()
	}

	switch h.kind {
	case KindFloat32:
		if isInt {
			if neg {
				f = float64(i)
			} else {
				f = float64(u)
			}
		}
		return float32(f), nil
	case KindFloat64:
		if isInt {
			if neg {
				f = float64(i)
			} else {
				f = float64(u)
			}
		}
		return f, nil
	}

	if !isInt {
		if f != math.Trunc(f) {
			return bad()
		}
		if f < 0 {
			i, neg = int64(f), true
		} else {
			u = uint64(f)
		}
		isInt = true
	}

	switch h.kind {
	case KindInt8, KindInt16, KindInt32, KindInt64, KindDuration:
		if !neg {
			if u > math.MaxInt64 {
				return bad()
			}
			i = int64(u)
		}
		switch h.kind {
		case KindInt8:
			if i < math.MinInt8 || i > math.MaxInt8 {
				return bad()
			}
			return int8(i), nil
		case KindInt16:
			if i < math.MinInt16 || i > math.MaxInt16 {
				return bad()
			}
			return int16(i), nil
		case KindInt32:
			if i < math.MinInt32 || i > math.MaxInt32 {
				return bad()
			}
			return int32(i), nil
		case KindInt64:
			return i, nil
		default:
			return time.Duration(i), nil
		}

	case KindUint8, KindUint16, KindUint32, KindUint64:
		if neg {
			return bad()
		}
		switch h.kind {
		case KindUint8:
			if u > math.MaxUint8 {
				return bad()
			}
			return uint8(u), nil
		case KindUint16:
			if u > math.MaxUint16 {
				return bad()
			}
			return uint16(u), nil
		case KindUint32:
			if u > math.MaxUint32 {
				return bad()
			}
			return uint32(u), nil
		default:
			return u, nil
		}
	}
	return bad()
}
