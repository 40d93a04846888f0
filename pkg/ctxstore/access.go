package ctxstore

import (
	"fmt"
	"time"
)

// Txn is an access scope over the store. Inside View/Update on a
// serialized store the whole context is locked for the duration of the
// callback; on an unserialized store each access locks only the
// top-level field it touches.
type Txn struct {
	s        *Store
	writable bool
}

// View runs fn with read access to the context. On a serialized store
// the snapshot seen by fn is consistent across all fields.
func (s *Store) View(fn func(tx *Txn)) {
	if s.serialize {
		s.mu.RLock()
		defer s.mu.RUnlock()
	}
	fn(&Txn{s: s})
}

// Update runs fn with read-write access to the context. On a serialized
// store no other reader or writer observes a partial update.
func (s *Store) Update(fn func(tx *Txn)) {
	if s.serialize {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	fn(&Txn{s: s, writable: true})
}

// Get returns the boxed value of a scalar handle, or a freshly allocated
// typed slice for a primitive array handle.
func (s *Store) Get(h Handle) any {
	var v any
	s.View(func(tx *Txn) { v = tx.Get(h) })
	return v
}

// Set writes a value through a handle. See Txn.Set for the accepted types.
func (s *Store) Set(h Handle, v any) error {
	var err error
	s.Update(func(tx *Txn) { err = tx.Set(h, v) })
	return err
}

func (tx *Txn) rlockRoot(h Handle) func() {
	if tx.s.serialize {
		return func() {}
	}
	l := &tx.s.rootLocks[h.root]
	l.RLock()
	return l.RUnlock
}

func (tx *Txn) wlockRoot(h Handle) func() {
	if tx.s.serialize {
		return func() {}
	}
	l := &tx.s.rootLocks[h.root]
	l.Lock()
	return l.Unlock
}

// Get returns the value behind the handle. Scalars come back boxed in
// their exact Go type; arrays come back as a copy in the matching slice
// type ([]uint16, []float32, ...).
func (tx *Txn) Get(h Handle) any {
	unlock := tx.rlockRoot(h)
	defer unlock()

	a := &tx.s.arena
	if h.n == 1 {
		return rawGet(a, h.kind, h.off)
	}
	switch h.kind {
	case KindBool:
		return append([]bool(nil), a.bools[h.off:h.off+h.n]...)
	case KindInt8:
		return append([]int8(nil), a.i8[h.off:h.off+h.n]...)
	case KindInt16:
		return append([]int16(nil), a.i16[h.off:h.off+h.n]...)
	case KindInt32:
		return append([]int32(nil), a.i32[h.off:h.off+h.n]...)
	case KindInt64:
		return append([]int64(nil), a.i64[h.off:h.off+h.n]...)
	case KindUint8:
		return append([]uint8(nil), a.u8[h.off:h.off+h.n]...)
	case KindUint16:
		return append([]uint16(nil), a.u16[h.off:h.off+h.n]...)
	case KindUint32:
		return append([]uint32(nil), a.u32[h.off:h.off+h.n]...)
	case KindUint64:
		return append([]uint64(nil), a.u64[h.off:h.off+h.n]...)
	case KindFloat32:
		return append([]float32(nil), a.f32[h.off:h.off+h.n]...)
	case KindFloat64:
		return append([]float64(nil), a.f64[h.off:h.off+h.n]...)
	case KindDuration:
		return append([]time.Duration(nil), a.dur[h.off:h.off+h.n]...)
	default:
		panic("ctxstore: invalid handle kind")
	}
}

// GetIndex returns one element of a primitive array handle.
func (tx *Txn) GetIndex(h Handle, i int) (any, error) {
	eh, err := h.Index(i)
	if err != nil {
		return nil, err
	}
	unlock := tx.rlockRoot(eh)
	defer unlock()
	return rawGet(&tx.s.arena, eh.kind, eh.off), nil
}

// Set writes through the handle. For scalars the value must have the
// exact Go type of the slot; for arrays it must be a slice of the exact
// element type with the declared length. The slot is untouched on error.
func (tx *Txn) Set(h Handle, v any) error {
	if !tx.writable {
		return fmt.Errorf("%s: write inside read-only transaction", h.path)
	}
	unlock := tx.wlockRoot(h)
	defer unlock()

	a := &tx.s.arena
	if h.n == 1 {
		return rawSet(a, h, v)
	}

	bad := func(got any) error {
		return fmt.Errorf("%s: %w: slot is %s[%d], got %T", h.path, ErrType, h.kind, h.n, got)
	}
	switch h.kind {
	case KindBool:
		src, ok := v.([]bool)
		if !ok || len(src) != h.n {
			return bad(v)
		}
		copy(a.bools[h.off:], src)
	case KindInt8:
		src, ok := v.([]int8)
		if !ok || len(src) != h.n {
			return bad(v)
		}
		copy(a.i8[h.off:], src)
	case KindInt16:
		src, ok := v.([]int16)
		if !ok || len(src) != h.n {
			return bad(v)
		}
		copy(a.i16[h.off:], src)
	case KindInt32:
		src, ok := v.([]int32)
		if !ok || len(src) != h.n {
			return bad(v)
		}
		copy(a.i32[h.off:], src)
	case KindInt64:
		src, ok := v.([]int64)
		if !ok || len(src) != h.n {
			return bad(v)
		}
		copy(a.i64[h.off:], src)
	case KindUint8:
		src, ok := v.([]uint8)
		if !ok || len(src) != h.n {
			return bad(v)
		}
		copy(a.u8[h.off:], src)
	case KindUint16:
		src, ok := v.([]uint16)
		if !ok || len(src) != h.n {
			return bad(v)
		}
		copy(a.u16[h.off:], src)
	case KindUint32:
		src, ok := v.([]uint32)
		if !ok || len(src) != h.n {
			return bad(v)
		}
		copy(a.u32[h.off:], src)
	case KindUint64:
		src, ok := v.([]uint64)
		if !ok || len(src) != h.n {
			return bad(v)
		}
		copy(a.u64[h.off:], src)
	case KindFloat32:
		src, ok := v.([]float32)
		if !ok || len(src) != h.n {
			return bad(v)
		}
		copy(a.f32[h.off:], src)
	case KindFloat64:
		src, ok := v.([]float64)
		if !ok || len(src) != h.n {
			return bad(v)
		}
		copy(a.f64[h.off:], src)
	case KindDuration:
		src, ok := v.([]time.Duration)
		if !ok || len(src) != h.n {
			return bad(v)
		}
		copy(a.dur[h.off:], src)
	default:
		return bad(v)
	}
	return nil
}

// SetIndex writes one element of a primitive array handle.
func (tx *Txn) SetIndex(h Handle, i int, v any) error {
	eh, err := h.Index(i)
	if err != nil {
		return err
	}
	return tx.Set(eh, v)
}

func rawGet(a *arena, k Kind, off int) any {
	switch k {
	case KindBool:
		return a.bools[off]
	case KindInt8:
		return a.i8[off]
	case KindInt16:
		return a.i16[off]
	case KindInt32:
		return a.i32[off]
	case KindInt64:
		return a.i64[off]
	case KindUint8:
		return a.u8[off]
	case KindUint16:
		return a.u16[off]
	case KindUint32:
		return a.u32[off]
	case KindUint64:
		return a.u64[off]
	case KindFloat32:
		return a.f32[off]
	case KindFloat64:
		return a.f64[off]
	case KindDuration:
		return a.dur[off]
	default:
		panic("ctxstore: invalid handle kind")
	}
}

func rawSet(a *arena, h Handle, v any) error {
	bad := func() error {
		return fmt.Errorf("%s: %w: slot is %s, got %T", h.path, ErrType, h.kind, v)
	}
	switch h.kind {
	case KindBool:
		x, ok := v.(bool)
		if !ok {
			return bad()
		}
		a.bools[h.off] = x
	case KindInt8:
		x, ok := v.(int8)
		if !ok {
			return bad()
		}
		a.i8[h.off] = x
	case KindInt16:
		x, ok := v.(int16)
		if !ok {
			return bad()
		}
		a.i16[h.off] = x
	case KindInt32:
		x, ok := v.(int32)
		if !ok {
			return bad()
		}
		a.i32[h.off] = x
	case KindInt64:
		x, ok := v.(int64)
		if !ok {
			return bad()
		}
		a.i64[h.off] = x
	case KindUint8:
		x, ok := v.(uint8)
		if !ok {
			return bad()
		}
		a.u8[h.off] = x
	case KindUint16:
		x, ok := v.(uint16)
		if !ok {
			return bad()
		}
		a.u16[h.off] = x
	case KindUint32:
		x, ok := v.(uint32)
		if !ok {
			return bad()
		}
		a.u32[h.off] = x
	case KindUint64:
		x, ok := v.(uint64)
		if !ok {
			return bad()
		}
		a.u64[h.off] = x
	case KindFloat32:
		x, ok := v.(float32)
		if !ok {
			return bad()
		}
		a.f32[h.off] = x
	case KindFloat64:
		x, ok := v.(float64)
		if !ok {
			return bad()
		}
		a.f64[h.off] = x
	case KindDuration:
		x, ok := v.(time.Duration)
		if !ok {
			return bad()
		}
		a.dur[h.off] = x
	default:
		return bad()
	}
	return nil
}
