package ctxstore

import (
	"fmt"
	"time"
)

// Typed accessors for program logic. Handles are resolved once at setup,
// so a kind mismatch here is a programming error; these helpers panic
// with an ErrType-wrapped error, which the scheduler turns into a fatal
// error for the offending task only.

func (tx *Txn) scalar(h Handle, want Kind) any {
	if h.kind != want || h.n != 1 {
		panic(fmt.Errorf("%s: %w: slot is %s[%d], accessed as %s", h.path, ErrType, h.kind, h.n, want))
	}
	return tx.Get(h)
}

func (tx *Txn) setScalar(h Handle, v any) {
	if err := tx.Set(h, v); err != nil {
		panic(err)
	}
}

// Bool reads a BOOL slot.
func (tx *Txn) Bool(h Handle) bool { return tx.scalar(h, KindBool).(bool) }

// SetBool writes a BOOL slot.
func (tx *Txn) SetBool(h Handle, v bool) { tx.setScalar(h, v) }

// I8 reads a SINT slot.
func (tx *Txn) I8(h Handle) int8 { return tx.scalar(h, KindInt8).(int8) }

// SetI8 writes a SINT slot.
func (tx *Txn) SetI8(h Handle, v int8) { tx.setScalar(h, v) }

// I16 reads an INT slot.
func (tx *Txn) I16(h Handle) int16 { return tx.scalar(h, KindInt16).(int16) }

// SetI16 writes an INT slot.
func (tx *Txn) SetI16(h Handle, v int16) { tx.setScalar(h, v) }

// I32 reads a DINT slot.
func (tx *Txn) I32(h Handle) int32 { return tx.scalar(h, KindInt32).(int32) }

// SetI32 writes a DINT slot.
func (tx *Txn) SetI32(h Handle, v int32) { tx.setScalar(h, v) }

// I64 reads a LINT slot.
func (tx *Txn) I64(h Handle) int64 { return tx.scalar(h, KindInt64).(int64) }

// SetI64 writes a LINT slot.
func (tx *Txn) SetI64(h Handle, v int64) { tx.setScalar(h, v) }

// U8 reads a USINT/BYTE slot.
func (tx *Txn) U8(h Handle) uint8 { return tx.scalar(h, KindUint8).(uint8) }

// SetU8 writes a USINT/BYTE slot.
func (tx *Txn) SetU8(h Handle, v uint8) { tx.setScalar(h, v) }

// U16 reads a UINT/WORD slot.
func (tx *Txn) U16(h Handle) uint16 { return tx.scalar(h, KindUint16).(uint16) }

// SetU16 writes a UINT/WORD slot.
func (tx *Txn) SetU16(h Handle, v uint16) { tx.setScalar(h, v) }

// U32 reads a UDINT/DWORD slot.
func (tx *Txn) U32(h Handle) uint32 { return tx.scalar(h, KindUint32).(uint32) }

// SetU32 writes a UDINT/DWORD slot.
func (tx *Txn) SetU32(h Handle, v uint32) { tx.setScalar(h, v) }

// U64 reads a ULINT/LWORD slot.
func (tx *Txn) U64(h Handle) uint64 { return tx.scalar(h, KindUint64).(uint64) }

// SetU64 writes a ULINT/LWORD slot.
func (tx *Txn) SetU64(h Handle, v uint64) { tx.setScalar(h, v) }

// F32 reads a REAL slot.
func (tx *Txn) F32(h Handle) float32 { return tx.scalar(h, KindFloat32).(float32) }

// SetF32 writes a REAL slot.
func (tx *Txn) SetF32(h Handle, v float32) { tx.setScalar(h, v) }

// F64 reads an LREAL slot.
func (tx *Txn) F64(h Handle) float64 { return tx.scalar(h, KindFloat64).(float64) }

// SetF64 writes an LREAL slot.
func (tx *Txn) SetF64(h Handle, v float64) { tx.setScalar(h, v) }

// Dur reads a TIME slot.
func (tx *Txn) Dur(h Handle) time.Duration { return tx.scalar(h, KindDuration).(time.Duration) }

// SetDur writes a TIME slot.
func (tx *Txn) SetDur(h Handle, v time.Duration) { tx.setScalar(h, v) }
