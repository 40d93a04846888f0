package ctxstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the storage class of a type.
type Kind uint8

const (
	KindInvalid Kind = iota

	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindDuration

	KindArray
	KindStruct
)

// String returns the IEC name for primitive kinds and a lowercase
// description for composite kinds.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "BOOL"
	case KindInt8:
		return "SINT"
	case KindInt16:
		return "INT"
	case KindInt32:
		return "DINT"
	case KindInt64:
		return "LINT"
	case KindUint8:
		return "USINT"
	case KindUint16:
		return "UINT"
	case KindUint32:
		return "UDINT"
	case KindUint64:
		return "ULINT"
	case KindFloat32:
		return "REAL"
	case KindFloat64:
		return "LREAL"
	case KindDuration:
		return "TIME"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	default:
		return "invalid"
	}
}

// IsPrimitive reports whether the kind maps to a single typed slot.
func (k Kind) IsPrimitive() bool {
	return k >= KindBool && k <= KindDuration
}

// Bits returns the storage width of a primitive kind in bits.
// BOOL counts as 1, TIME as 64.
func (k Kind) Bits() int {
	switch k {
	case KindBool:
		return 1
	case KindInt8, KindUint8:
		return 8
	case KindInt16, KindUint16:
		return 16
	case KindInt32, KindUint32, KindFloat32:
		return 32
	case KindInt64, KindUint64, KindFloat64, KindDuration:
		return 64
	default:
		return 0
	}
}

// Type describes a context type: a primitive, a fixed-size array or a
// structure with ordered named fields.
type Type struct {
	Kind Kind

	// Elem and Len describe array types.
	Elem *Type
	Len  int

	// Fields holds the ordered members of a struct type.
	Fields []Field
}

// Field is a named member of a struct type.
type Field struct {
	Name string
	Type *Type
}

// Prim returns the type descriptor for a primitive kind.
func Prim(k Kind) *Type {
	return &Type{Kind: k}
}

// ArrayOf returns the type descriptor for a fixed-size array.
func ArrayOf(elem *Type, n int) *Type {
	return &Type{Kind: KindArray, Elem: elem, Len: n}
}

// StructOf returns the type descriptor for a struct with the given fields.
func StructOf(fields ...Field) *Type {
	return &Type{Kind: KindStruct, Fields: fields}
}

// String renders the type in the schema notation, e.g. "UINT[12]".
func (t *Type) String() string {
	switch t.Kind {
	case KindArray:
		return fmt.Sprintf("%s[%d]", t.Elem.String(), t.Len)
	case KindStruct:
		return "struct"
	default:
		return t.Kind.String()
	}
}

// primitiveNames maps every accepted type keyword to its kind. The IEC
// bit-string names (BYTE, WORD, DWORD, LWORD) alias the unsigned integer
// of the same width.
var primitiveNames = map[string]Kind{
	"BOOL":  KindBool,
	"SINT":  KindInt8,
	"INT":   KindInt16,
	"DINT":  KindInt32,
	"LINT":  KindInt64,
	"USINT": KindUint8,
	"UINT":  KindUint16,
	"UDINT": KindUint32,
	"ULINT": KindUint64,
	"BYTE":  KindUint8,
	"WORD":  KindUint16,
	"DWORD": KindUint32,
	"LWORD": KindUint64,
	"REAL":  KindFloat32,
	"LREAL": KindFloat64,
	"TIME":  KindDuration,
}

// ParseTypeSpec parses a scalar type literal from the context schema,
// e.g. "BOOL", "REAL", "UINT[12]". Array suffixes may be nested
// ("INT[2][3]" is an array of two INT[3]).
func ParseTypeSpec(spec string) (*Type, error) {
	s := strings.TrimSpace(spec)

	var dims []int
	for strings.HasSuffix(s, "]") {
		open := strings.LastIndex(s, "[")
		if open < 0 {
			return nil, fmt.Errorf("type %q: unmatched ']'", spec)
		}
		n, err := strconv.Atoi(s[open+1 : len(s)-1])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("type %q: invalid array length %q", spec, s[open+1:len(s)-1])
		}
		dims = append(dims, n)
		s = s[:open]
	}

	kind, ok := primitiveNames[strings.ToUpper(s)]
	if !ok {
		return nil, fmt.Errorf("type %q: unknown type name %q", spec, s)
	}

	t := Prim(kind)
	// Suffixes were collected innermost-first.
	for _, n := range dims {
		t = ArrayOf(t, n)
	}
	return t, nil
}

// zeroValue returns the Go zero value boxed for a primitive kind.
func zeroValue(k Kind) any {
	switch k {
	case KindBool:
		return false
	case KindInt8:
		return int8(0)
	case KindInt16:
		return int16(0)
	case KindInt32:
		return int32(0)
	case KindInt64:
		return int64(0)
	case KindUint8:
		return uint8(0)
	case KindUint16:
		return uint16(0)
	case KindUint32:
		return uint32(0)
	case KindUint64:
		return uint64(0)
	case KindFloat32:
		return float32(0)
	case KindFloat64:
		return float64(0)
	case KindDuration:
		return time.Duration(0)
	default:
		return nil
	}
}
