package ctxstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sentinel errors returned (wrapped with path context) by Resolve and the
// typed accessors.
var (
	// ErrType is returned when a value of the wrong type or width is
	// written to a slot, or when a typed read targets a slot of a
	// different kind.
	ErrType = errors.New("type mismatch")

	// ErrUnknownPath is returned when a path names a field that does
	// not exist in the context schema.
	ErrUnknownPath = errors.New("unknown context path")

	// ErrIndex is returned when an array index is out of range.
	ErrIndex = errors.New("index out of range")
)

// Handle is a resolved reference to a primitive slot or a contiguous run
// of primitive slots (a primitive array). Handles are cheap to copy and
// valid for the lifetime of the store they were resolved against.
type Handle struct {
	kind Kind
	off  int
	n    int
	root int
	path string
}

// Valid reports whether the handle refers to storage.
func (h Handle) Valid() bool { return h.kind.IsPrimitive() && h.n > 0 }

// Kind returns the element kind of the referenced slot(s).
func (h Handle) Kind() Kind { return h.kind }

// Len returns the number of elements: 1 for a scalar, the declared
// length for a primitive array.
func (h Handle) Len() int { return h.n }

// IsArray reports whether the handle covers a primitive array.
func (h Handle) IsArray() bool { return h.n > 1 }

// Path returns the path the handle was resolved from.
func (h Handle) Path() string { return h.path }

// Index returns a scalar handle for one element of a primitive array.
func (h Handle) Index(i int) (Handle, error) {
	if i < 0 || i >= h.n {
		return Handle{}, fmt.Errorf("%s[%d]: %w (len %d)", h.path, i, ErrIndex, h.n)
	}
	return Handle{
		kind: h.kind,
		off:  h.off + i,
		n:    1,
		root: h.root,
		path: fmt.Sprintf("%s[%d]", h.path, i),
	}, nil
}

// arena holds the backing slots, one slice per primitive kind. Arrays are
// allocated contiguously so a Handle can address a run by offset and length.
type arena struct {
	bools []bool
	i8    []int8
	i16   []int16
	i32   []int32
	i64   []int64
	u8    []uint8
	u16   []uint16
	u32   []uint32
	u64   []uint64
	f32   []float32
	f64   []float64
	dur   []time.Duration
}

func (a *arena) alloc(k Kind, n int) int {
	switch k {
	case KindBool:
		off := len(a.bools)
		a.bools = append(a.bools, make([]bool, n)...)
		return off
	case KindInt8:
		off := len(a.i8)
		a.i8 = append(a.i8, make([]int8, n)...)
		return off
	case KindInt16:
		off := len(a.i16)
		a.i16 = append(a.i16, make([]int16, n)...)
		return off
	case KindInt32:
		off := len(a.i32)
		a.i32 = append(a.i32, make([]int32, n)...)
		return off
	case KindInt64:
		off := len(a.i64)
		a.i64 = append(a.i64, make([]int64, n)...)
		return off
	case KindUint8:
		off := len(a.u8)
		a.u8 = append(a.u8, make([]uint8, n)...)
		return off
	case KindUint16:
		off := len(a.u16)
		a.u16 = append(a.u16, make([]uint16, n)...)
		return off
	case KindUint32:
		off := len(a.u32)
		a.u32 = append(a.u32, make([]uint32, n)...)
		return off
	case KindUint64:
		off := len(a.u64)
		a.u64 = append(a.u64, make([]uint64, n)...)
		return off
	case KindFloat32:
		off := len(a.f32)
		a.f32 = append(a.f32, make([]float32, n)...)
		return off
	case KindFloat64:
		off := len(a.f64)
		a.f64 = append(a.f64, make([]float64, n)...)
		return off
	case KindDuration:
		off := len(a.dur)
		a.dur = append(a.dur, make([]time.Duration, n)...)
		return off
	default:
		panic("ctxstore: alloc on non-primitive kind")
	}
}

// node is one vertex of the resolution tree built at Declare time.
type node struct {
	typ    *Type
	handle Handle           // valid for primitive leaves and primitive arrays
	fields map[string]*node // struct members
	order  []string         // struct member order for snapshots
	elems  []*node          // struct-array elements
}

// Store is the process context: a fixed schema of typed slots shared
// between scan tasks, protocol adapters and user programs.
type Store struct {
	root      *node
	arena     arena
	serialize bool

	mu        sync.RWMutex   // guards everything when serialize is set
	rootLocks []sync.RWMutex // one per top-level field otherwise
}

// Declare allocates a store for the given root struct type. With
// serialize set, View and Update transactions are atomic across the whole
// context; otherwise atomicity is limited to one top-level field subtree.
func Declare(root *Type, serialize bool) (*Store, error) {
	if root == nil || root.Kind != KindStruct {
		return nil, errors.New("ctxstore: context root must be a struct")
	}
	s := &Store{serialize: serialize}
	n, err := s.build(root, "", 0)
	if err != nil {
		return nil, err
	}
	s.root = n
	if !serialize {
		s.rootLocks = make([]sync.RWMutex, len(root.Fields))
	}
	return s, nil
}

func (s *Store) build(t *Type, path string, rootIdx int) (*node, error) {
	switch t.Kind {
	case KindStruct:
		n := &node{typ: t, fields: make(map[string]*node, len(t.Fields))}
		for i, f := range t.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("ctxstore: %s: empty field name", orRoot(path))
			}
			if _, dup := n.fields[f.Name]; dup {
				return nil, fmt.Errorf("ctxstore: %s: duplicate field %q", orRoot(path), f.Name)
			}
			childPath := f.Name
			childRoot := rootIdx
			if path != "" {
				childPath = path + "." + f.Name
			} else {
				childRoot = i
			}
			child, err := s.build(f.Type, childPath, childRoot)
			if err != nil {
				return nil, err
			}
			n.fields[f.Name] = child
			n.order = append(n.order, f.Name)
		}
		return n, nil

	case KindArray:
		if t.Len <= 0 {
			return nil, fmt.Errorf("ctxstore: %s: array length must be positive", path)
		}
		if t.Elem.Kind == KindStruct || t.Elem.Kind == KindArray {
			n := &node{typ: t, elems: make([]*node, t.Len)}
			for i := 0; i < t.Len; i++ {
				child, err := s.build(t.Elem, fmt.Sprintf("%s[%d]", path, i), rootIdx)
				if err != nil {
					return nil, err
				}
				n.elems[i] = child
			}
			return n, nil
		}
		off := s.arena.alloc(t.Elem.Kind, t.Len)
		return &node{typ: t, handle: Handle{
			kind: t.Elem.Kind, off: off, n: t.Len, root: rootIdx, path: path,
		}}, nil

	default:
		if !t.Kind.IsPrimitive() {
			return nil, fmt.Errorf("ctxstore: %s: invalid type", path)
		}
		off := s.arena.alloc(t.Kind, 1)
		return &node{typ: t, handle: Handle{
			kind: t.Kind, off: off, n: 1, root: rootIdx, path: path,
		}}, nil
	}
}

func orRoot(path string) string {
	if path == "" {
		return "context"
	}
	return path
}

// pathSeg is one dot-separated segment of a context path, with any
// bracketed indexes that follow the identifier.
type pathSeg struct {
	name string
	idx  []int
}

func splitPath(path string) ([]pathSeg, error) {
	if path == "" {
		return nil, errors.New("empty path")
	}
	var segs []pathSeg
	for _, part := range strings.Split(path, ".") {
		name := part
		var idx []int
		for {
			open := strings.Index(name, "[")
			if open < 0 {
				break
			}
			rest := name[open:]
			name = name[:open]
			for rest != "" {
				if !strings.HasPrefix(rest, "[") {
					return nil, fmt.Errorf("malformed index in %q", part)
				}
				close := strings.Index(rest, "]")
				if close < 0 {
					return nil, fmt.Errorf("unmatched '[' in %q", part)
				}
				i, err := strconv.Atoi(rest[1:close])
				if err != nil || i < 0 {
					return nil, fmt.Errorf("invalid index in %q", part)
				}
				idx = append(idx, i)
				rest = rest[close+1:]
			}
		}
		if name == "" {
			return nil, fmt.Errorf("empty segment in %q", path)
		}
		segs = append(segs, pathSeg{name: name, idx: idx})
	}
	return segs, nil
}

// Resolve maps a dotted/bracketed path to a Handle. The path must end at
// a primitive slot or a primitive array; resolving to a bare struct is an
// error. Resolution is intended for configuration load and program setup,
// not for the scan hot path.
func (s *Store) Resolve(path string) (Handle, error) {
	segs, err := splitPath(path)
	if err != nil {
		return Handle{}, fmt.Errorf("%q: %w: %v", path, ErrUnknownPath, err)
	}

	cur := s.root
	for si, seg := range segs {
		if cur.fields == nil {
			return Handle{}, fmt.Errorf("%q: %w: %q is not a struct", path, ErrUnknownPath, seg.name)
		}
		next, ok := cur.fields[seg.name]
		if !ok {
			return Handle{}, fmt.Errorf("%q: %w: no field %q", path, ErrUnknownPath, seg.name)
		}
		cur = next

		for ii, i := range seg.idx {
			switch {
			case cur.elems != nil:
				if i >= len(cur.elems) {
					return Handle{}, fmt.Errorf("%q: %w: index %d exceeds length %d", path, ErrIndex, i, len(cur.elems))
				}
				cur = cur.elems[i]
			case cur.handle.Valid() && cur.handle.n > 1:
				if ii != len(seg.idx)-1 || si != len(segs)-1 {
					return Handle{}, fmt.Errorf("%q: %w: cannot descend into scalar element", path, ErrUnknownPath)
				}
				h, err := cur.handle.Index(i)
				if err != nil {
					return Handle{}, err
				}
				return h, nil
			default:
				return Handle{}, fmt.Errorf("%q: %w: %q is not indexable", path, ErrUnknownPath, seg.name)
			}
		}
	}

	if !cur.handle.Valid() {
		return Handle{}, fmt.Errorf("%q: %w: path resolves to a struct, not a slot", path, ErrUnknownPath)
	}
	return cur.handle, nil
}

// MustResolve is Resolve for paths known valid at compile time, such as
// paths in program setup code. It panics on error.
func (s *Store) MustResolve(path string) Handle {
	h, err := s.Resolve(path)
	if err != nil {
		panic(err)
	}
	return h
}

// Serialized reports whether the store was declared with the serialize
// option.
func (s *Store) Serialized() bool { return s.serialize }

func (s *Store) lockFor(h Handle) *sync.RWMutex {
	if s.serialize {
		return &s.mu
	}
	return &s.rootLocks[h.root]
}
