package ctxstore

import "testing"

func TestParseTypeSpec(t *testing.T) {
	cases := []struct {
		spec string
		kind Kind
		dims []int
	}{
		{"BOOL", KindBool, nil},
		{"SINT", KindInt8, nil},
		{"INT", KindInt16, nil},
		{"DINT", KindInt32, nil},
		{"LINT", KindInt64, nil},
		{"USINT", KindUint8, nil},
		{"UINT", KindUint16, nil},
		{"UDINT", KindUint32, nil},
		{"ULINT", KindUint64, nil},
		{"BYTE", KindUint8, nil},
		{"WORD", KindUint16, nil},
		{"DWORD", KindUint32, nil},
		{"LWORD", KindUint64, nil},
		{"REAL", KindFloat32, nil},
		{"LREAL", KindFloat64, nil},
		{"TIME", KindDuration, nil},
		{"uint", KindUint16, nil},
		{" REAL ", KindFloat32, nil},
		{"UINT[12]", KindUint16, []int{12}},
		{"BOOL[8]", KindBool, []int{8}},
		{"INT[2][3]", KindInt16, []int{2, 3}},
	}

	for _, c := range cases {
		typ, err := ParseTypeSpec(c.spec)
		if err != nil {
			t.Fatalf("ParseTypeSpec(%q): %v", c.spec, err)
		}
		for i, n := range c.dims {
			if typ.Kind != KindArray {
				t.Fatalf("ParseTypeSpec(%q): dim %d: got %s, want array", c.spec, i, typ.Kind)
			}
			if typ.Len != n {
				t.Fatalf("ParseTypeSpec(%q): dim %d: got len %d, want %d", c.spec, i, typ.Len, n)
			}
			typ = typ.Elem
		}
		if typ.Kind != c.kind {
			t.Fatalf("ParseTypeSpec(%q): got %s, want %s", c.spec, typ.Kind, c.kind)
		}
	}
}

func TestParseTypeSpecErrors(t *testing.T) {
	for _, spec := range []string{
		"", "FLOAT", "UINT[0]", "UINT[-1]", "UINT[x]", "UINT[", "UINT]", "STRING",
	} {
		if _, err := ParseTypeSpec(spec); err == nil {
			t.Errorf("ParseTypeSpec(%q): expected error", spec)
		}
	}
}

func TestKindBits(t *testing.T) {
	cases := map[Kind]int{
		KindBool:     1,
		KindInt8:     8,
		KindUint8:    8,
		KindInt16:    16,
		KindUint16:   16,
		KindInt32:    32,
		KindUint32:   32,
		KindFloat32:  32,
		KindInt64:    64,
		KindUint64:   64,
		KindFloat64:  64,
		KindDuration: 64,
	}
	for k, want := range cases {
		if got := k.Bits(); got != want {
			t.Errorf("%s.Bits() = %d, want %d", k, got, want)
		}
	}
}
