package arena

import "testing"

func TestNewValueZeroed(t *testing.T) {
	a := New()
	defer a.Free()

	p := NewValue[int64](a)
	if *p != 0 {
		t.Fatalf("NewValue() = %d, want 0", *p)
	}
	*p = 42
	if *p != 42 {
		t.Fatalf("after write, *p = %d, want 42", *p)
	}
}

func TestMakeSliceLengthAndWrite(t *testing.T) {
	a := New()
	defer a.Free()

	s := MakeSlice[byte](a, 10)
	if len(s) != 10 || cap(s) != 10 {
		t.Fatalf("MakeSlice(10) len/cap = %d/%d, want 10/10", len(s), cap(s))
	}
	for i := range s {
		s[i] = byte(i)
	}
	for i := range s {
		if s[i] != byte(i) {
			t.Fatalf("s[%d] = %d, want %d", i, s[i], i)
		}
	}
}

func TestMakeSliceZero(t *testing.T) {
	a := New()
	defer a.Free()

	if s := MakeSlice[int](a, 0); s != nil {
		t.Fatalf("MakeSlice(0) = %v, want nil", s)
	}
}

func TestAllocBytesCopiesIndependently(t *testing.T) {
	a := New()
	defer a.Free()

	src := []byte("hello")
	dst := AllocBytes(a, src)
	if string(dst) != "hello" {
		t.Fatalf("AllocBytes content = %q, want hello", dst)
	}
	src[0] = 'H'
	if dst[0] == 'H' {
		t.Fatal("AllocBytes result aliases the source slice")
	}
}

func TestBytesAccounting(t *testing.T) {
	a := New()
	defer a.Free()

	if a.Bytes() != 0 {
		t.Fatalf("Bytes() on fresh arena = %d, want 0", a.Bytes())
	}
	AllocBytes(a, make([]byte, 100))
	if a.Bytes() < 100 {
		t.Fatalf("Bytes() after 100-byte alloc = %d, want >= 100", a.Bytes())
	}
}

func TestAllocSpansMultipleSlabs(t *testing.T) {
	a := New()
	defer a.Free()

	// Force at least one slab rollover.
	big := MakeSlice[byte](a, defaultSlabSize+1)
	if len(big) != defaultSlabSize+1 {
		t.Fatalf("len(big) = %d, want %d", len(big), defaultSlabSize+1)
	}
	for i := range big {
		big[i] = 0xAB
	}
	for i := range big {
		if big[i] != 0xAB {
			t.Fatalf("big[%d] = %x, want 0xab", i, big[i])
		}
	}
}

func TestFreeInvalidatesBytesAccounting(t *testing.T) {
	a := New()
	AllocBytes(a, make([]byte, 64))
	a.Free()
	if a.Bytes() != 0 {
		t.Fatalf("Bytes() after Free() = %d, want 0", a.Bytes())
	}
}
