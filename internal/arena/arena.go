// Package arena provides a thin bump allocator used to back page buffers.
//
// Go's experimental goexperiment.arenas package would have been a natural
// fit here, but that experiment never stabilized and is unavailable on a
// standard toolchain, so this implements the same bump/free-all
// semantics on top of plain byte slabs and unsafe.Pointer arithmetic.
//
// Concurrency
// -----------
// Arena is *not* thread-safe. In this engine an arena backs exactly one
// epoch slot (see internal/epoch) and is only ever touched by the
// goroutine currently building pages for that epoch, or by the reclaimer
// after every guard referencing the epoch has retired.
//
// © 2025 bwtreekv authors. MIT License.
package arena

import "unsafe"

const defaultSlabSize = 64 << 10 // 64 KiB

// slab is one contiguous allocation out of which values are bump-allocated.
type slab struct {
	buf  []byte
	used int
}

// Arena is a bump allocator that frees all of its allocations at once.
// Pointers returned by NewValue/MakeSlice/AllocBytes are valid until Free
// is called.
type Arena struct {
	slabSize int
	slabs    []*slab
}

// New constructs an empty arena ready for allocations.
func New() *Arena {
	return &Arena{slabSize: defaultSlabSize}
}

// Free releases all memory allocated in the arena. After the call, any
// pointer previously returned from NewValue/MakeSlice/AllocBytes is
// invalid and must not be dereferenced.
func (a *Arena) Free() {
	a.slabs = nil
}

// Bytes returns the number of bytes currently bump-allocated from this
// arena, across all of its slabs. Used by callers that need an
// approximate accounting figure (e.g. epoch slot byte budgets).
func (a *Arena) Bytes() int64 {
	var n int64
	for _, s := range a.slabs {
		n += int64(s.used)
	}
	return n
}

func (a *Arena) alloc(size, align int) unsafe.Pointer {
	if size == 0 {
		size = 1
	}
	if align < 1 {
		align = 1
	}
	if n := len(a.slabs); n > 0 {
		s := a.slabs[n-1]
		off := alignUp(s.used, align)
		if off+size <= len(s.buf) {
			s.used = off + size
			return unsafe.Pointer(&s.buf[off])
		}
	}
	size2 := a.slabSize
	if size2 < size+align {
		size2 = size + align
	}
	s := &slab{buf: make([]byte, size2)}
	s.used = size
	a.slabs = append(a.slabs, s)
	return unsafe.Pointer(&s.buf[0])
}

func alignUp(x, align int) int {
	return (x + align - 1) &^ (align - 1)
}

// NewValue allocates a zero-initialised T inside the arena and returns a
// pointer to it. The pointer is valid until Free() on the arena.
func NewValue[T any](a *Arena) *T {
	var zero T
	p := (*T)(a.alloc(int(unsafe.Sizeof(zero)), int(unsafe.Alignof(zero))))
	*p = zero
	return p
}

// MakeSlice allocates a slice of length==cap==n inside the arena and
// returns it. The backing array is owned by the arena and is released on
// Free().
func MakeSlice[T any](a *Arena, n int) []T {
	if n == 0 {
		return nil
	}
	var zero T
	p := (*T)(a.alloc(int(unsafe.Sizeof(zero))*n, int(unsafe.Alignof(zero))))
	return unsafe.Slice(p, n)
}

// AllocBytes copies buf into the arena and returns a reference to the new
// memory. Used when a page buffer needs an immutable, arena-owned copy of
// caller-supplied key/value bytes.
func AllocBytes(a *Arena, buf []byte) []byte {
	dst := MakeSlice[byte](a, len(buf))
	copy(dst, buf)
	return dst
}

// UnsafePointer converts an arena-backed pointer to unsafe.Pointer so it
// can be stored inside a tagged PageAddr.
func UnsafePointer[T any](p *T) unsafe.Pointer { return unsafe.Pointer(p) }
