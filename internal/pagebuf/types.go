// Package pagebuf defines the typed, length-prefixed page records the
// tree engine and the page cache exchange: base/delta data pages,
// base/delta index pages, split records and switch records. Every page
// carries the common Header (version, chain length, next-pointer, kind,
// leaf flag, locked flag); the body varies by kind.
//
// © 2025 bwtreekv authors. MIT License.
package pagebuf

import (
	"unsafe"

	"github.com/Voskan/bwtreekv/internal/unsafehelpers"
)

// PageAddr is a tagged 64-bit address: bit 0 clear encodes an in-memory
// pointer (the upper 63 bits are the pointer value); bit 0 set encodes a
// disk offset (the upper 63 bits are the offset). Zero means
// null/terminator.
type PageAddr uint64

// NullAddr is the chain-terminating / "no parent" address.
const NullAddr PageAddr = 0

const diskTag PageAddr = 1

// MemAddr tags an in-memory page pointer as a PageAddr.
func MemAddr(p unsafe.Pointer) PageAddr {
	u := uintptr(p)
	if u&1 != 0 {
		panic("pagebuf: page pointer is not even-aligned, cannot be tagged")
	}
	return PageAddr(u)
}

// DiskAddr tags a disk offset as a PageAddr: off is shifted left one bit
// so the tag bit never collides with offset bits, and DiskOffset recovers
// it exactly. The top bit of off is lost.
func DiskAddr(off uint64) PageAddr {
	return PageAddr(off<<1) | diskTag
}

// IsNull reports whether the address is the null terminator.
func (a PageAddr) IsNull() bool { return a == NullAddr }

// IsDisk reports whether the address encodes a disk offset.
func (a PageAddr) IsDisk() bool { return a != NullAddr && a&diskTag != 0 }

// IsMem reports whether the address encodes an in-memory pointer.
func (a PageAddr) IsMem() bool { return a != NullAddr && a&diskTag == 0 }

// Ptr returns the in-memory pointer encoded by a. Panics if !a.IsMem().
func (a PageAddr) Ptr() unsafe.Pointer {
	if !a.IsMem() {
		panic("pagebuf: PageAddr does not encode an in-memory pointer")
	}
	return unsafe.Pointer(uintptr(a))
}

// DiskOffset returns the disk offset encoded by a. Panics if !a.IsDisk().
func (a PageAddr) DiskOffset() uint64 {
	if !a.IsDisk() {
		panic("pagebuf: PageAddr does not encode a disk offset")
	}
	return uint64(a) >> 1
}

// Key is (raw bytes, LSN). Ordering is raw-ascending, then LSN-descending,
// so that for a fixed raw key the newest version sorts first.
type Key struct {
	Raw []byte
	LSN uint64
}

// Compare returns <0, 0, >0 as k sorts before, equal to, or after o.
func (k Key) Compare(o Key) int {
	if c := compareBytes(k.Raw, o.Raw); c != 0 {
		return c
	}
	switch {
	case k.LSN > o.LSN:
		return -1
	case k.LSN < o.LSN:
		return 1
	default:
		return 0
	}
}

func compareBytes(a, b []byte) int {
	// Zero-copy string view purely for the comparison; safe because
	// bytes.Compare-equivalent logic never retains the string.
	as := unsafehelpers.BytesToString(a)
	bs := unsafehelpers.BytesToString(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// Value is either a Put(bytes) or a Delete tombstone.
type Value struct {
	Bytes     []byte
	Tombstone bool
}

// IsPut reports whether v carries live bytes rather than a tombstone.
func (v Value) IsPut() bool { return !v.Tombstone }

// Kind tags which page record a chain link is.
type Kind uint8

const (
	KindData Kind = iota
	KindIndex
	KindSplit
	KindSwitch
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "Data"
	case KindIndex:
		return "Index"
	case KindSplit:
		return "Split"
	case KindSwitch:
		return "Switch"
	default:
		return "Unknown"
	}
}

// Header is present on every page.
type Header struct {
	Version uint32
	Len     uint8 // chain length, including this page
	Next    PageAddr
	Kind    Kind
	Leaf    bool
	Locked  bool
}

// IndexPtr names a child node and the version the parent last observed
// for it.
type IndexPtr struct {
	ID  uint64
	Ver uint32
}

// NullIndex is the sentinel IndexPtr used as an upper-bound marker.
var NullIndex = IndexPtr{ID: 0, Ver: 0}
