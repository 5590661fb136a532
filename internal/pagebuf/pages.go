package pagebuf

import (
	"fmt"
	"unsafe"
)

// Page is implemented by every page record kind. Chain links are walked
// through Header().Next; Header().Kind selects which concrete type a
// PageAddr's referent must be decoded/asserted as.
type Page interface {
	Header() *Header
	// ByteSize is an approximate weight used as the page cache's charge
	// unit and as the consolidation/split size trigger.
	ByteSize() int
}

// DataEntry is one (Key, Value) pair in a DataPage, sorted descending by
// Key: newest LSN for a raw key sorts first.
type DataEntry struct {
	Key Key
	Val Value
}

// DataPage is both the base data page and a one-(or-few)-entry data
// delta; the distinction is purely how many Entries it holds and whether
// Hdr.Next is NullAddr.
type DataPage struct {
	Hdr     Header
	Entries []DataEntry
}

func (p *DataPage) Header() *Header { return &p.Hdr }

func (p *DataPage) ByteSize() int {
	n := headerFixedSize
	for _, e := range p.Entries {
		n += len(e.Key.Raw) + 8 + 1 + len(e.Val.Bytes)
	}
	return n
}

// IndexEntry is one (separator, child) pair in an IndexPage. Find-by-key
// returns the greatest separator <= target plus the next separator as an
// upper bound.
type IndexEntry struct {
	Sep   []byte
	Child IndexPtr
}

// IndexPage is both the base index page and an index delta.
type IndexPage struct {
	Hdr     Header
	Entries []IndexEntry
}

func (p *IndexPage) Header() *Header { return &p.Hdr }

func (p *IndexPage) ByteSize() int {
	n := headerFixedSize
	for _, e := range p.Entries {
		n += len(e.Sep) + 12
	}
	return n
}

// SplitPage is a delta recording a completed split awaiting parent
// reconciliation.
type SplitPage struct {
	Hdr    Header
	SepKey []byte
	Right  IndexPtr
}

func (p *SplitPage) Header() *Header { return &p.Hdr }
func (p *SplitPage) ByteSize() int   { return headerFixedSize + len(p.SepKey) + 12 }

// SwitchPage is a delta recording an address rewrite installed when a
// consolidation races a concurrent delta prepend.
type SwitchPage struct {
	Hdr Header
	Old PageAddr
	New PageAddr
}

func (p *SwitchPage) Header() *Header { return &p.Hdr }
func (p *SwitchPage) ByteSize() int   { return headerFixedSize + 16 }

const headerFixedSize = 4 + 1 + 8 + 1 + 1 + 1 // Version+Len+Next+Kind+Leaf+Locked

// CloneShallow returns a shallow copy of the header suitable for a new
// delta or base page that inherits version/leaf/locked from an existing
// head.
func (h Header) CloneShallow() Header { return h }

// FromPtr reinterprets an in-memory page pointer as its concrete Page,
// relying on every page struct's Header living at field offset zero.
// p must point at a struct that was itself built by one of this
// package's constructors (or an arena allocation of one) — the chain
// that produced p is the only thing asserting the layout invariant this
// relies on.
func FromPtr(p unsafe.Pointer) Page {
	hdr := (*Header)(p)
	switch hdr.Kind {
	case KindData:
		return (*DataPage)(p)
	case KindIndex:
		return (*IndexPage)(p)
	case KindSplit:
		return (*SplitPage)(p)
	case KindSwitch:
		return (*SwitchPage)(p)
	default:
		panic(fmt.Sprintf("pagebuf: FromPtr: unknown kind %d", hdr.Kind))
	}
}

// Deref resolves a in-memory PageAddr to its Page. Panics if !a.IsMem().
func (a PageAddr) Deref() Page {
	return FromPtr(a.Ptr())
}
