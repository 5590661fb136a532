// Package mapping implements the node-id to page-pointer mapping table: a
// two-level array of atomic 64-bit slots, growing by powers of two, with
// an intrusive free-list stack stored in the slots themselves.
//
// Blocks are grown under a mutex while reads stay lock-free. Dealloc
// hands the actual free-list push to an internal/epoch guard's Defer so
// a concurrent reader mid-traversal can never observe a slot recycled
// out from under it.
//
// © 2025 bwtreekv authors. MIT License.
package mapping

import (
	"sync"
	"sync/atomic"

	"github.com/Voskan/bwtreekv/internal/epoch"
	"github.com/Voskan/bwtreekv/internal/pagebuf"
)

const (
	blockBits = 10
	blockSize = 1 << blockBits
)

type block struct {
	slots [blockSize]atomic.Uint64
}

// freeTag marks a slot word as a free-list link rather than a live
// PageAddr. Real pointers and disk offsets built by pagebuf never set
// bit 63 on any platform this runs on, so it is safe to requisition as a
// tag bit without a side table.
const freeTag = uint64(1) << 63

func encodeFree(nextPlusOne uint64) uint64 { return freeTag | nextPlusOne }
func isFree(word uint64) bool              { return word&freeTag != 0 }
func decodeFree(word uint64) uint64        { return word &^ freeTag }

// Table is the mapping table. The zero value is not usable; construct
// with New.
type Table struct {
	mu      sync.Mutex
	dir     atomic.Pointer[[]*block]
	nextID  atomic.Uint64
	freeTop atomic.Uint64 // 0 = empty stack, else (id+1) of the top free slot
}

func New() *Table {
	t := &Table{}
	dir := make([]*block, 0)
	t.dir.Store(&dir)
	return t
}

func (t *Table) slot(id uint64) *atomic.Uint64 {
	blkIdx := id >> blockBits
	off := id & (blockSize - 1)
	dir := *t.dir.Load()
	if blkIdx >= uint64(len(dir)) {
		t.grow(blkIdx)
		dir = *t.dir.Load()
	}
	return &dir[blkIdx].slots[off]
}

func (t *Table) grow(minIdx uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	dir := *t.dir.Load()
	if minIdx < uint64(len(dir)) {
		return
	}
	newLen := uint64(1)
	for newLen <= minIdx {
		newLen <<= 1
	}
	newDir := make([]*block, newLen)
	copy(newDir, dir)
	for i := len(dir); i < len(newDir); i++ {
		newDir[i] = &block{}
	}
	t.dir.Store(&newDir)
}

// Alloc returns a fresh node id, reusing a previously Dealloc'd slot when
// the free list is non-empty, and otherwise bumping the high-water mark.
func (t *Table) Alloc() uint64 {
	for {
		top := t.freeTop.Load()
		if top == 0 {
			id := t.nextID.Add(1) - 1
			t.slot(id).Store(uint64(pagebuf.NullAddr))
			return id
		}
		id := top - 1
		word := t.slot(id).Load()
		if !isFree(word) {
			// Lost a race with another Alloc popping the same top; retry.
			continue
		}
		next := decodeFree(word)
		if t.freeTop.CompareAndSwap(top, next) {
			t.slot(id).Store(uint64(pagebuf.NullAddr))
			return id
		}
	}
}

// Set unconditionally installs addr at id.
func (t *Table) Set(id uint64, addr pagebuf.PageAddr) {
	t.slot(id).Store(uint64(addr))
}

// Get returns the address currently installed at id.
func (t *Table) Get(id uint64) pagebuf.PageAddr {
	word := t.slot(id).Load()
	if isFree(word) {
		return pagebuf.NullAddr
	}
	return pagebuf.PageAddr(word)
}

// CAS installs new at id iff the current value equals expected. On
// success it returns (new, true); on failure it returns the value
// actually found at id and false.
func (t *Table) CAS(id uint64, expected, new pagebuf.PageAddr) (actual pagebuf.PageAddr, ok bool) {
	s := t.slot(id)
	if s.CompareAndSwap(uint64(expected), uint64(new)) {
		return new, true
	}
	return pagebuf.PageAddr(s.Load()), false
}

// Dealloc returns id to the free list once guard's epoch retires,
// guaranteeing no reader mid-traversal can observe id recycled for a
// different node while it might still dereference the old address.
func (t *Table) Dealloc(id uint64, guard *epoch.Guard) {
	guard.Defer(func() {
		for {
			top := t.freeTop.Load()
			t.slot(id).Store(encodeFree(top))
			if t.freeTop.CompareAndSwap(top, id+1) {
				return
			}
		}
	})
}
