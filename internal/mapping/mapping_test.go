package mapping

import (
	"testing"

	"github.com/Voskan/bwtreekv/internal/epoch"
	"github.com/Voskan/bwtreekv/internal/pagebuf"
)

func TestAllocSetGet(t *testing.T) {
	tbl := New()

	id := tbl.Alloc()
	if got := tbl.Get(id); got != pagebuf.NullAddr {
		t.Fatalf("Get(%d) after Alloc = %v, want NullAddr", id, got)
	}

	addr := pagebuf.DiskAddr(42)
	tbl.Set(id, addr)
	if got := tbl.Get(id); got != addr {
		t.Fatalf("Get(%d) = %v, want %v", id, got, addr)
	}
}

func TestCAS(t *testing.T) {
	tbl := New()
	id := tbl.Alloc()

	a := pagebuf.DiskAddr(1)
	b := pagebuf.DiskAddr(2)
	tbl.Set(id, a)

	if actual, ok := tbl.CAS(id, b, b); ok || actual != a {
		t.Fatalf("CAS with wrong expected: (actual=%v, ok=%v), want (%v, false)", actual, ok, a)
	}
	if actual, ok := tbl.CAS(id, a, b); !ok || actual != b {
		t.Fatalf("CAS with correct expected: (actual=%v, ok=%v), want (%v, true)", actual, ok, b)
	}
	if got := tbl.Get(id); got != b {
		t.Fatalf("Get(%d) after CAS = %v, want %v", id, got, b)
	}
}

func TestAllocGrowsAcrossBlocks(t *testing.T) {
	tbl := New()
	for i := 0; i < blockSize*3+7; i++ {
		id := tbl.Alloc()
		tbl.Set(id, pagebuf.DiskAddr(uint64(i)))
	}
	if got := tbl.Get(blockSize*3 + 6); got != pagebuf.DiskAddr(uint64(blockSize*3+6)) {
		t.Fatalf("Get() after growth across blocks = %v, want matching DiskAddr", got)
	}
}

func TestDeallocRecyclesAfterEpochRetires(t *testing.T) {
	tbl := New()
	mgr := epoch.NewManager()

	id := tbl.Alloc()
	tbl.Set(id, pagebuf.DiskAddr(9))

	g := mgr.Pin()
	tbl.Dealloc(id, g)
	g.Unpin()

	// Advance the epoch ring enough times to retire the deferred free.
	for i := 0; i < 4; i++ {
		mgr.Pin().Unpin()
	}

	reused := tbl.Alloc()
	if reused != id {
		t.Fatalf("Alloc() after Dealloc+retirement = %d, want reused id %d", reused, id)
	}
	if got := tbl.Get(reused); got != pagebuf.NullAddr {
		t.Fatalf("Get(%d) after reuse = %v, want NullAddr", reused, got)
	}
}
