package tree

import (
	"context"

	"github.com/Voskan/bwtreekv/internal/arena"
	"github.com/Voskan/bwtreekv/internal/epoch"
	"github.com/Voskan/bwtreekv/internal/pagebuf"
)

// maybeSplitData splits a freshly consolidated data page in half on the
// key axis once its size exceeds DataNodeSize. page must be the page
// just installed at nodeAddr by consolidateData.
func (t *Tree) maybeSplitData(ctx context.Context, g *epoch.Guard, nodeID uint64, nodeAddr pagebuf.PageAddr, page *pagebuf.DataPage) error {
	if t.opts.DataNodeSize == 0 || uint64(page.ByteSize()) <= t.opts.DataNodeSize {
		return nil
	}
	if page.Hdr.Next != pagebuf.NullAddr {
		// Only a page that is the sole link of its chain is split.
		return nil
	}
	if len(page.Entries) < 2 {
		// Nothing left to split; a single giant record just has to stay
		// oversized.
		return nil
	}

	mid := len(page.Entries) / 2
	leftEntries := page.Entries[:mid]
	rightEntries := page.Entries[mid:]
	sepKey := rightEntries[0].Key.Raw

	rightID := t.mapping.Alloc()
	rightPage := arena.NewValue[pagebuf.DataPage](g.Arena())
	rightPage.Entries = append([]pagebuf.DataEntry(nil), rightEntries...)
	rightPage.Hdr = pagebuf.Header{
		Version: 1,
		Len:     1,
		Next:    pagebuf.NullAddr,
		Kind:    pagebuf.KindData,
		Leaf:    true,
	}
	t.mapping.Set(rightID, pagebuf.MemAddr(arena.UnsafePointer(rightPage)))

	leftPage := arena.NewValue[pagebuf.DataPage](g.Arena())
	leftPage.Entries = append([]pagebuf.DataEntry(nil), leftEntries...)
	leftPage.Hdr = pagebuf.Header{
		Version: page.Hdr.Version,
		Len:     page.Hdr.Len,
		Next:    page.Hdr.Next,
		Kind:    pagebuf.KindData,
		Leaf:    true,
	}
	leftAddr := pagebuf.MemAddr(arena.UnsafePointer(leftPage))

	split := arena.NewValue[pagebuf.SplitPage](g.Arena())
	split.SepKey = sepKey
	split.Right = pagebuf.IndexPtr{ID: rightID, Ver: 1}
	split.Hdr = pagebuf.Header{
		Version: page.Hdr.Version + 1,
		Len:     page.Hdr.Len + 1,
		Next:    leftAddr,
		Kind:    pagebuf.KindSplit,
		Leaf:    true,
	}
	splitAddr := pagebuf.MemAddr(arena.UnsafePointer(split))

	if _, ok := t.mapping.CAS(nodeID, nodeAddr, splitAddr); !ok {
		// Someone else mutated the node between our consolidation install
		// and this split attempt; leave the split for a future
		// consolidation pass rather than clobbering fresh work.
		return nil
	}
	t.dataSplits.Add(1)
	return nil
}

// maybeSplitIndex is maybeSplitData's index-node counterpart.
func (t *Tree) maybeSplitIndex(ctx context.Context, g *epoch.Guard, nodeID uint64, nodeAddr pagebuf.PageAddr, page *pagebuf.IndexPage) error {
	if t.opts.IndexNodeSize == 0 || uint64(page.ByteSize()) <= t.opts.IndexNodeSize {
		return nil
	}
	if len(page.Entries) < 2 {
		return nil
	}

	mid := len(page.Entries) / 2
	leftEntries := page.Entries[:mid]
	rightEntries := page.Entries[mid:]
	sepKey := rightEntries[0].Sep

	rightID := t.mapping.Alloc()
	rightPage := arena.NewValue[pagebuf.IndexPage](g.Arena())
	rightPage.Entries = append([]pagebuf.IndexEntry(nil), rightEntries...)
	rightPage.Hdr = pagebuf.Header{
		Version: 1,
		Len:     1,
		Next:    pagebuf.NullAddr,
		Kind:    pagebuf.KindIndex,
		Leaf:    false,
	}
	t.mapping.Set(rightID, pagebuf.MemAddr(arena.UnsafePointer(rightPage)))

	leftPage := arena.NewValue[pagebuf.IndexPage](g.Arena())
	leftPage.Entries = append([]pagebuf.IndexEntry(nil), leftEntries...)
	leftPage.Hdr = pagebuf.Header{
		Version: page.Hdr.Version,
		Len:     page.Hdr.Len,
		Next:    page.Hdr.Next,
		Kind:    pagebuf.KindIndex,
		Leaf:    false,
	}
	leftAddr := pagebuf.MemAddr(arena.UnsafePointer(leftPage))

	split := arena.NewValue[pagebuf.SplitPage](g.Arena())
	split.SepKey = sepKey
	split.Right = pagebuf.IndexPtr{ID: rightID, Ver: 1}
	split.Hdr = pagebuf.Header{
		Version: page.Hdr.Version + 1,
		Len:     page.Hdr.Len + 1,
		Next:    leftAddr,
		Kind:    pagebuf.KindSplit,
		Leaf:    false,
	}
	splitAddr := pagebuf.MemAddr(arena.UnsafePointer(split))

	if _, ok := t.mapping.CAS(nodeID, nodeAddr, splitAddr); !ok {
		return nil
	}
	t.indexSplits.Add(1)
	return nil
}
