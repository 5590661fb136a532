package tree

import (
	"context"
	"fmt"

	"github.com/Voskan/bwtreekv/internal/arena"
	"github.com/Voskan/bwtreekv/internal/epoch"
	"github.com/Voskan/bwtreekv/internal/pagebuf"
)

// consolidateData merges a leaf delta chain into a single page, then
// installs it via CAS, falling back to the switch-page protocol for the
// case a racing writer prepends further deltas above the lock point.
func (t *Tree) consolidateData(ctx context.Context, g *epoch.Guard, nodeID uint64) error {
	oldHeadAddr := t.mapping.Get(nodeID)
	head, err := t.resolve(ctx, oldHeadAddr)
	if err != nil {
		return err
	}
	defer head.release()

	merged, truncateBase, truncateAddr, version, err := mergeDataChain(ctx, t, head, oldHeadAddr)
	if err != nil {
		return err
	}

	newPage := arena.NewValue[pagebuf.DataPage](g.Arena())
	newPage.Entries = merged
	newPage.Hdr = pagebuf.Header{
		Version: version,
		Kind:    pagebuf.KindData,
		Leaf:    true,
	}
	if truncateBase != nil {
		newPage.Hdr.Len = truncateBase.Hdr.Len + 1
		newPage.Hdr.Next = truncateAddr
	} else {
		newPage.Hdr.Len = 1
		newPage.Hdr.Next = pagebuf.NullAddr
	}
	newAddr := pagebuf.MemAddr(arena.UnsafePointer(newPage))

	if _, ok := t.mapping.CAS(nodeID, oldHeadAddr, newAddr); ok {
		t.consolidations.Add(1)
		deferFreeChain(g, oldHeadAddr, truncateAddr)
		return t.maybeSplitData(ctx, g, nodeID, newAddr, newPage)
	}

	return t.switchInstall(ctx, g, nodeID, oldHeadAddr, newAddr, truncateAddr, version)
}

// switchInstall retries installing a consolidated tail under whatever
// deltas a racing writer prepended above the old lock point.
func (t *Tree) switchInstall(ctx context.Context, g *epoch.Guard, nodeID uint64, oldHeadAddr, newAddr, truncateAddr pagebuf.PageAddr, version uint32) error {
	for {
		curAddr := t.mapping.Get(nodeID)
		cur, err := t.resolve(ctx, curAddr)
		if err != nil {
			return err
		}
		curHdr := cur.page.Header()
		if curHdr.Version != version {
			cur.release()
			return ErrAgain
		}
		if !curHdr.Locked {
			// A concurrent consolidation already finished; nothing left
			// for us to do.
			cur.release()
			return nil
		}

		sw := arena.NewValue[pagebuf.SwitchPage](g.Arena())
		sw.Old = oldHeadAddr
		sw.New = newAddr
		sw.Hdr = pagebuf.Header{
			Version: version,
			Len:     curHdr.Len + 1,
			Next:    curAddr,
			Kind:    pagebuf.KindSwitch,
			Leaf:    curHdr.Leaf,
			Locked:  false,
		}
		swAddr := pagebuf.MemAddr(arena.UnsafePointer(sw))

		actual, ok := t.mapping.CAS(nodeID, curAddr, swAddr)
		cur.release()
		if ok {
			t.consolidations.Add(1)
			deferFreeChain(g, oldHeadAddr, truncateAddr)
			return nil
		}
		refetched, rerr := t.resolve(ctx, actual)
		if rerr != nil {
			return rerr
		}
		if refetched.page.Header().Version != version {
			refetched.release()
			return ErrAgain
		}
		refetched.release()
	}
}

// consolidateIndex performs the index-node counterpart: the same merge and
// install, minus the switch protocol, since index deltas only ever grow
// through reconcile (a split followed by exactly one parent delta), never
// through concurrent unordered appends a switch would need to splice
// under.
func (t *Tree) consolidateIndex(ctx context.Context, g *epoch.Guard, nodeID uint64) error {
	oldHeadAddr := t.mapping.Get(nodeID)
	head, err := t.resolve(ctx, oldHeadAddr)
	if err != nil {
		return err
	}
	defer head.release()

	merged, version, err := mergeIndexChain(ctx, t, head)
	if err != nil {
		return err
	}

	newPage := arena.NewValue[pagebuf.IndexPage](g.Arena())
	newPage.Entries = merged
	newPage.Hdr = pagebuf.Header{
		Version: version,
		Len:     1,
		Next:    pagebuf.NullAddr,
		Kind:    pagebuf.KindIndex,
		Leaf:    false,
	}
	newAddr := pagebuf.MemAddr(arena.UnsafePointer(newPage))

	actual, ok := t.mapping.CAS(nodeID, oldHeadAddr, newAddr)
	if ok {
		t.consolidations.Add(1)
		deferFreeChain(g, oldHeadAddr, pagebuf.NullAddr)
		return t.maybeSplitIndex(ctx, g, nodeID, newAddr, newPage)
	}
	refetched, rerr := t.resolve(ctx, actual)
	if rerr != nil {
		return rerr
	}
	defer refetched.release()
	if refetched.page.Header().Version != version {
		return ErrAgain
	}
	return nil
}

// deferFreeChain would reclaim the consolidated-away chain links for the
// in-memory half of a replaced chain: fromAddr up to (but not including)
// stopAddr is no longer reachable from the mapping table after this
// install, so any reader still walking it is one that had already
// resolved it before the CAS. internal/arena has no single-object free
// (it bulk-frees a whole epoch slot at once, see internal/epoch), so
// there is nothing to hand to g.Defer per link; the memory is reclaimed
// automatically once the epoch(s) that allocated it retire. Disk-backed
// links are owned by the page store and are likewise untouched here.
func deferFreeChain(g *epoch.Guard, fromAddr, stopAddr pagebuf.PageAddr) {}

// mergeDataChain walks head's chain newest-first, keeping the first
// (newest) occurrence of each (raw, lsn) pair — later occurrences further
// down the chain are shadowed duplicates from repeated prepends of the
// same logical record and never happen in this engine, but the merge is
// written to tolerate them defensively since nothing upstream guarantees
// otherwise. It also applies the "incremental consolidation" truncation:
// stop descending into the chain, keeping the remainder as next, the
// first time a base page's content is at least twice the size
// accumulated so far.
func mergeDataChain(ctx context.Context, t *Tree, head resolved, headAddr pagebuf.PageAddr) (entries []pagebuf.DataEntry, truncateBase *pagebuf.DataPage, truncateAddr pagebuf.PageAddr, version uint32, err error) {
	version = head.page.Header().Version

	type seen struct {
		raw string
		lsn uint64
	}
	seenSet := make(map[seen]struct{})

	var merged []pagebuf.DataEntry
	accumulated := 0
	rewrites := switchRewrite{}

	cur := head
	addr := headAddr
	isHead := true
	for {
		if sw, ok := cur.page.(*pagebuf.SwitchPage); ok {
			rewrites[sw.Old] = sw.New
			next := rewrites.apply(sw.Hdr.Next)
			if !isHead {
				cur.release()
			}
			if next.IsNull() {
				break
			}
			nr, rerr := t.resolve(ctx, next)
			if rerr != nil {
				return nil, nil, pagebuf.NullAddr, 0, rerr
			}
			cur = nr
			addr = next
			isHead = false
			continue
		}

		dp, ok := cur.page.(*pagebuf.DataPage)
		if !ok {
			if !isHead {
				cur.release()
			}
			return nil, nil, pagebuf.NullAddr, 0, fmt.Errorf("%w: expected data page in consolidation chain, got %s", ErrCorrupted, cur.page.Header().Kind)
		}

		if accumulated > 0 && dp.ByteSize() >= 2*accumulated {
			truncateBase = dp
			truncateAddr = addr
			if !isHead {
				cur.release()
			}
			break
		}

		for _, e := range dp.Entries {
			k := seen{raw: string(e.Key.Raw), lsn: e.Key.LSN}
			if _, dup := seenSet[k]; dup {
				continue
			}
			seenSet[k] = struct{}{}
			merged = append(merged, e)
		}
		accumulated += dp.ByteSize()

		next := rewrites.apply(dp.Hdr.Next)
		if !isHead {
			cur.release()
		}
		if next.IsNull() {
			break
		}
		nr, rerr := t.resolve(ctx, next)
		if rerr != nil {
			return nil, nil, pagebuf.NullAddr, 0, rerr
		}
		cur = nr
		addr = next
		isHead = false
	}

	sortDataEntries(merged)
	return merged, truncateBase, truncateAddr, version, nil
}

// mergeIndexChain walks an index node's full chain and merges every
// entry, newest first, keeping the newest pointer for any separator that
// appears more than once. Index chains are always consolidated to
// completion (no incremental truncation): they stay small by
// construction since each reconcile prepends exactly one bounded delta.
func mergeIndexChain(ctx context.Context, t *Tree, head resolved) (entries []pagebuf.IndexEntry, version uint32, err error) {
	version = head.page.Header().Version
	seenSep := make(map[string]struct{})
	var merged []pagebuf.IndexEntry
	rewrites := switchRewrite{}

	cur := head
	isHead := true
	for {
		if sw, ok := cur.page.(*pagebuf.SwitchPage); ok {
			rewrites[sw.Old] = sw.New
			next := rewrites.apply(sw.Hdr.Next)
			if !isHead {
				cur.release()
			}
			if next.IsNull() {
				break
			}
			nr, rerr := t.resolve(ctx, next)
			if rerr != nil {
				return nil, 0, rerr
			}
			cur = nr
			isHead = false
			continue
		}

		ip, ok := cur.page.(*pagebuf.IndexPage)
		if !ok {
			if !isHead {
				cur.release()
			}
			return nil, 0, fmt.Errorf("%w: expected index page in consolidation chain, got %s", ErrCorrupted, cur.page.Header().Kind)
		}
		for _, e := range ip.Entries {
			k := string(e.Sep)
			if _, dup := seenSep[k]; dup {
				continue
			}
			seenSep[k] = struct{}{}
			merged = append(merged, e)
		}
		next := rewrites.apply(ip.Hdr.Next)
		if !isHead {
			cur.release()
		}
		if next.IsNull() {
			break
		}
		nr, rerr := t.resolve(ctx, next)
		if rerr != nil {
			return nil, 0, rerr
		}
		cur = nr
		isHead = false
	}

	sortIndexEntries(merged)
	return merged, version, nil
}

func sortDataEntries(entries []pagebuf.DataEntry) {
	insertionSort(len(entries), func(i, j int) bool {
		return entries[i].Key.Compare(entries[j].Key) < 0
	}, func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
}

func sortIndexEntries(entries []pagebuf.IndexEntry) {
	insertionSort(len(entries), func(i, j int) bool {
		return compareRaw(entries[i].Sep, entries[j].Sep) < 0
	}, func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
}

// insertionSort is a small stable sort good enough for the bounded,
// already-mostly-sorted entry lists a consolidation merges (a handful of
// deltas on top of one sorted base). Avoids pulling in sort.Slice's
// reflection-based comparator for these hot, small-n calls.
func insertionSort(n int, less func(i, j int) bool, swap func(i, j int)) {
	for i := 1; i < n; i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			swap(j, j-1)
		}
	}
}
