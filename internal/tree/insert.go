package tree

import (
	"context"
	"fmt"

	"github.com/Voskan/bwtreekv/internal/arena"
	"github.com/Voskan/bwtreekv/internal/epoch"
	"github.com/Voskan/bwtreekv/internal/pagebuf"
)

// Put records value as the newest version of key at lsn.
func (t *Tree) Put(ctx context.Context, key []byte, lsn uint64, value []byte) error {
	return t.insert(ctx, key, lsn, value, false)
}

// Delete records a tombstone for key at lsn.
func (t *Tree) Delete(ctx context.Context, key []byte, lsn uint64) error {
	return t.insert(ctx, key, lsn, nil, true)
}

func (t *Tree) insert(ctx context.Context, key []byte, lsn uint64, value []byte, tombstone bool) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: key must not be empty", ErrInvalidArgument)
	}
	if lsn == 0 {
		return fmt.Errorf("%w: lsn must be nonzero", ErrInvalidArgument)
	}
	g := t.epochs.Pin()
	defer g.Unpin()
	return t.insertOnce(ctx, g, key, lsn, value, tombstone)
}

// insertOnce performs one attempt at building and CAS-prepending a delta
// entry onto the owning leaf's chain. It returns
// ErrAgain when a structural change (observed via a parent/child version
// mismatch during find_leaf, or via the leaf's own version changing
// underneath a racing consolidation) means the caller must restart from
// the top; it retries locally, without returning to the caller, while
// only the leaf's delta-chain head is racing (the node's version is
// unchanged), since each such retry reflects real progress made by a
// concurrent writer.
func (t *Tree) insertOnce(ctx context.Context, g *epoch.Guard, key []byte, lsn uint64, value []byte, tombstone bool) error {
	lr, err := t.findLeaf(ctx, g, key)
	if err != nil {
		return err
	}
	defer lr.head.release()

	hdr := lr.head.page.Header()
	if hdr.Len >= halfMaxChainLen {
		t.consolidateData(ctx, g, lr.leafID)
		return ErrAgain
	}

	entry := pagebuf.DataEntry{
		Key: pagebuf.Key{Raw: arena.AllocBytes(g.Arena(), key), LSN: lsn},
		Val: pagebuf.Value{Tombstone: tombstone},
	}
	if !tombstone {
		entry.Val.Bytes = arena.AllocBytes(g.Arena(), value)
	}

	curAddr := lr.headAddr
	curVersion := hdr.Version
	curLen := hdr.Len
	curLocked := hdr.Locked

	for {
		shouldConsolidate := !curLocked && t.opts.DataDeltaLength > 0 && curLen+1 >= t.opts.DataDeltaLength

		delta := arena.NewValue[pagebuf.DataPage](g.Arena())
		delta.Hdr = pagebuf.Header{
			Version: curVersion,
			Len:     curLen + 1,
			Next:    curAddr,
			Kind:    pagebuf.KindData,
			Leaf:    true,
			Locked:  curLocked || shouldConsolidate,
		}
		delta.Entries = []pagebuf.DataEntry{entry}
		newAddr := pagebuf.MemAddr(arena.UnsafePointer(delta))

		actual, ok := t.mapping.CAS(lr.leafID, curAddr, newAddr)
		if ok {
			if shouldConsolidate {
				t.consolidateData(ctx, g, lr.leafID)
			}
			return nil
		}

		t.conflicts.Add(1)
		refetched, rerr := t.resolve(ctx, actual)
		if rerr != nil {
			return rerr
		}
		rHdr := refetched.page.Header()
		if rHdr.Version != curVersion {
			refetched.release()
			return ErrAgain
		}
		curAddr = actual
		curLen = rHdr.Len
		curLocked = rHdr.Locked
		refetched.release()
	}
}
