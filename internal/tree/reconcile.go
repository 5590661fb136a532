package tree

import (
	"context"
	"errors"
	"math"

	"github.com/Voskan/bwtreekv/internal/arena"
	"github.com/Voskan/bwtreekv/internal/epoch"
	"github.com/Voskan/bwtreekv/internal/pagebuf"
)

// reconcile handles the parent-exists branch: called when
// findLeaf observes that childID's page version no longer matches
// parentID's recorded IndexPtr.Ver, meaning childID has split since
// parentID last saw it. findLeaf only ever calls this while descending
// through parentID on the way to childID, so parentID always names a
// genuine ancestor here; the "no parent" (root split) branch is detected
// separately by findLeaf before any descent begins and handled by
// reconcileRoot. Always returns either nil (reconcile installed, caller
// should retry the whole operation with ErrAgain) or an error.
func (t *Tree) reconcile(ctx context.Context, g *epoch.Guard, parentID, childID uint64, rangeStart, rangeEnd []byte) error {
	childAddr := t.mapping.Get(childID)
	child, err := t.resolve(ctx, childAddr)
	if err != nil {
		return err
	}
	defer child.release()

	sp, ok := child.page.(*pagebuf.SplitPage)
	if !ok {
		// The child moved on its own (e.g. a concurrent reconcile already
		// published this split into the parent) between findLeaf's
		// version check and here; nothing more for us to do.
		return nil
	}
	return t.reconcileParent(ctx, g, parentID, childID, sp.Hdr.Version, sp, rangeStart, rangeEnd)
}

// reconcileParent builds and CAS-prepends a three-entry Index delta onto
// parentID: (rangeStart, leftIndex-with-bumped-version), (sep,
// rightIndex), and optionally (rangeEnd, NullIndex) as an upper sentinel
// when rangeEnd is non-nil.
func (t *Tree) reconcileParent(ctx context.Context, g *epoch.Guard, parentID, childID uint64, leftVer uint32, sp *pagebuf.SplitPage, rangeStart, rangeEnd []byte) error {
	for {
		parentAddr := t.mapping.Get(parentID)
		parent, err := t.resolve(ctx, parentAddr)
		if err != nil {
			return err
		}
		parentHdr := parent.page.Header()

		if parentHdr.Len >= math.MaxUint8 {
			parent.release()
			if cerr := t.consolidateIndex(ctx, g, parentID); cerr != nil && !errors.Is(cerr, ErrAgain) {
				return cerr
			}
			return ErrAgain
		}

		entries := []pagebuf.IndexEntry{
			{Sep: arena.AllocBytes(g.Arena(), rangeStart), Child: pagebuf.IndexPtr{ID: childID, Ver: leftVer}},
			{Sep: arena.AllocBytes(g.Arena(), sp.SepKey), Child: sp.Right},
		}
		if rangeEnd != nil {
			entries = append(entries, pagebuf.IndexEntry{
				Sep:   arena.AllocBytes(g.Arena(), rangeEnd),
				Child: pagebuf.NullIndex,
			})
		}

		delta := arena.NewValue[pagebuf.IndexPage](g.Arena())
		delta.Entries = entries
		delta.Hdr = pagebuf.Header{
			Version: parentHdr.Version,
			Len:     parentHdr.Len + 1,
			Next:    parentAddr,
			Kind:    pagebuf.KindIndex,
			Leaf:    false,
		}
		newAddr := pagebuf.MemAddr(arena.UnsafePointer(delta))

		actual, ok := t.mapping.CAS(parentID, parentAddr, newAddr)
		parent.release()
		if ok {
			t.reconciles.Add(1)
			return nil
		}

		t.conflicts.Add(1)
		refetched, rerr := t.resolve(ctx, actual)
		if rerr != nil {
			return rerr
		}
		if refetched.page.Header().Version != parentHdr.Version {
			refetched.release()
			return ErrAgain
		}
		refetched.release()
	}
}

// reconcileRoot handles the case where the node that split has no parent
// (it was the root): allocate a new id for the old root's content, move
// the split chain there, and install a fresh two-entry root over
// (emptyKey -> left, sep -> right).
func (t *Tree) reconcileRoot(g *epoch.Guard, rootAsChildID uint64, rootAddr pagebuf.PageAddr, sp *pagebuf.SplitPage, leftVer uint32) error {
	leftID := t.mapping.Alloc()
	t.mapping.Set(leftID, rootAddr)

	newRoot := arena.NewValue[pagebuf.IndexPage](g.Arena())
	newRoot.Entries = []pagebuf.IndexEntry{
		{Sep: []byte{}, Child: pagebuf.IndexPtr{ID: leftID, Ver: leftVer}},
		{Sep: append([]byte(nil), sp.SepKey...), Child: sp.Right},
	}
	newRoot.Hdr = pagebuf.Header{
		Version: 1,
		Len:     1,
		Next:    pagebuf.NullAddr,
		Kind:    pagebuf.KindIndex,
		Leaf:    false,
	}
	newRootAddr := pagebuf.MemAddr(arena.UnsafePointer(newRoot))

	newRootID := t.mapping.Alloc()
	t.mapping.Set(newRootID, newRootAddr)

	if !t.rootID.CompareAndSwap(rootAsChildID, newRootID) {
		// Someone else already promoted a new root (e.g. both halves of a
		// concurrent race noticed the same split); nothing more to do,
		// the other promotion already makes findLeaf consistent again.
		return nil
	}
	t.reconciles.Add(1)
	return nil
}
