package tree

import (
	"context"
	"fmt"

	"github.com/Voskan/bwtreekv/internal/epoch"
	"github.com/Voskan/bwtreekv/internal/pagebuf"
	"github.com/Voskan/bwtreekv/internal/pagecache"
)

// resolved is a page dereferenced from a PageAddr, plus the cache entry
// backing it when the address was disk-resident. Callers that receive a
// resolved must call release() exactly once.
type resolved struct {
	page  pagebuf.Page
	entry *pagecache.Entry[pagebuf.Page]
}

// switchRewrite accumulates the (Old -> New) splices a SwitchPage records
// as a chain walker crosses it, so that a later next pointer equal to Old
// resolves to New instead — this is what lets a consolidation race hand
// off a stale suffix to its consolidated replacement without the walker
// having to restart. More than one switch can stack if consolidations
// race repeatedly, so apply follows the chain of rewrites rather than
// doing a single lookup.
type switchRewrite map[pagebuf.PageAddr]pagebuf.PageAddr

func (sr switchRewrite) apply(addr pagebuf.PageAddr) pagebuf.PageAddr {
	for i := 0; i <= len(sr); i++ {
		next, ok := sr[addr]
		if !ok {
			return addr
		}
		addr = next
	}
	return addr
}

func (r resolved) release() {
	if r.entry != nil {
		r.entry.Release()
	}
}

// resolve dereferences addr to its Page, faulting it in through the
// store and the disk-page cache when addr is disk-resident.
func (t *Tree) resolve(ctx context.Context, addr pagebuf.PageAddr) (resolved, error) {
	if addr.IsNull() {
		return resolved{}, fmt.Errorf("%w: dereferenced a null page address", ErrCorrupted)
	}
	if addr.IsMem() {
		return resolved{page: addr.Deref()}, nil
	}

	diskAddr := addr.DiskOffset()
	if e, ok := t.cache.Lookup(diskAddr); ok {
		p, _ := e.Value()
		return resolved{page: p, entry: e}, nil
	}
	if t.store == nil {
		return resolved{}, fmt.Errorf("%w: disk-resident page address with no page store configured", ErrIO)
	}
	p, err := t.store.LoadPage(ctx, diskAddr)
	if err != nil {
		return resolved{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	e, err := t.cache.Insert(diskAddr, p, true, int64(p.ByteSize()))
	if err != nil {
		// Strict-capacity cache refused to hold it; the page is still
		// usable for this one call, it just won't be remembered.
		return resolved{page: p}, nil
	}
	return resolved{page: p, entry: e}, nil
}

// leafResult is what findLeaf returns: the leaf node, its currently
// observed head address, and the [rangeStart, rangeEnd) key range the
// leaf owns according to its parent (rangeEnd == nil means unbounded).
type leafResult struct {
	leafID     uint64
	headAddr   pagebuf.PageAddr
	head       resolved
	hasParent  bool
	parentID   uint64
	rangeStart []byte
	rangeEnd   []byte
}

// findLeaf descends from the root to the leaf owning raw. On a version
// mismatch it kicks off a reconcile and returns ErrAgain; the caller is
// expected to restart the whole operation.
func (t *Tree) findLeaf(ctx context.Context, g *epoch.Guard, raw []byte) (*leafResult, error) {
	id := t.rootID.Load()
	headAddr := t.mapping.Get(id)
	cur, err := t.resolve(ctx, headAddr)
	if err != nil {
		return nil, err
	}

	if cur.page.Header().Kind == pagebuf.KindSplit {
		// The root itself split and has not yet been reconciled into a
		// fresh two-entry root (the "no parent exists" case).
		sp := cur.page.(*pagebuf.SplitPage)
		cur.release()
		if rerr := t.reconcileRoot(g, id, headAddr, sp, sp.Hdr.Version); rerr != nil {
			return nil, rerr
		}
		return nil, ErrAgain
	}

	var parentID uint64
	hasParent := false
	rangeStart := []byte{}
	var rangeEnd []byte

	for {
		if cur.page.Header().Leaf {
			return &leafResult{
				leafID:     id,
				headAddr:   headAddr,
				head:       cur,
				hasParent:  hasParent,
				parentID:   parentID,
				rangeStart: rangeStart,
				rangeEnd:   rangeEnd,
			}, nil
		}

		ptr, newStart, newEnd, err := t.lookupIndex(ctx, cur, raw)
		if err != nil {
			return nil, err
		}

		childAddr := t.mapping.Get(ptr.ID)
		child, err := t.resolve(ctx, childAddr)
		if err != nil {
			return nil, err
		}
		if child.page.Header().Version != ptr.Ver {
			child.release()
			if rerr := t.reconcile(ctx, g, id, ptr.ID, rangeStart, rangeEnd); rerr != nil {
				return nil, rerr
			}
			return nil, ErrAgain
		}

		parentID = id
		hasParent = true
		id = ptr.ID
		headAddr = childAddr
		cur = child
		rangeStart = newStart
		rangeEnd = newEnd
	}
}

// lookupIndex walks an index node's delta chain (newest link first,
// which is how the chain is built) to find the greatest separator <=
// raw, plus the next-greater separator as an upper bound. head is not
// released; every chain link after it is.
func (t *Tree) lookupIndex(ctx context.Context, head resolved, raw []byte) (pagebuf.IndexPtr, []byte, []byte, error) {
	var bestPtr pagebuf.IndexPtr
	var bestSep, nextSep []byte
	haveBest := false
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
			nr, err := t.resolve(ctx, next)
			if err != nil {
				return bestPtr, nil, nil, err
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
			return bestPtr, nil, nil, fmt.Errorf("%w: expected index page, got %s", ErrCorrupted, cur.page.Header().Kind)
		}

		for _, e := range ip.Entries {
			if compareRaw(e.Sep, raw) <= 0 {
				if !haveBest || compareRaw(e.Sep, bestSep) > 0 {
					bestSep = e.Sep
					bestPtr = e.Child
					haveBest = true
				}
			} else if nextSep == nil || compareRaw(e.Sep, nextSep) < 0 {
				nextSep = e.Sep
			}
		}

		next := rewrites.apply(ip.Hdr.Next)
		if !isHead {
			cur.release()
		}
		if next.IsNull() {
			break
		}
		nr, err := t.resolve(ctx, next)
		if err != nil {
			return bestPtr, nil, nil, err
		}
		cur = nr
		isHead = false
	}

	if !haveBest {
		return bestPtr, nil, nil, fmt.Errorf("%w: index chain has no entry covering the lookup key", ErrCorrupted)
	}
	return bestPtr, bestSep, nextSep, nil
}
