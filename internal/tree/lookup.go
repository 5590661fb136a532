package tree

import (
	"context"
	"errors"
	"fmt"

	"github.com/Voskan/bwtreekv/internal/epoch"
	"github.com/Voskan/bwtreekv/internal/pagebuf"
)

// Get returns (value, true, nil) iff the newest record with raw==key and
// LSN<=lsn is a Put.
func (t *Tree) Get(ctx context.Context, key []byte, lsn uint64) ([]byte, bool, error) {
	if len(key) == 0 {
		return nil, false, fmt.Errorf("%w: key must not be empty", ErrInvalidArgument)
	}
	for {
		g := t.epochs.Pin()
		v, found, err := t.getOnce(ctx, g, key, lsn)
		g.Unpin()
		if errors.Is(err, ErrAgain) {
			t.agains.Add(1)
			continue
		}
		return v, found, err
	}
}

func (t *Tree) getOnce(ctx context.Context, g *epoch.Guard, key []byte, lsn uint64) ([]byte, bool, error) {
	lr, err := t.findLeaf(ctx, g, key)
	if err != nil {
		return nil, false, err
	}
	defer lr.head.release()
	return t.lookupValue(ctx, lr.head, key, lsn)
}

// lookupValue walks a leaf's delta chain: entries are
// ordered raw-ascending then LSN-descending both within a page and
// across the newest-first chain, so the first entry whose raw matches
// and whose LSN is <= the read LSN is the MVCC answer; a tombstone there
// means the key is logically absent as of lsn.
func (t *Tree) lookupValue(ctx context.Context, head resolved, raw []byte, lsn uint64) ([]byte, bool, error) {
	cur := head
	isHead := true
	rewrites := switchRewrite{}
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
				return nil, false, err
			}
			cur = nr
			isHead = false
			continue
		}

		dp, ok := cur.page.(*pagebuf.DataPage)
		if !ok {
			if !isHead {
				cur.release()
			}
			return nil, false, fmt.Errorf("%w: expected data page, got %s", ErrCorrupted, cur.page.Header().Kind)
		}

		for _, e := range dp.Entries {
			if compareRaw(e.Key.Raw, raw) != 0 {
				continue
			}
			if e.Key.LSN > lsn {
				continue
			}
			val := e.Val
			if !isHead {
				cur.release()
			}
			if val.Tombstone {
				return nil, false, nil
			}
			return val.Bytes, true, nil
		}

		next := rewrites.apply(dp.Hdr.Next)
		if !isHead {
			cur.release()
		}
		if next.IsNull() {
			break
		}
		nr, err := t.resolve(ctx, next)
		if err != nil {
			return nil, false, err
		}
		cur = nr
		isHead = false
	}
	return nil, false, nil
}
