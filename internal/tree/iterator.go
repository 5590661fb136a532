package tree

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// IterEntry is one live record surfaced by an Iterator: the newest
// version of a raw key as of the iterator's read LSN.
type IterEntry struct {
	Key   []byte
	Value []byte
}

// Iterator walks the tree in ascending raw-key order, visiting only the
// newest live version (as of lsn) of each raw key and skipping
// tombstones, one leaf at a time. A concurrent split of the leaf being
// read is detected (the leaf's chain head version changes across the
// read) and absorbed by re-running findLeaf for the same position: the
// iterator may re-resolve a leaf but must never skip or double-report a
// key because of it.
//
// While the caller drains the current leaf's buffer, the iterator reads
// the next leaf's chain ahead of time in a background goroutine (bounded
// by an errgroup.Group of one), so a slow page-store fault for leaf N+1
// overlaps with the caller's processing of leaf N instead of stalling it.
type Iterator struct {
	t   *Tree
	lsn uint64

	buf    []IterEntry
	bufIdx int

	nextStart []byte
	done      bool

	ahead *readAhead
}

// readAhead is the in-flight background fetch of the leaf following the
// one currently buffered. g.Wait() blocks until it completes and
// surfaces any error the fetch hit.
type readAhead struct {
	g        *errgroup.Group
	entries  []IterEntry
	rangeEnd []byte
}

// NewIterator begins a forward scan of the tree as of lsn; the same MVCC
// visibility rule that Get uses applies identically to iteration.
func (t *Tree) NewIterator(ctx context.Context, lsn uint64) (*Iterator, error) {
	it := &Iterator{t: t, lsn: lsn, nextStart: []byte{}}
	entries, rangeEnd, err := it.readOneLeafRetry(ctx, it.nextStart)
	if err != nil {
		return nil, err
	}
	it.adopt(entries, rangeEnd)
	it.kickReadAhead(ctx)
	return it, nil
}

// adopt installs a freshly read leaf's entries as the current buffer and
// advances nextStart past the leaf's range, or marks the scan done if the
// leaf had no further range.
func (it *Iterator) adopt(entries []IterEntry, rangeEnd []byte) {
	it.buf = entries
	it.bufIdx = 0
	if rangeEnd == nil {
		it.done = true
	} else {
		it.nextStart = rangeEnd
	}
}

// Next advances the iterator. ok is false once the scan is exhausted.
func (it *Iterator) Next(ctx context.Context) (IterEntry, bool, error) {
	for {
		if it.bufIdx < len(it.buf) {
			e := it.buf[it.bufIdx]
			it.bufIdx++
			return e, true, nil
		}
		if it.done {
			return IterEntry{}, false, nil
		}
		if err := it.advance(ctx); err != nil {
			return IterEntry{}, false, err
		}
	}
}

// advance adopts the already-in-flight read-ahead for the next leaf
// (blocking only if the caller drained the current buffer before the
// background fetch finished), then immediately kicks off read-ahead for
// the leaf after that one. Invariant: advance is only called while
// !it.done, and kickReadAhead is called after every adopt unless it.done,
// so it.ahead is always non-nil here.
func (it *Iterator) advance(ctx context.Context) error {
	ahead := it.ahead
	it.ahead = nil
	if err := ahead.g.Wait(); err != nil {
		return err
	}
	it.adopt(ahead.entries, ahead.rangeEnd)
	it.kickReadAhead(ctx)
	return nil
}

// kickReadAhead starts fetching the leaf at nextStart in the background.
// No-op once the scan has reached the end of the key space.
func (it *Iterator) kickReadAhead(ctx context.Context) {
	if it.done {
		return
	}
	ahead := &readAhead{}
	eg, egCtx := errgroup.WithContext(ctx)
	start := it.nextStart
	eg.Go(func() error {
		entries, rangeEnd, err := it.readOneLeafRetry(egCtx, start)
		if err != nil {
			return err
		}
		ahead.entries = entries
		ahead.rangeEnd = rangeEnd
		return nil
	})
	ahead.g = eg
	it.ahead = ahead
}

// readOneLeafRetry is readOneLeaf with Get's own ErrAgain retry
// discipline: a concurrent structural change at the target leaf restarts
// the read rather than surfacing ErrAgain to the caller.
func (it *Iterator) readOneLeafRetry(ctx context.Context, start []byte) ([]IterEntry, []byte, error) {
	for {
		entries, rangeEnd, err := it.readOneLeaf(ctx, start)
		if err != nil {
			if errors.Is(err, ErrAgain) {
				continue
			}
			return nil, nil, err
		}
		return entries, rangeEnd, nil
	}
}

func (it *Iterator) readOneLeaf(ctx context.Context, start []byte) ([]IterEntry, []byte, error) {
	g := it.t.epochs.Pin()
	defer g.Unpin()

	lr, err := it.t.findLeaf(ctx, g, start)
	if err != nil {
		return nil, nil, err
	}
	defer lr.head.release()

	merged, _, _, _, err := mergeDataChain(ctx, it.t, lr.head, lr.headAddr)
	if err != nil {
		return nil, nil, err
	}

	out := make([]IterEntry, 0, len(merged))
	var lastRaw []byte
	haveLast := false
	for _, e := range merged {
		if e.Key.LSN > it.lsn {
			continue
		}
		if haveLast && compareRaw(e.Key.Raw, lastRaw) == 0 {
			// Older version of a raw key already emitted from this merge
			// (mergeDataChain sorts raw-ascending, LSN-descending, so the
			// first entry for a raw key at or below lsn is the newest
			// visible one).
			continue
		}
		lastRaw = e.Key.Raw
		haveLast = true
		if e.Val.Tombstone {
			continue
		}
		out = append(out, IterEntry{Key: e.Key.Raw, Value: e.Val.Bytes})
	}

	return out, lr.rangeEnd, nil
}
