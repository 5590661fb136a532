package bwtreekv

import (
	"context"

	"github.com/Voskan/bwtreekv/internal/tree"
)

// Iterator is a forward scan over the store's key space, visiting only
// the newest live version of each key as of the LSN it was opened with.
// The zero value is not usable; obtain one from Store.Iter.
type Iterator struct {
	inner *tree.Iterator
}

// Next advances the iterator and returns the next (key, value) pair.
// ok is false once the scan is exhausted; a non-nil error aborts the
// scan early.
func (it *Iterator) Next(ctx context.Context) (key, value []byte, ok bool, err error) {
	e, ok, err := it.inner.Next(ctx)
	if !ok || err != nil {
		return nil, nil, ok, err
	}
	return e.Key, e.Value, true, nil
}
