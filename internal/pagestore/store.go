// Package pagestore defines the out-of-core page store contract the
// tree engine consumes: a Store turns a disk-resident PageAddr into the
// in-memory Page it names, without the tree engine knowing or caring how
// pages are actually persisted.
//
// © 2025 bwtreekv authors. MIT License.
package pagestore

import (
	"context"

	"github.com/Voskan/bwtreekv/internal/epoch"
	"github.com/Voskan/bwtreekv/internal/pagebuf"
)

// PageInfo is the lightweight metadata a Store can return about a disk
// address without paging in the full page body.
type PageInfo struct {
	ByteSize int
	Kind     pagebuf.Kind
}

// Store is the page store contract consumed by internal/tree. Concrete
// implementations (for example internal/pagestore/badgerstore) own the
// actual persistence mechanism.
type Store interface {
	// LoadPage resolves a disk-resident PageAddr to its decoded Page.
	LoadPage(ctx context.Context, diskAddr uint64) (pagebuf.Page, error)
	// PageInfo returns metadata for diskAddr without a full decode, when
	// cheaply available.
	PageInfo(diskAddr uint64) (PageInfo, bool)
	// Guard pins the store's own epoch domain for the duration of a
	// read; callers defer frees of any buffers borrowed from the store
	// through it.
	Guard() *epoch.Guard
	// MinLSN/SetMinLSN track the oldest LSN the store must still be able
	// to answer for, letting a future compaction drop older versions.
	MinLSN() uint64
	SetMinLSN(uint64)
	// Close releases the store's underlying resources.
	Close() error
}
