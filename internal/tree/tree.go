// Package tree implements the latch-free, log-structured Bw-tree engine:
// delta chains addressed through a mapping table, cooperative
// consolidation with a switch-page protocol for racing writers, and
// epoch-based reclamation of retired chain links.
//
// Grounded in concurrency shape on the page cache's shard/meta-word design
// (internal/pagecache) and in file/package organization on
// ryogrid-bltree-go-for-embedding's bltree.go + bufmgr.go split (a
// buffer-manager collaborator underneath a tree engine that only ever
// touches node ids, never raw pointers, except here the "buffer manager"
// is internal/mapping + internal/pagecache + internal/pagestore together).
//
// © 2025 bwtreekv authors. MIT License.
package tree

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Voskan/bwtreekv/internal/arena"
	"github.com/Voskan/bwtreekv/internal/epoch"
	"github.com/Voskan/bwtreekv/internal/mapping"
	"github.com/Voskan/bwtreekv/internal/pagebuf"
	"github.com/Voskan/bwtreekv/internal/pagecache"
	"github.com/Voskan/bwtreekv/internal/pagestore"
)

// maxChainLen bounds a delta chain's length to a single byte: a chain walk
// must terminate within this many steps, and a parent's chain length
// reaching it forces a consolidation before any further reconcile delta
// is prepended.
const maxChainLen = 255

// halfMaxChainLen is the point at which insert refuses to grow a node's
// chain further and instead triggers consolidation.
const halfMaxChainLen = maxChainLen / 2

// Options are the tunables recognised by the core engine.
type Options struct {
	// CacheSize bounds the disk-page fault cache in bytes. Zero selects a
	// conservative default; math.MaxUint64 disables eviction entirely.
	CacheSize uint64
	// DataNodeSize is the consolidated-page byte size above which a leaf
	// splits.
	DataNodeSize uint64
	// DataDeltaLength is the delta-chain length at which a leaf is
	// locked for consolidation. Zero disables consolidation.
	DataDeltaLength uint8
	// IndexNodeSize is the consolidated-page byte size above which an
	// index node splits.
	IndexNodeSize uint64
	// IndexDeltaLength is stored but not read by the engine: an index
	// chain is consolidated only when reconcile finds it at 255 links,
	// whatever this value is, and zero does not disable that.
	IndexDeltaLength uint8
}

// DefaultOptions returns sane defaults for an in-process, moderate-size
// workload.
func DefaultOptions() Options {
	return Options{
		CacheSize:        64 << 20,
		DataNodeSize:     8 << 10,
		DataDeltaLength:  8,
		IndexNodeSize:    8 << 10,
		IndexDeltaLength: 8,
	}
}

// Stats are monotonic counters describing tree activity; surfaced by
// pkg's metrics facade.
type Stats struct {
	NumDataSplits     uint64
	NumIndexSplits    uint64
	NumConsolidations uint64
	NumReconciles     uint64
	NumAgain          uint64
	NumConflicts      uint64
}

// Tree is the Bw-tree engine. The zero value is not usable; construct
// with New.
type Tree struct {
	mapping *mapping.Table
	epochs  *epoch.Manager
	cache   *pagecache.Cache[pagebuf.Page]
	store   pagestore.Store
	opts    Options
	logger  *zap.Logger

	rootID atomic.Uint64

	dataSplits     atomic.Uint64
	indexSplits    atomic.Uint64
	consolidations atomic.Uint64
	agains         atomic.Uint64
	reconciles     atomic.Uint64
	conflicts      atomic.Uint64
}

// New constructs an empty tree: a single empty leaf installed as the
// root. store may be nil, in which case every node must stay resident in
// memory (no page address is ever tagged as a disk offset).
func New(opts Options, store pagestore.Store, logger *zap.Logger) *Tree {
	if logger == nil {
		logger = zap.NewNop()
	}
	cacheCap := opts.CacheSize
	if cacheCap == 0 {
		cacheCap = DefaultOptions().CacheSize
	}
	t := &Tree{
		mapping: mapping.New(),
		epochs:  epoch.NewManager(),
		store:   store,
		opts:    opts,
		logger:  logger,
	}
	t.cache = pagecache.New[pagebuf.Page](
		pagecache.WithCapacityBytes(clampCacheCap(cacheCap)),
		pagecache.WithLogger(logger),
	)

	g := t.epochs.Pin()
	defer g.Unpin()

	rootID := t.mapping.Alloc()
	root := arena.NewValue[pagebuf.DataPage](g.Arena())
	root.Hdr = pagebuf.Header{Version: 1, Kind: pagebuf.KindData, Leaf: true}
	t.mapping.Set(rootID, pagebuf.MemAddr(arena.UnsafePointer(root)))
	t.rootID.Store(rootID)

	return t
}

func clampCacheCap(n uint64) int64 {
	const maxInt64 = uint64(1<<63 - 1)
	if n > maxInt64 {
		return int64(maxInt64)
	}
	return int64(n)
}

// Stats returns a point-in-time snapshot of the tree's activity
// counters.
func (t *Tree) Stats() Stats {
	return Stats{
		NumDataSplits:     t.dataSplits.Load(),
		NumIndexSplits:    t.indexSplits.Load(),
		NumConsolidations: t.consolidations.Load(),
		NumAgain:          t.agains.Load(),
		NumReconciles:     t.reconciles.Load(),
		NumConflicts:      t.conflicts.Load(),
	}
}

// CacheStats exposes the disk-page fault cache's own counters, mostly
// for cmd/bwtree-inspect.
func (t *Tree) CacheStats() pagecache.Stats { return t.cache.Stats() }

// Pin begins an epoch guard for one tree operation.
func (t *Tree) Pin() *epoch.Guard { return t.epochs.Pin() }
