// config.go defines the internal configuration object and the set of
// functional options New accepts. Options never allocate unless
// strictly necessary; most just capture a pointer to an external object
// (registry, logger, page store).
//
// Design notes
// ------------
// • All fields are initialised with sensible defaults in defaultConfig().
// • We hide the struct from the public API: users can only influence
//   behaviour via Option. This guarantees forward compatibility.
//
// © 2025 bwtreekv authors. MIT License.
package bwtreekv

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/bwtreekv/internal/pagestore"
	"github.com/Voskan/bwtreekv/internal/tree"
)

// Option is a functional option passed to New.
type Option func(*config)

type config struct {
	treeOpts   tree.Options
	store      pagestore.Store
	registry   *prometheus.Registry
	logger     *zap.Logger
	maxRetries int
	warnAfter  int
}

func defaultConfig() *config {
	return &config{
		treeOpts:   tree.DefaultOptions(),
		logger:     zap.NewNop(),
		maxRetries: 0, // 0 means unbounded
		warnAfter:  64,
	}
}

// WithCacheSizeBytes bounds the disk-page fault cache.
func WithCacheSizeBytes(n uint64) Option {
	return func(c *config) { c.treeOpts.CacheSize = n }
}

// WithDataNodeSize sets the consolidated leaf byte size above which a
// leaf splits.
func WithDataNodeSize(n uint64) Option {
	return func(c *config) { c.treeOpts.DataNodeSize = n }
}

// WithIndexNodeSize is WithDataNodeSize's index-node counterpart.
func WithIndexNodeSize(n uint64) Option {
	return func(c *config) { c.treeOpts.IndexNodeSize = n }
}

// WithDataDeltaLength sets the delta-chain length at which a leaf locks
// for consolidation. Zero disables consolidation entirely — useful only
// for tests that want to inspect raw delta chains.
func WithDataDeltaLength(n uint8) Option {
	return func(c *config) { c.treeOpts.DataDeltaLength = n }
}

// WithIndexDeltaLength sets the index-node counterpart of
// WithDataDeltaLength. The engine does not read it: index chains are
// consolidated only at 255 links, and zero does not disable that.
func WithIndexDeltaLength(n uint8) Option {
	return func(c *config) { c.treeOpts.IndexDeltaLength = n }
}

// WithPageStore plugs a disk-backed page store (e.g. badgerstore.Store)
// so that pages can be evicted from memory and faulted back in. Without
// one, every page must stay resident for the life of the process.
func WithPageStore(store pagestore.Store) Option {
	return func(c *config) { c.store = store }
}

// WithMetrics enables Prometheus metrics collection. Passing nil disables
// metrics (the default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) { c.registry = reg }
}

// WithLogger plugs an external zap.Logger. The store never logs on the
// hot path; the only message is a Warn when one call's retries on
// ErrAgain run long.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxRetries bounds how many times the facade will retry an
// operation that keeps observing tree.ErrAgain before giving up and
// returning it to the caller. Zero (the default) means retry forever —
// ErrAgain only ever signals a structural race was observed and resolved
// by another goroutine's reconcile/consolidate, so each retry reflects
// genuine forward progress elsewhere in the tree.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

func applyOptions(opts []Option) *config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(c)
	}
	return c
}
