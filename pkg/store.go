// store.go is the public facade over internal/tree's Bw-tree engine: a
// latch-free, log-structured, MVCC key-value store. Construction wires
// the tree engine to an optional disk-backed page store and an optional
// Prometheus registry; every exported method is safe for concurrent use
// by any number of goroutines.
//
// © 2025 bwtreekv authors. MIT License.
package bwtreekv

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Voskan/bwtreekv/internal/tree"
)

// Store is a latch-free, log-structured Bw-tree key-value store. The
// zero value is not usable; construct with New.
type Store struct {
	tree    *tree.Tree
	logger  *zap.Logger
	metrics metricsSink
	cfg     *config
}

// New constructs a Store. Without WithPageStore every page stays
// memory-resident for the process lifetime; pass a disk-backed
// pagestore.Store (e.g. badgerstore.Open) to allow eviction.
func New(opts ...Option) (*Store, error) {
	cfg := applyOptions(opts)

	s := &Store{
		logger:  cfg.logger,
		metrics: newMetricsSink(cfg.registry),
		cfg:     cfg,
	}
	s.tree = tree.New(cfg.treeOpts, cfg.store, cfg.logger)
	return s, nil
}

// Put stores value under key, visible to reads at lsn' >= lsn. lsn must
// be nonzero and strictly increase for repeated writes to the same key
// that should supersede one another.
func (s *Store) Put(ctx context.Context, key []byte, lsn uint64, value []byte) error {
	s.metrics.incPut()
	return s.withRetry(ctx, "put", func() error {
		return s.tree.Put(ctx, key, lsn, value)
	})
}

// Delete records a tombstone for key at lsn: reads at lsn' >= lsn
// observe the key as absent until a later Put supersedes it.
func (s *Store) Delete(ctx context.Context, key []byte, lsn uint64) error {
	s.metrics.incDelete()
	return s.withRetry(ctx, "delete", func() error {
		return s.tree.Delete(ctx, key, lsn)
	})
}

// Get returns the value visible at lsn: the newest record with
// raw==key and LSN<=lsn, or ok==false if that record is absent or a
// tombstone.
func (s *Store) Get(ctx context.Context, key []byte, lsn uint64) ([]byte, bool, error) {
	s.metrics.incGet()
	var (
		val []byte
		ok  bool
	)
	err := s.withRetry(ctx, "get", func() error {
		v, found, err := s.tree.Get(ctx, key, lsn)
		val, ok = v, found
		return err
	})
	return val, ok, err
}

// Iter begins a forward scan in ascending key order as of lsn, visiting
// only the newest live version of each key.
func (s *Store) Iter(ctx context.Context, lsn uint64) (*Iterator, error) {
	it, err := s.tree.NewIterator(ctx, lsn)
	if err != nil {
		return nil, err
	}
	return &Iterator{inner: it}, nil
}

// Stats returns a point-in-time snapshot of engine activity counters and
// forwards the same figures to Prometheus when metrics are enabled.
func (s *Store) Stats() Stats {
	ts := s.tree.Stats()
	cs := s.tree.CacheStats()
	st := Stats{
		NumDataSplits:     ts.NumDataSplits,
		NumIndexSplits:    ts.NumIndexSplits,
		NumConsolidations: ts.NumConsolidations,
		NumReconciles:     ts.NumReconciles,
		NumAgain:          ts.NumAgain,
		NumConflicts:      ts.NumConflicts,
		CacheHits:         cs.LookupHit,
		CacheMisses:       cs.LookupMiss,
		CacheUsageBytes:   cs.UsageBytes,
		CacheOccupancy:    cs.Occupancy,
	}
	s.metrics.setEngineStats(st)
	return st
}

// Stats is Store's activity snapshot, combining the tree engine's own
// counters with the disk page cache's.
type Stats struct {
	NumDataSplits     uint64
	NumIndexSplits    uint64
	NumConsolidations uint64
	NumReconciles     uint64
	NumAgain          uint64
	NumConflicts      uint64
	CacheHits         uint64
	CacheMisses       uint64
	CacheUsageBytes   int64
	CacheOccupancy    int64
}

// withRetry runs op, retrying as long as it reports ErrAgain (a
// structural race resolved by another goroutine's reconcile or
// consolidate) up to cfg.maxRetries attempts (0 means unbounded). Once
// retries pass warnAfter the call logs once at Warn, since by that point the
// operation is contending far more than a typical workload should.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	attempts := 0
	warned := false
	for {
		err := fn()
		if err == nil || !errors.Is(err, tree.ErrAgain) {
			return err
		}
		attempts++
		s.metrics.incAgain()
		if s.cfg.maxRetries > 0 && attempts >= s.cfg.maxRetries {
			return err
		}
		if !warned && attempts >= s.cfg.warnAfter {
			warned = true
			s.logger.Warn("bwtreekv: operation retrying past threshold",
				zap.String("op", op), zap.Int("attempts", attempts))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
}
