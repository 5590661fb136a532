package pagecache

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// shardStats are the raw counters a shard accumulates; Cache.Stats sums
// them across shards.
type shardStats struct {
	lookupHit    atomic.Uint64
	lookupMiss   atomic.Uint64
	insert       atomic.Uint64
	activeEvict  atomic.Uint64
	passiveEvict atomic.Uint64
}

// Stats is a point-in-time snapshot of a Cache's counters, used by
// cmd/bwtree-inspect and pkg's metrics facade.
type Stats struct {
	LookupHit    uint64
	LookupMiss   uint64
	Insert       uint64
	ActiveEvict  uint64
	PassiveEvict uint64
	Occupancy    int64
	UsageBytes   int64
}

// AccessHint distinguishes a page fault serving a normal traversal from
// one serving a background scan, so a future policy could treat them
// differently; the clock policy in this package currently ignores it.
type AccessHint int

const (
	HintNormal AccessHint = iota
	HintScan
)

// Entry is a live reference to a cached value. Callers must call
// Release exactly once per Entry obtained from Lookup or Insert.
type Entry[T any] struct {
	shard *shard[T]
	idx   int // -1 when detached
	key   uint64

	detached *detachedHandle[T]

	// updateShadow marks that Insert found a pre-existing VISIBLE slot
	// for this key and is returning a detached, not-yet-installed view of
	// the newer value; the real replacement happens when the caller
	// erases the old key and inserts the new entry under tree-level
	// coordination (the page table CAS), not here.
	updateShadow   bool
	shadowValue    T
	shadowHasValue bool
}

// Value returns the entry's payload and whether it represents a Put
// (true) or a tombstone/empty marker (false).
func (e *Entry[T]) Value() (T, bool) {
	if e.updateShadow {
		return e.shadowValue, e.shadowHasValue
	}
	if e.detached != nil {
		return e.detached.value, e.detached.hasValue
	}
	sl := &e.shard.slots[e.idx]
	return sl.value, sl.hasValue
}

// Release returns the entry's reference; the slot stays cached for the
// clock hand to age out. ReleaseAndErase is the variant that collects it.
func (e *Entry[T]) Release() {
	e.shard.release(e, false)
}

// ReleaseAndErase returns the entry's reference and, once it is the last
// outstanding reference, collects the slot immediately instead of
// leaving it for the clock hand. Used when a caller knows a page has
// been superseded (for example, after a successful consolidation swap).
func (e *Entry[T]) ReleaseAndErase() {
	e.shard.release(e, true)
}

// Cache is a sharded, lock-free, reference-counted page cache keyed by a
// 64-bit page identifier.
type Cache[T any] struct {
	shards []*shard[T]
	mask   uint64
}

// Option configures a Cache at construction.
type Option func(*cacheConfig)

type cacheConfig struct {
	capacity  int64
	numShards int
	strict    bool
	logger    *zap.Logger
}

// WithCapacityBytes sets the cache's total byte budget, split evenly
// across shards.
func WithCapacityBytes(n int64) Option { return func(c *cacheConfig) { c.capacity = n } }

// WithShardCount sets the number of independent shards; it is rounded up
// to the next power of two.
func WithShardCount(n int) Option { return func(c *cacheConfig) { c.numShards = n } }

// WithStrictCapacity selects the strict-vs-best-effort capacity policy:
// strict enforcement fails an Insert that cannot fit even after
// eviction, rather than falling back to a detached entry.
func WithStrictCapacity(strict bool) Option { return func(c *cacheConfig) { c.strict = strict } }

// WithLogger attaches a zap logger to every shard. The shards keep it but
// emit no log messages.
func WithLogger(l *zap.Logger) Option { return func(c *cacheConfig) { c.logger = l } }

func New[T any](opts ...Option) *Cache[T] {
	cfg := cacheConfig{
		capacity:  64 << 20,
		numShards: 16,
		strict:    false,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	n := 1
	for n < cfg.numShards {
		n <<= 1
	}
	perShard := cfg.capacity / int64(n)
	if cfg.capacity%int64(n) != 0 {
		perShard++
	}
	if perShard < 1 {
		perShard = 1
	}
	c := &Cache[T]{
		shards: make([]*shard[T], n),
		mask:   uint64(n - 1),
	}
	for i := range c.shards {
		c.shards[i] = newShard[T](perShard, cfg.strict, cfg.logger)
	}
	return c
}

func (c *Cache[T]) shardFor(key uint64) *shard[T] {
	return c.shards[uint64(mixHash(key))&c.mask]
}

// Lookup returns a live reference to key's entry, or (nil, false) if not
// present.
func (c *Cache[T]) Lookup(key uint64) (*Entry[T], bool) {
	return c.shardFor(key).lookup(key)
}

// Insert installs value under key with the given charge (its approximate
// byte weight) and returns a live reference to it. If the key already has
// a VISIBLE entry, the returned Entry shadows the new value without
// replacing the existing slot; callers coordinate the actual page-table
// swap (see internal/mapping) before calling Erase on the old key.
func (c *Cache[T]) Insert(key uint64, value T, hasValue bool, charge int64) (*Entry[T], error) {
	return c.shardFor(key).insert(key, value, hasValue, charge)
}

// Erase marks key's entry invisible to future lookups; it is reclaimed
// once its last outstanding reference releases.
func (c *Cache[T]) Erase(key uint64) {
	c.shardFor(key).erase(key)
}

// Stats returns a point-in-time snapshot summed across all shards.
func (c *Cache[T]) Stats() Stats {
	var s Stats
	for _, sh := range c.shards {
		s.LookupHit += sh.stats.lookupHit.Load()
		s.LookupMiss += sh.stats.lookupMiss.Load()
		s.Insert += sh.stats.insert.Load()
		s.ActiveEvict += sh.stats.activeEvict.Load()
		s.PassiveEvict += sh.stats.passiveEvict.Load()
		s.Occupancy += sh.occupancy.Load()
		s.UsageBytes += sh.sizeBytes()
	}
	return s
}

// ShardCount reports how many independent shards the cache was built
// with, mostly useful for tests and cmd/bwtree-inspect.
func (c *Cache[T]) ShardCount() int { return len(c.shards) }
