package pagecache

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// detachedHandle backs an entry that could not be placed in the open
// addressing table: either the probe path was exhausted, or a
// best-effort shard could not evict enough to make room.
type detachedHandle[T any] struct {
	refs     atomic.Int32
	key      uint64
	charge   int64
	value    T
	hasValue bool
}

type slotT[T any] struct {
	meta          atomic.Uint64
	hash          uint32
	displacements atomic.Int32
	key           uint64
	charge        int64
	value         T
	hasValue      bool
}

// shard is one of a Cache's 1<<numShardBits independent clock caches.
type shard[T any] struct {
	capacity      int64
	strict        bool
	usage         atomic.Int64
	occupancy     atomic.Int64
	detachedUsage atomic.Int64
	clockPointer  atomic.Uint64
	slots         []slotT[T]
	stats         *shardStats
	logger        *zap.Logger
}

func newShard[T any](capacity int64, strict bool, logger *zap.Logger) *shard[T] {
	n := chooseTableSize(capacity)
	return &shard[T]{
		capacity: capacity,
		strict:   strict,
		slots:    make([]slotT[T], n),
		stats:    &shardStats{},
		logger:   logger,
	}
}

// chooseTableSize picks the smallest power of two table size whose byte
// footprint (assuming an average entry size) fits the shard's capacity
// budget.
func chooseTableSize(capacityBytes int64) int {
	const avgEntryBytes = 256
	const minSlots = 16
	const maxSlots = 1 << 20

	want := capacityBytes / avgEntryBytes
	n := minSlots
	for int64(n) < want && n < maxSlots {
		n <<= 1
	}
	return n
}

func (s *shard[T]) probeSeq(h uint32) (base, stride, n int) {
	n = len(s.slots)
	base = int(remix1(h) % uint64(n))
	stride = int(remix2(h) % uint64(n))
	if stride == 0 {
		stride = 1
	}
	return
}

// rollback decrements the displacements counter along the probe path
// that an occupant hashed with h would have followed, stopping just
// before stopIdx. Called after a slot is freed so that lookups regain
// the ability to early-abort on displacements==0.
func (s *shard[T]) rollback(h uint32, stopIdx int) {
	base, stride, n := s.probeSeq(h)
	idx := base
	for i := 0; i < n; i++ {
		if idx == stopIdx {
			return
		}
		s.slots[idx].displacements.Add(-1)
		idx = (idx + stride) % n
	}
}

// lookup probes the open-addressing table for key.
func (s *shard[T]) lookup(key uint64) (*Entry[T], bool) {
	h := mixHash(key)
	base, stride, n := s.probeSeq(h)
	idx := base
	for i := 0; i < n; i++ {
		sl := &s.slots[idx]
		old := acquireSlot(&sl.meta)
		if metaState(old) == stateVisible && sl.key == key {
			s.stats.lookupHit.Add(1)
			return &Entry[T]{shard: s, idx: idx, key: key}, true
		}
		releaseAcquire(&sl.meta)
		if sl.displacements.Load() == 0 {
			break
		}
		idx = (idx + stride) % n
	}
	s.stats.lookupMiss.Add(1)
	return nil, false
}

// CapacityError is returned by insert under the strict policy when the
// charge cannot fit even after eviction.
type CapacityError struct{ Requested, Capacity int64 }

func (e *CapacityError) Error() string {
	return "pagecache: charge exceeds capacity"
}

// insert places (key, value) into the open-addressing table, evicting
// via the clock hand if necessary to make room.
func (s *shard[T]) insert(key uint64, value T, hasValue bool, charge int64) (*Entry[T], error) {
	n := len(s.slots)
	occ := s.occupancy.Add(1)
	needRoom := float64(occ) > StrictLoadFactor*float64(n)

	if s.strict {
		if charge > s.capacity {
			s.occupancy.Add(-1)
			return nil, &CapacityError{Requested: charge, Capacity: s.capacity}
		}
		for {
			cur := s.usage.Load()
			target := cur + charge
			if target <= s.capacity {
				if s.usage.CompareAndSwap(cur, target) {
					break
				}
				continue
			}
			shortfall := target - s.capacity
			evicted := s.evict(shortfall)
			if evicted < shortfall {
				s.occupancy.Add(-1)
				return nil, &CapacityError{Requested: charge, Capacity: s.capacity}
			}
		}
	} else {
		cur := s.usage.Load()
		if cur+charge > s.capacity && charge <= cur {
			needed := cur + charge - s.capacity
			evicted := s.evict(needed)
			if evicted == 0 {
				// Best-effort: nothing could be reclaimed, go detached.
				s.occupancy.Add(-1)
				return s.insertDetached(key, value, hasValue, charge), nil
			}
		}
		s.usage.Add(charge)
	}

	if needRoom {
		s.evict(charge)
	}

	h := mixHash(key)
	base, stride, tn := s.probeSeq(h)
	idx := base
	for i := 0; i < tn; i++ {
		sl := &s.slots[idx]
		m := sl.meta.Load()
		switch {
		case metaState(m) == stateEmpty:
			if sl.meta.CompareAndSwap(m, buildMeta(stateConstruction, 0, 0)) {
				sl.key = key
				sl.hash = h
				sl.value = value
				sl.hasValue = hasValue
				sl.charge = charge
				cd := uint32(HighCountDown)
				sl.meta.Store(buildMeta(stateVisible, cd, cd-1))
				s.stats.insert.Add(1)
				return &Entry[T]{shard: s, idx: idx, key: key}, nil
			}
			// lost the CAS race, fall through to re-probe this slot
		case isVisible(m) && sl.key == key:
			cd := uint32(HighCountDown)
			sl.meta.Add(uint64(cd))
			return &Entry[T]{shard: s, idx: idx, key: key, updateShadow: true,
				shadowValue: value, shadowHasValue: hasValue}, nil
		}
		sl.displacements.Add(1)
		idx = (idx + stride) % tn
	}

	s.occupancy.Add(-1)
	return s.insertDetached(key, value, hasValue, charge), nil
}

func (s *shard[T]) insertDetached(key uint64, value T, hasValue bool, charge int64) *Entry[T] {
	d := &detachedHandle[T]{key: key, charge: charge, value: value, hasValue: hasValue}
	d.refs.Store(1)
	s.detachedUsage.Add(charge)
	s.stats.insert.Add(1)
	return &Entry[T]{shard: s, idx: -1, key: key, detached: d}
}

// evict sweeps the clock hand to reclaim room. It returns the total
// charge reclaimed, stopping once it has reclaimed >= requested or it has
// walked MaxCountDown * table_size slots.
func (s *shard[T]) evict(requested int64) int64 {
	n := len(s.slots)
	if n == 0 {
		return 0
	}
	limit := int64(MaxCountDown) * int64(n)
	var evicted int64
	var walked int64
	for evicted < requested && walked < limit {
		idx := int(s.clockPointer.Add(StepSize)-StepSize) % n
		for step := 0; step < StepSize && evicted < requested && walked < limit; step++ {
			slotIdx := (idx + step) % n
			evicted += s.tick(slotIdx)
			walked++
		}
	}
	return evicted
}

func (s *shard[T]) tick(idx int) int64 {
	sl := &s.slots[idx]
	m := sl.meta.Load()
	if !isShareable(m) {
		return 0
	}
	acquire := metaAcquire(m)
	release := metaRelease(m)
	if refCount(acquire, release) != 0 {
		return 0
	}
	if metaState(m) != stateVisible {
		return 0
	}
	if acquire == 0 {
		// Countdown already exhausted: reclaim now.
		if !sl.meta.CompareAndSwap(m, buildMeta(stateConstruction, 0, 0)) {
			return 0
		}
		charge := sl.charge
		h := sl.hash
		sl.value = *new(T)
		sl.hasValue = false
		sl.meta.Store(stateEmpty << stateShift)
		s.occupancy.Add(-1)
		s.usage.Add(-charge)
		s.rollback(h, idx)
		s.stats.activeEvict.Add(1)
		return charge
	}
	// One clock tick: decrement both counters together (best-effort CAS).
	newAcquire := acquire - 1
	newRelease := release - 1
	sl.meta.CompareAndSwap(m, buildMeta(stateVisible, newAcquire, newRelease))
	s.stats.passiveEvict.Add(1)
	return 0
}

// release drops one live reference to a slot.
func (s *shard[T]) release(e *Entry[T], eraseIfLastRef bool) {
	if e.detached != nil {
		if e.detached.refs.Add(-1) == 0 {
			s.detachedUsage.Add(-e.detached.charge)
		}
		return
	}
	sl := &s.slots[e.idx]
	m := sl.meta.Add(1 << releaseShift) // fetch-add release, new value
	acquire := metaAcquire(m)
	release := metaRelease(m)
	last := refCount(acquire, release) == 0
	state := metaState(m)
	if last && (state == stateInvisible || (eraseIfLastRef && state == stateVisible)) {
		for {
			cur := sl.meta.Load()
			if metaState(cur) != stateInvisible && !(eraseIfLastRef && metaState(cur) == stateVisible) {
				return
			}
			if refCount(metaAcquire(cur), metaRelease(cur)) != 0 {
				return
			}
			if sl.meta.CompareAndSwap(cur, buildMeta(stateConstruction, 0, 0)) {
				break
			}
		}
		charge := sl.charge
		h := sl.hash
		sl.hasValue = false
		sl.value = *new(T)
		sl.meta.Store(stateEmpty << stateShift)
		s.occupancy.Add(-1)
		s.usage.Add(-charge)
		s.rollback(h, e.idx)
		return
	}
	// Near-overflow correction: if bit 29 is set in both counters, AND
	// away both high bits together so the mod-2^30 counters never
	// silently wrap into the state bits.
	const overflowBit = uint32(1) << (counterBits - 1)
	if acquire&overflowBit != 0 && release&overflowBit != 0 {
		for {
			cur := sl.meta.Load()
			a := metaAcquire(cur)
			r := metaRelease(cur)
			if a&overflowBit == 0 || r&overflowBit == 0 {
				return
			}
			next := buildMeta(metaState(cur), a&^overflowBit, r&^overflowBit)
			if sl.meta.CompareAndSwap(cur, next) {
				return
			}
		}
	}
}

// erase marks a slot invisible to future lookups: locate the slot by lookup
// semantics, but transition VISIBLE->INVISIBLE instead of returning a
// ref; the last outstanding release collects the slot.
func (s *shard[T]) erase(key uint64) {
	h := mixHash(key)
	base, stride, n := s.probeSeq(h)
	idx := base
	for i := 0; i < n; i++ {
		sl := &s.slots[idx]
		m := sl.meta.Load()
		if metaState(m) == stateVisible && sl.key == key {
			for {
				cur := sl.meta.Load()
				if metaState(cur) != stateVisible {
					break
				}
				next := buildMeta(stateInvisible, metaAcquire(cur), metaRelease(cur))
				if sl.meta.CompareAndSwap(cur, next) {
					if refCount(metaAcquire(next), metaRelease(next)) == 0 {
						// No outstanding references: collect immediately.
						s.collectInvisible(idx)
					}
					return
				}
			}
			return
		}
		if sl.displacements.Load() == 0 {
			return
		}
		idx = (idx + stride) % n
	}
}

func (s *shard[T]) collectInvisible(idx int) {
	sl := &s.slots[idx]
	for {
		cur := sl.meta.Load()
		if metaState(cur) != stateInvisible || refCount(metaAcquire(cur), metaRelease(cur)) != 0 {
			return
		}
		if sl.meta.CompareAndSwap(cur, buildMeta(stateConstruction, 0, 0)) {
			break
		}
	}
	charge := sl.charge
	h := sl.hash
	sl.hasValue = false
	sl.value = *new(T)
	sl.meta.Store(stateEmpty << stateShift)
	s.occupancy.Add(-1)
	s.usage.Add(-charge)
	s.rollback(h, idx)
}

func (s *shard[T]) sizeBytes() int64 { return s.usage.Load() + s.detachedUsage.Load() }
