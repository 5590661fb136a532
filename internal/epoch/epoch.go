// Package epoch implements the epoch-based reclamation service the tree
// engine depends on: Pin() returns a Guard, Guard.Defer(fn) schedules fn
// to run only once every guard pinned at or before the call has retired,
// and Guard.Repin() lets a long-lived traversal advance to the current
// epoch without losing its reservation.
//
// The design rotates a fixed ring of epochs and freezes *deferred
// reclamation closures* (plus the arena they allocated from) in a dying
// epoch until every guard that could have observed its pages has
// retired — a pinned-guard-count quiescence check drives rotation rather
// than a byte budget or a TTL window, which is the correctness condition
// the tree actually needs.
//
// Go has no Drop, so a Guard cannot unpin itself implicitly when it goes
// out of scope. Callers MUST call Guard.Unpin() (typically via defer)
// when they are done; this is the idiomatic Go substitute for an RAII
// guard.
//
// © 2025 bwtreekv authors. MIT License.
package epoch

import (
	"sync"
	"sync/atomic"

	"github.com/Voskan/bwtreekv/internal/arena"
)

// numSlots is the size of the epoch ring. Three slots is the minimum that
// lets the reclaimer always keep one full epoch of safety margin between
// the epoch a guard is pinned at and the epoch whose garbage is being
// freed, matching the classic crossbeam-style three-phase scheme.
const numSlots = 3

type slot struct {
	pinned   atomic.Int64
	mu       sync.Mutex
	deferred []func()
	ar       *arena.Arena
}

func newSlot() *slot {
	return &slot{ar: arena.New()}
}

func (s *slot) reset() {
	s.mu.Lock()
	fns := s.deferred
	s.deferred = nil
	oldAr := s.ar
	s.ar = arena.New()
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	if oldAr != nil {
		oldAr.Free()
	}
}

// Manager owns the epoch ring. It is safe for concurrent use.
type Manager struct {
	global atomic.Uint64
	slots  [numSlots]*slot
}

// NewManager constructs a Manager at epoch 0.
func NewManager() *Manager {
	m := &Manager{}
	for i := range m.slots {
		m.slots[i] = newSlot()
	}
	return m
}

// Pin registers the calling goroutine as observing the current epoch and
// returns a Guard representing that reservation. The Guard must
// eventually be released with Unpin.
func (m *Manager) Pin() *Guard {
	e := m.global.Load()
	m.slots[e%numSlots].pinned.Add(1)
	return &Guard{mgr: m, epoch: e}
}

// tryAdvance attempts to move the global epoch forward by one. It only
// succeeds when the slot that would be recycled (the one numSlots-1
// epochs behind the *next* epoch, i.e. the oldest slot not currently
// reachable by any guard pinned at the current or next epoch) has no
// pinned guards left.
func (m *Manager) tryAdvance() {
	e := m.global.Load()
	next := e + 1
	recycle := next + 1 // == next - (numSlots-1) mod numSlots, the stale slot
	idx := recycle % numSlots
	if m.slots[idx].pinned.Load() != 0 {
		return
	}
	if !m.global.CompareAndSwap(e, next) {
		return
	}
	m.slots[idx].reset()
}

// Guard is a single pinned reservation against the epoch ring. It is not
// safe for concurrent use by multiple goroutines; each goroutine should
// hold its own Guard.
type Guard struct {
	mgr   *Manager
	epoch uint64
}

// Epoch returns the epoch this guard is currently pinned at. Page store
// implementations may use it to decide how far MinLSN can safely advance.
func (g *Guard) Epoch() uint64 { return g.epoch }

// Defer schedules fn to run only after every guard that could have been
// pinned at g's epoch (or earlier) has retired. fn must not block and
// must not itself call into the tree engine.
func (g *Guard) Defer(fn func()) {
	s := g.mgr.slots[g.epoch%numSlots]
	s.mu.Lock()
	s.deferred = append(s.deferred, fn)
	s.mu.Unlock()
}

// Arena returns the bump allocator backing the epoch this guard is
// currently pinned at. Pages built while holding this guard should be
// allocated from it so that Defer'd reclamation of the whole epoch is a
// cheap arena.Free() rather than N individual frees.
func (g *Guard) Arena() *arena.Arena {
	return g.mgr.slots[g.epoch%numSlots].ar
}

// Repin re-observes the current global epoch, releasing the guard's hold
// on its previous epoch and attempting to advance the ring. Long-lived
// traversals (e.g. the forward iterator) call this between steps so that
// reclamation is not held up by one slow scan.
func (g *Guard) Repin() {
	cur := g.mgr.global.Load()
	if cur == g.epoch {
		g.mgr.tryAdvance()
		return
	}
	g.mgr.slots[g.epoch%numSlots].pinned.Add(-1)
	g.mgr.slots[cur%numSlots].pinned.Add(1)
	g.epoch = cur
	g.mgr.tryAdvance()
}

// Unpin releases the guard's reservation. It is the idiomatic-Go
// substitute for an implicit Drop; callers must invoke it (typically via
// defer) exactly once per Pin.
func (g *Guard) Unpin() {
	g.mgr.slots[g.epoch%numSlots].pinned.Add(-1)
	g.mgr.tryAdvance()
}
