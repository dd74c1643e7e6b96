// Package epoch implements epoch based reclamation for memory the Go garbage collector cannot
// protect: pooled region buffers, memory mapped segments and open files.
//
// Accessors pin the current epoch before they load an address from shared structures and unpin
// when they are done with everything that address points to. Whoever unlinks an object from
// shared structures hands its destructor to Defer. The destructor runs once every accessor that
// could still observe the object has unpinned.
//
// Guarantee: a destructor deferred while the global epoch is E never runs while a guard pinned at
// an epoch <= E is held. A guard held for a long time stalls reclamation but never breaks
// correctness.
package epoch

import (
	"runtime"
	"sync/atomic"
)

// DefaultSlots is the default number of concurrently pinned guards
const DefaultSlots = 256

// slot publishes the epoch one accessor is pinned at, 0 means free.
// Padded to a cache line so pins on different cores do not contend.
type slot struct {
	epoch atomic.Uint64
	_     [56]byte
}

// retired is an entry of the deferred destructor stack
type retired struct {
	fn    func()
	epoch uint64
	next  *retired
}

// Manager owns the global epoch, the pin table and the deferred destructors of one engine.
//
// Thread-safety: all methods are safe for concurrent use.
type Manager struct {
	global atomic.Uint64
	slots  []slot
	hint   atomic.Uint32

	deferred     atomic.Pointer[retired] // Treiber stack
	pending      atomic.Int64
	defers       atomic.Uint64
	advanceEvery uint64
}

// New creates a manager with room for the given number of concurrently pinned guards.
// When all slots are taken, Pin spins until one is released.
func New(slots int) *Manager {
	if slots <= 0 {
		slots = DefaultSlots
	}
	m := &Manager{
		slots:        make([]slot, slots),
		advanceEvery: 64,
	}
	m.global.Store(1)
	return m
}

// SetAdvanceEvery makes Defer call Advance after every n deferred destructors, 0 disables it
func (m *Manager) SetAdvanceEvery(n uint64) {
	m.advanceEvery = n
}

// ----------------------------------------------------------------------------
// Guards
// ----------------------------------------------------------------------------

// noCopy lets go vet's copylocks check flag copies of a Guard
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Guard is the handle of one pinned accessor. It must not be copied and is owned by the
// goroutine that pinned it.
type Guard struct {
	_     noCopy
	m     *Manager
	slot  *slot
	epoch uint64
}

// Pin publishes the current epoch in a free slot and returns the guard.
func (m *Manager) Pin() *Guard {
	n := uint32(len(m.slots))
	start := m.hint.Add(1)

	for spins := 0; ; spins++ {
		for i := uint32(0); i < n; i++ {
			s := &m.slots[(start+i)%n]
			if s.epoch.Load() != 0 {
				continue
			}

			e := m.global.Load()
			if !s.epoch.CompareAndSwap(0, e) {
				continue
			}

			// an Advance may have scanned the table before our publication became visible,
			// republish until the epoch we advertise is the one we observe afterwards
			for {
				cur := m.global.Load()
				if cur == e {
					break
				}
				s.epoch.Store(cur)
				e = cur
			}

			return &Guard{m: m, slot: s, epoch: e}
		}
		runtime.Gosched()
	}
}

// Epoch returns the epoch the guard is pinned at, 0 after Unpin
func (g *Guard) Epoch() uint64 {
	if g.slot == nil {
		return 0
	}
	return g.epoch
}

// Unpin releases the guard. Calling it again is a no-op.
func (g *Guard) Unpin() {
	if g.slot == nil {
		return
	}
	g.slot.epoch.Store(0)
	g.slot = nil
}

// ----------------------------------------------------------------------------
// Reclamation
// ----------------------------------------------------------------------------

// Defer schedules fn to run once no guard pinned at or before the current epoch remains.
// The caller must have unlinked the object fn destroys from every shared structure before.
func (m *Manager) Defer(fn func()) {
	r := &retired{fn: fn, epoch: m.global.Load()}
	m.push(r)
	m.pending.Add(1)

	if m.advanceEvery > 0 && m.defers.Add(1)%m.advanceEvery == 0 {
		m.Advance()
	}
}

func (m *Manager) push(r *retired) {
	for {
		head := m.deferred.Load()
		r.next = head
		if m.deferred.CompareAndSwap(head, r) {
			return
		}
	}
}

// Advance bumps the global epoch and runs every deferred destructor whose retire epoch lies
// below the minimum pinned epoch. Returns the number of destructors run.
func (m *Manager) Advance() int {
	lowest := m.global.Add(1)
	for i := range m.slots {
		if e := m.slots[i].epoch.Load(); e != 0 && e < lowest {
			lowest = e
		}
	}

	list := m.deferred.Swap(nil)
	run := 0
	for r := list; r != nil; {
		next := r.next
		if r.epoch < lowest {
			r.fn()
			run++
		} else {
			m.push(r)
		}
		r = next
	}

	m.pending.Add(int64(-run))
	return run
}

// Drain runs every deferred destructor regardless of pinned guards.
// Only valid once no accessor can hold a guard anymore (engine shutdown).
func (m *Manager) Drain() int {
	run := 0
	for r := m.deferred.Swap(nil); r != nil; r = r.next {
		r.fn()
		run++
	}
	m.pending.Add(int64(-run))
	return run
}

// ----------------------------------------------------------------------------
// Introspection
// ----------------------------------------------------------------------------

// Current returns the global epoch
func (m *Manager) Current() uint64 {
	return m.global.Load()
}

// Pending returns the number of deferred destructors that did not run yet
func (m *Manager) Pending() int {
	return int(m.pending.Load())
}

// Pinned returns the number of currently pinned guards
func (m *Manager) Pinned() int {
	n := 0
	for i := range m.slots {
		if m.slots[i].epoch.Load() != 0 {
			n++
		}
	}
	return n
}
