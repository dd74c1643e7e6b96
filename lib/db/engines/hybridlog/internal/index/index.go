// Package index implements the lock-free hash index that maps keys to record addresses.
//
// The index has a fixed power of two number of buckets. Each bucket is a singly linked chain
// reached through an atomically swapped head pointer. New entries are pushed at the head with a
// CAS; an existing entry is updated by a CAS on its address word. Entries are never moved
// between buckets and the bucket count never changes.
//
// An entry whose key was deleted and whose tombstone aged out holds the terminal address
// Removed. Removed entries are skipped by readers and unlinked by a single unlinker (Compact).
// Unlinked entries stay reachable for readers that already traverse them, the Go garbage
// collector frees them afterwards.
package index

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/address"
	"github.com/ValentinKolb/hKV/lib/db/util"
)

type entry struct {
	fp   uint64
	key  string
	addr atomic.Uint64
	next atomic.Pointer[entry]
}

func (e *entry) load() address.LogAddress {
	return address.LogAddress(e.addr.Load())
}

// Slot is a point in time copy of an index entry
type Slot struct {
	Key  string
	Addr address.LogAddress
}

// Index is a lock-free hash index.
//
// Thread-safety: Lookup, Update, CompareAndSwap, Remove, MarkRemoved and Collect are safe for
// concurrent use. Compact may run concurrently with all of them but not with itself.
type Index struct {
	buckets []atomic.Pointer[entry]
	mask    uint64
	seed    uint64
	entries atomic.Int64

	unlink sync.Mutex
}

// New creates an index with the bucket count rounded up to a power of two
func New(buckets int, seed uint64) *Index {
	n := util.NextPowerOfTwo(buckets)
	return &Index{
		buckets: make([]atomic.Pointer[entry], n),
		mask:    uint64(n - 1),
		seed:    seed,
	}
}

// Buckets returns the number of buckets
func (ix *Index) Buckets() int {
	return len(ix.buckets)
}

// Entries returns the number of linked entries that are not removed (including tombstones)
func (ix *Index) Entries() int {
	return int(ix.entries.Load())
}

func (ix *Index) bucket(fp uint64) *atomic.Pointer[entry] {
	return &ix.buckets[fp&ix.mask]
}

// find returns the first entry for key that is not removed
func find(head *entry, fp uint64, key string) *entry {
	for e := head; e != nil; e = e.next.Load() {
		if e.fp == fp && e.key == key && e.load() != address.Removed {
			return e
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Operations
// ----------------------------------------------------------------------------

// Lookup returns the current address of key. The address may carry the tombstone flag, callers
// treat such keys as absent. Wait-free apart from the chain traversal.
func (ix *Index) Lookup(key string) (address.LogAddress, bool) {
	fp := util.Fingerprint(key, ix.seed)
	for {
		e := find(ix.bucket(fp).Load(), fp, key)
		if e == nil {
			return address.Invalid, false
		}
		if a := e.load(); a != address.Removed {
			return a, true
		}
		// removed after find, a newer entry may sit at the head
	}
}

// Update installs addr as the current address of key.
// Returns the superseded address and whether one existed (it may be a tombstone).
func (ix *Index) Update(key string, addr address.LogAddress) (address.LogAddress, bool) {
	fp := util.Fingerprint(key, ix.seed)
	b := ix.bucket(fp)

	var fresh *entry
	for {
		head := b.Load()
		if e := find(head, fp, key); e != nil {
			if old, ok := swapLive(e, addr); ok {
				return old, true
			}
			continue
		}

		if fresh == nil {
			fresh = &entry{fp: fp, key: key}
			fresh.addr.Store(uint64(addr))
		}
		fresh.next.Store(head)
		if b.CompareAndSwap(head, fresh) {
			ix.entries.Add(1)
			return address.Invalid, false
		}
	}
}

// swapLive replaces the address of e unless it became Removed
func swapLive(e *entry, addr address.LogAddress) (address.LogAddress, bool) {
	for {
		old := e.addr.Load()
		if address.LogAddress(old) == address.Removed {
			return address.Invalid, false
		}
		if e.addr.CompareAndSwap(old, uint64(addr)) {
			return address.LogAddress(old), true
		}
	}
}

// CompareAndSwap replaces the address of key with next if it is still old.
// An old value of address.Invalid means the key must not have an entry; next is then inserted.
func (ix *Index) CompareAndSwap(key string, old, next address.LogAddress) bool {
	fp := util.Fingerprint(key, ix.seed)
	b := ix.bucket(fp)

	for {
		head := b.Load()
		e := find(head, fp, key)

		if e == nil {
			if old != address.Invalid {
				return false
			}
			fresh := &entry{fp: fp, key: key}
			fresh.addr.Store(uint64(next))
			fresh.next.Store(head)
			if b.CompareAndSwap(head, fresh) {
				ix.entries.Add(1)
				return true
			}
			continue
		}

		if old == address.Invalid {
			return false
		}
		return e.addr.CompareAndSwap(uint64(old), uint64(next))
	}
}

// Remove installs the tombstone address tomb for key if its current address is live.
// Returns the superseded address and whether a live (non tombstone) address was replaced.
func (ix *Index) Remove(key string, tomb address.LogAddress) (address.LogAddress, bool) {
	fp := util.Fingerprint(key, ix.seed)
	e := find(ix.bucket(fp).Load(), fp, key)
	if e == nil {
		return address.Invalid, false
	}

	for {
		old := e.load()
		if old == address.Removed || old.IsTombstone() {
			return old, false
		}
		if e.addr.CompareAndSwap(uint64(old), uint64(tomb)) {
			return old, true
		}
	}
}

// MarkRemoved flags the entry of key as Removed if it still holds addr
func (ix *Index) MarkRemoved(key string, addr address.LogAddress) bool {
	fp := util.Fingerprint(key, ix.seed)
	e := find(ix.bucket(fp).Load(), fp, key)
	if e == nil || !e.addr.CompareAndSwap(uint64(addr), uint64(address.Removed)) {
		return false
	}
	ix.entries.Add(-1)
	return true
}

// Compact unlinks every Removed entry and returns how many were unlinked.
// Only one Compact runs at a time, inserts and updates proceed concurrently.
func (ix *Index) Compact() int {
	ix.unlink.Lock()
	defer ix.unlink.Unlock()

	unlinked := 0
	for i := range ix.buckets {
		b := &ix.buckets[i]

		// removed entries at the head race with inserts, unlink them with a CAS on the head
		for {
			head := b.Load()
			if head == nil || head.load() != address.Removed {
				break
			}
			if b.CompareAndSwap(head, head.next.Load()) {
				unlinked++
			}
		}

		// behind the head only the unlinker writes next pointers
		prev := b.Load()
		for prev != nil {
			cur := prev.next.Load()
			if cur != nil && cur.load() == address.Removed {
				prev.next.Store(cur.next.Load())
				unlinked++
				continue
			}
			prev = cur
		}
	}
	return unlinked
}

// Collect appends a copy of every non removed entry of bucket i to dst
func (ix *Index) Collect(i int, dst []Slot) []Slot {
	for e := ix.buckets[i].Load(); e != nil; e = e.next.Load() {
		if a := e.load(); a != address.Removed {
			dst = append(dst, Slot{Key: e.key, Addr: a})
		}
	}
	return dst
}

// ChainLengths returns the chain length of up to n buckets spread over the table
func (ix *Index) ChainLengths(n int) []float64 {
	if n <= 0 || n > len(ix.buckets) {
		n = len(ix.buckets)
	}
	step := len(ix.buckets) / n
	lengths := make([]float64, 0, n)
	for i := 0; i < len(ix.buckets) && len(lengths) < n; i += step {
		l := 0
		for e := ix.buckets[i].Load(); e != nil; e = e.next.Load() {
			l++
		}
		lengths = append(lengths, float64(l))
	}
	return lengths
}
