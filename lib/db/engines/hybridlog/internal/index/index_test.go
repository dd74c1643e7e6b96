package index

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/address"
)

func TestLookupUpdate(t *testing.T) {
	ix := New(10, 42)
	if ix.Buckets() != 16 {
		t.Errorf("Expected bucket count rounded to 16, got %d", ix.Buckets())
	}

	if _, ok := ix.Lookup("a"); ok {
		t.Errorf("Empty index must not find keys")
	}

	a1 := address.Log(1, 0)
	if old, existed := ix.Update("a", a1); existed || old != address.Invalid {
		t.Errorf("First update must insert, got (%s, %v)", old, existed)
	}

	a2 := address.Log(1, 64)
	old, existed := ix.Update("a", a2)
	if !existed || old != a1 {
		t.Errorf("Second update must return the previous address, got (%s, %v)", old, existed)
	}

	if got, ok := ix.Lookup("a"); !ok || got != a2 {
		t.Errorf("Lookup returned (%s, %v), want %s", got, ok, a2)
	}
	if ix.Entries() != 1 {
		t.Errorf("Expected 1 entry, got %d", ix.Entries())
	}
}

func TestCompareAndSwap(t *testing.T) {
	ix := New(4, 1)

	if ix.CompareAndSwap("k", address.Log(1, 0), address.Log(1, 8)) {
		t.Errorf("CAS on a missing key with a real old address must fail")
	}
	if !ix.CompareAndSwap("k", address.Invalid, address.Log(1, 0)) {
		t.Errorf("CAS from Invalid must insert a missing key")
	}
	if ix.CompareAndSwap("k", address.Invalid, address.Log(1, 8)) {
		t.Errorf("CAS from Invalid must fail once the key exists")
	}
	if ix.CompareAndSwap("k", address.Log(1, 16), address.Disk(2, 0)) {
		t.Errorf("CAS with a stale old address must fail")
	}
	if !ix.CompareAndSwap("k", address.Log(1, 0), address.Disk(2, 0)) {
		t.Errorf("CAS with the current address must succeed")
	}
	if got, _ := ix.Lookup("k"); got != address.Disk(2, 0) {
		t.Errorf("Lookup after CAS returned %s", got)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	ix := New(4, 1)
	live := address.Log(1, 0)
	tomb := address.Log(1, 32).WithTombstone()

	if _, removed := ix.Remove("missing", tomb); removed {
		t.Errorf("Removing a missing key must report false")
	}

	ix.Update("k", live)
	old, removed := ix.Remove("k", tomb)
	if !removed || old != live {
		t.Errorf("Remove returned (%s, %v), want (%s, true)", old, removed, live)
	}

	if _, removed := ix.Remove("k", address.Log(1, 64).WithTombstone()); removed {
		t.Errorf("Removing a tombstoned key again must report false")
	}
	if got, ok := ix.Lookup("k"); !ok || got != tomb {
		t.Errorf("Lookup must expose the tombstone address, got (%s, %v)", got, ok)
	}
}

func TestMarkRemovedAndCompact(t *testing.T) {
	ix := New(1, 7) // single bucket, every key shares one chain

	for i := 0; i < 10; i++ {
		ix.Update(fmt.Sprintf("k%d", i), address.Log(1, uint64(i*64)))
	}

	for i := 0; i < 10; i += 2 {
		key := fmt.Sprintf("k%d", i)
		if ix.MarkRemoved(key, address.Log(9, 0)) {
			t.Errorf("MarkRemoved with a stale address must fail")
		}
		if !ix.MarkRemoved(key, address.Log(1, uint64(i*64))) {
			t.Errorf("MarkRemoved(%s) failed", key)
		}
	}

	if ix.Entries() != 5 {
		t.Errorf("Expected 5 entries after removal, got %d", ix.Entries())
	}
	if n := ix.Compact(); n != 5 {
		t.Errorf("Compact unlinked %d entries, want 5", n)
	}
	if n := len(ix.Collect(0, nil)); n != 5 {
		t.Errorf("Expected 5 linked entries after compaction, got %d", n)
	}

	for i := 0; i < 10; i++ {
		_, ok := ix.Lookup(fmt.Sprintf("k%d", i))
		if ok != (i%2 == 1) {
			t.Errorf("Lookup(k%d) = %v after compaction", i, ok)
		}
	}

	// a removed key can be inserted again
	ix.Update("k0", address.Log(2, 0))
	if got, ok := ix.Lookup("k0"); !ok || got != address.Log(2, 0) {
		t.Errorf("Reinserted key not found")
	}
}

// TestConcurrentUpdates checks that concurrent writers to the same keys never lose a key and
// that every key resolves to an address one of the writers installed.
func TestConcurrentUpdates(t *testing.T) {
	ix := New(64, 3)

	const writers = 8
	const keys = 500
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < keys; i++ {
				ix.Update(fmt.Sprintf("key-%d", i), address.Log(uint32(w+1), uint64(i)))
			}
		}(w)
	}

	stop := make(chan struct{})
	var compactor sync.WaitGroup
	compactor.Add(1)
	go func() {
		defer compactor.Done()
		for {
			select {
			case <-stop:
				return
			default:
				ix.Compact()
			}
		}
	}()

	wg.Wait()
	close(stop)
	compactor.Wait()

	if ix.Entries() != keys {
		t.Errorf("Expected %d entries, got %d (duplicate or lost entries)", keys, ix.Entries())
	}

	total := 0
	for b := 0; b < ix.Buckets(); b++ {
		total += len(ix.Collect(b, nil))
	}
	if total != keys {
		t.Errorf("Expected %d linked entries, got %d", keys, total)
	}

	for i := 0; i < keys; i++ {
		got, ok := ix.Lookup(fmt.Sprintf("key-%d", i))
		if !ok || got.Offset() != uint64(i) || got.ID() < 1 || got.ID() > writers {
			t.Errorf("key-%d resolved to (%s, %v)", i, got, ok)
		}
	}
}

func TestChainLengths(t *testing.T) {
	ix := New(8, 5)
	for i := 0; i < 80; i++ {
		ix.Update(fmt.Sprintf("k%d", i), address.Log(1, uint64(i)))
	}
	lengths := ix.ChainLengths(8)
	sum := 0.0
	for _, l := range lengths {
		sum += l
	}
	if len(lengths) != 8 || sum != 80 {
		t.Errorf("Expected 8 chains holding 80 entries, got %d chains with %v entries", len(lengths), sum)
	}
}
