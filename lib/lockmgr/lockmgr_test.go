package lockmgr

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog"
	"github.com/ValentinKolb/hKV/lib/store"
	"github.com/ValentinKolb/hKV/lib/store/lstore"
)

func newTestManager(t *testing.T) ILockManager {
	t.Helper()
	s, err := lstore.NewLocalStore(func() (db.KVDB, error) {
		return hybridlog.NewHybridLog(&hybridlog.Options{Dir: t.TempDir(), IndexBuckets: 256})
	}, time.Second)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewLockManager(s)
}

func TestAcquireRelease(t *testing.T) {
	lm := newTestManager(t)

	ok, owner, err := lm.AcquireLock("resource", 0)
	if err != nil || !ok || len(owner) != ownerIDBytes {
		t.Fatalf("AcquireLock = %v, %x, %v", ok, owner, err)
	}

	if ok, _, _ := lm.AcquireLock("resource", 0); ok {
		t.Errorf("second AcquireLock succeeded while the lock is held")
	}

	if ok, _ := lm.ReleaseLock("resource", []byte("not the owner")); ok {
		t.Errorf("ReleaseLock by a foreign owner succeeded")
	}
	if ok, err := lm.ReleaseLock("resource", owner); err != nil || !ok {
		t.Fatalf("ReleaseLock = %v, %v", ok, err)
	}

	if ok, _, _ := lm.AcquireLock("resource", 0); !ok {
		t.Errorf("AcquireLock after release failed")
	}

	if ok, err := lm.ReleaseLock("never-locked", owner); err != nil || !ok {
		t.Errorf("releasing a missing lock = %v, %v; want true", ok, err)
	}
}

func TestLeaseExpiry(t *testing.T) {
	lm := newTestManager(t)

	ok, owner, _ := lm.AcquireLock("lease", 50*time.Millisecond)
	if !ok {
		t.Fatal("AcquireLock failed")
	}
	time.Sleep(80 * time.Millisecond)

	ok, other, _ := lm.AcquireLock("lease", time.Minute)
	if !ok {
		t.Fatal("AcquireLock after lease expiry failed")
	}

	// the first owner must not release the lock it lost
	if ok, _ := lm.ReleaseLock("lease", owner); ok {
		t.Errorf("expired owner released a lock held by someone else")
	}
	if ok, _ := lm.ReleaseLock("lease", other); !ok {
		t.Errorf("current owner could not release")
	}
}

func TestRenewLock(t *testing.T) {
	lm := newTestManager(t)

	_, owner, _ := lm.AcquireLock("renew", 60*time.Millisecond)
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		if ok, err := lm.RenewLock("renew", owner, 60*time.Millisecond); err != nil || !ok {
			t.Fatalf("RenewLock #%d = %v, %v", i, ok, err)
		}
	}
	if ok, _, _ := lm.AcquireLock("renew", 0); ok {
		t.Errorf("renewed lock was taken over")
	}
	if ok, _ := lm.RenewLock("renew", []byte("intruder"), time.Minute); ok {
		t.Errorf("foreign owner renewed the lock")
	}
}

func TestMutualExclusion(t *testing.T) {
	lm := newTestManager(t)

	var (
		wg      sync.WaitGroup
		holders atomic.Int32
		entered atomic.Int32
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				ok, owner, err := lm.AcquireLock("mutex", 0)
				if err != nil {
					t.Errorf("AcquireLock failed: %v", err)
					return
				}
				if !ok {
					continue
				}
				if holders.Add(1) != 1 {
					t.Errorf("two holders at once")
				}
				entered.Add(1)
				holders.Add(-1)
				if ok, err := lm.ReleaseLock("mutex", owner); !ok || err != nil {
					t.Errorf("ReleaseLock = %v, %v", ok, err)
				}
			}
		}()
	}
	wg.Wait()

	if entered.Load() == 0 {
		t.Errorf("no goroutine ever acquired the lock")
	}
}

func TestStoreErrorsPropagate(t *testing.T) {
	lm := newTestManager(t)
	if _, _, err := lm.AcquireLock(strings.Repeat("k", 65<<10), 0); store.CodeOf(err) != store.RetCInvalidArgument {
		t.Errorf("AcquireLock with oversized key = %v", err)
	}
}
