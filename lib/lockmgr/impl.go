package lockmgr

import (
	"bytes"
	"time"

	"github.com/ValentinKolb/hKV/lib/logging"
	"github.com/ValentinKolb/hKV/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger(logging.LockMgr)

// released is the lease of the record that replaces a released lock
const released = time.Nanosecond

type lockMgrImpl struct {
	store store.IStore
}

func NewLockManager(store store.IStore) ILockManager {
	return &lockMgrImpl{
		store: store,
	}
}

func (lm *lockMgrImpl) AcquireLock(key string, timeout time.Duration) (bool, []byte, error) {
	ownerID, err := generateOwnerID()
	if err != nil {
		return false, nil, err
	}

	// only one requester can create the key (compare-and-set against "absent")
	ok, err := lm.store.SetEIfUnset(key, ownerID, timeout)
	if err != nil {
		log.Warningf("acquiring lock %q: %v", key, err)
		return false, nil, err
	}
	if !ok {
		return false, nil, nil
	}
	return true, ownerID, nil
}

func (lm *lockMgrImpl) RenewLock(key string, ownerID []byte, timeout time.Duration) (bool, error) {
	rec, ok, err := lm.store.GetRecord(key)
	if err != nil || !ok || !bytes.Equal(rec.Value, ownerID) {
		return false, err
	}
	return lm.store.CompareAndSet(key, rec.Version, ownerID, timeout)
}

func (lm *lockMgrImpl) ReleaseLock(key string, ownerID []byte) (bool, error) {
	rec, ok, err := lm.store.GetRecord(key)
	if err != nil || !ok {
		return err == nil, err
	}

	// Check if the lock is owned by us
	if !bytes.Equal(ownerID, rec.Value) {
		return false, nil
	}

	// A Delete could remove a lock another owner took over after our lease ran out. Replacing
	// our exact version with an already expired record cannot.
	ok, err = lm.store.CompareAndSet(key, rec.Version, nil, released)
	if err != nil {
		return false, err
	}
	if !ok {
		// our lease expired and someone else owns the lock now, or it was renewed concurrently
		return false, nil
	}
	return true, nil
}
