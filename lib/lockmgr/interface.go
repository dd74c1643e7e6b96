package lockmgr

import "time"

// ILockManager defines the interface for a lock provider.
type ILockManager interface {
	// AcquireLock acquires the lock for the given key. A timeout > 0 is the lease after which
	// the lock is released automatically, 0 means the lock is held until released.
	// Return a boolean indicating whether the lock was acquired, an owner ID, and an error if any.
	AcquireLock(key string, timeout time.Duration) (ok bool, ownerID []byte, err error)

	// RenewLock extends the lease of a lock held by ownerID to timeout from now.
	// Returns false if the lock is not (or no longer) held by ownerID.
	RenewLock(key string, ownerID []byte, timeout time.Duration) (ok bool, err error)

	// ReleaseLock releases the lock for the given key.
	// Return a boolean indicating whether the lock was released, and an error if any.
	// The method will also return true if the lock did not exist.
	ReleaseLock(key string, ownerID []byte) (ok bool, err error)
}
