// Package lockmgr implements a locking mechanism using
// key-value stores that implement the store.IStore interface. It provides
// a simple way to coordinate access to shared resources between goroutines
// and components that share one store.
//
// The lock manager only ever stores in the provided IStore and has no other internal
// state. Therefore it is safe to be created multiple times on the same store.
// As long as the same store is used every time, all locks will work as expected.
//
// Core Functionality:
//   - Lock acquisition with ownership verification
//   - Automatic lock expiration through a configurable lease
//   - Lease renewal and safe release operations that verify ownership
//
// Implementation Approach:
//
//	Locks are implemented on top of the compare-and-set primitive of the underlying
//	store. Every record carries a version, CompareAndSet only writes if the version is
//	still the expected one. Specifically:
//
//	- Lock Acquisition: SetEIfUnset (a compare-and-set against "key absent") creates the
//	  key with a randomly generated 256 bit owner ID as value. Exactly one concurrent
//	  requester succeeds; an expired lock counts as absent.
//
//	- Leases: A timeout > 0 becomes the ttl of the lock record, so the lock frees itself
//	  if a client crashes. RenewLock re-writes the owner ID with a fresh ttl, conditional
//	  on the version the owner just read.
//
//	- Safe Release: ReleaseLock reads the lock record, verifies the owner ID and replaces
//	  exactly that version with an already expired record. A lock that expired and was
//	  taken over by another owner in between is left untouched.
//
// Thread Safety:
//
//	The lock manager is as thread-safe as the underlying store.IStore
//	implementation. All operations are performed through the store interface.
//
// Usage Example:
//
//	// Create a lock provider with a store backend
//	lockProvider := lockmgr.NewLockManager(store)
//
//	// Acquire a lock with a 30 second lease
//	acquired, ownerID, err := lockProvider.AcquireLock("resource:123", 30*time.Second)
//	if err != nil {
//	    // Handle error
//	}
//
//	if acquired {
//	    // Use the resource safely
//	    // ...
//
//	    // Release the lock when done
//	    released, err := lockProvider.ReleaseLock("resource:123", ownerID)
//	    if err != nil {
//	        // Handle error
//	    }
//	}
//
// Security Considerations:
//
//	The lockmgr mechanism uses randomly generated owner IDs, which provides
//	reasonable protection against accidental lock stealing. However, it is
//	not designed to resist malicious attacks, as an attacker with access to
//	the underlying store could potentially manipulate lock data directly.
//
// Performance Impact:
//
//	Lock operations require 1-2 store operations each:
//	- AcquireLock: One SetEIfUnset
//	- RenewLock and ReleaseLock: One GetRecord followed by one CompareAndSet
//
//	The performance characteristics therefore depend primarily on the
//	underlying store implementation.
package lockmgr
