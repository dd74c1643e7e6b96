// Package lstore implements a local, single-node key-value store based on the
// store.IStore interface. It provides a thin wrapper around any db.KVDB
// implementation that adds deadlines, feature detection and coded errors.
//
// Key Features:
//   - Direct integration with db.KVDB implementations
//   - A per operation deadline passed to the database as context
//   - Glob pattern scans (path.Match syntax)
//   - Feature detection to handle unsupported operations gracefully
//   - Mapping of database errors onto store.RetCode values
//
// Implementation Details:
//
//   - Feature Detection: Before executing operations, the store checks if the underlying
//     db.KVDB implementation supports the requested feature through the SupportsFeature
//     method. Unsupported operations return RetCUnsupportedOperation rather than failing
//     silently or producing undefined behavior.
//
//   - Error Mapping: Errors of the database are converted with store.FromDBError. The
//     resulting *store.Error unwraps to the database error, so callers may use either the
//     return code or errors.Is on the db sentinels. Corruption is logged at error level,
//     transient failures and backpressure at warning level.
//
//   - Composition Architecture: The store follows a composition pattern where the
//     store.DBFactory factory function injects the underlying db.KVDB implementation.
//     This allows the store to work with any db.KVDB-compatible engine without modification.
//
// Thread Safety:
//
//	The local store holds no mutable state of its own. All operations are as thread-safe
//	as the underlying db.KVDB implementation.
//
// Usage Example:
//
//	// Create a store with a hybrid log backend
//	factory := func() (db.KVDB, error) {
//		return hybridlog.NewHybridLog(&hybridlog.Options{Dir: "/var/lib/hkv"})
//	}
//	s, err := lstore.NewLocalStore(factory, 5*time.Second)
//
//	// Store a value with 5-minute expiration
//	err = s.SetE("session:123", sessionData, 5*time.Minute)
//
//	// Retrieve the value
//	value, exists, err := s.Get("session:123")
//
//	// Walk all session keys
//	cursor := uint64(0)
//	for {
//		next, keys, err := s.Scan(cursor, 100, "session:*")
//		...
//		if next == 0 {
//			break
//		}
//		cursor = next
//	}
package lstore
