// Package db provides a standardized interface for key-value database implementations.
// It defines the KVDB interface that allows for consistent interaction with storage engines
// while abstracting implementation details.
//
// The package focuses on:
//   - A unified, context aware interface for versioned key-value operations
//   - Feature discovery through capability flags
//   - Streaming persistence (Snapshot / Restore) and binary Save / Load
//   - A shared error taxonomy for engines and the layers above them
//
// Key Components:
//
//   - KVDB Interface: The core interface that all database implementations must satisfy.
//     It provides basic operations (Set, Get, GetRecord, Delete), an optimistic concurrency
//     primitive (CompareAndSet on record versions), resumable iteration (Scan) and
//     persistence operations (Snapshot, Restore, Save, Load).
//
//   - Record: The unit of storage. Every write produces a new Record with a fresh, strictly
//     increasing version. Records with a ttl carry an absolute ExpireAt timestamp.
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method.
//
//   - Database Information: DatabaseInfo reports size statistics, the implementation type
//     and implementation-specific metadata. Sizes are estimates.
//
//   - Errors: Sentinel errors (ErrTransientIO, ErrCapacityExceeded, ErrKeyTooLarge, ...) are
//     compared with errors.Is. Checksum mismatches are reported as *CorruptionError, which also
//     matches ErrCorruption.
//
// Note on Expiry:
//   - Get, GetRecord, Scan and Snapshot must never return a record that has logically expired,
//     even if it still exists internally pending collection.
//   - Deleted and expired records are reclaimed in the background.
//
// Related Packages:
//
// The engines/hybridlog package provides a tiered implementation of the KVDB interface: a hot
// in-memory log, memory mapped read-only segments and append-only disk files, tied together by
// a lock-free hash index and epoch based reclamation.
//
// The util package provides complementary tools (fingerprints, MapHeap, LockFreeMPSC, size
// statistics).
//
// The testing package provides standardized tests and benchmarks for database implementations
// that satisfy the db.KVDB interface:
//   - RunKVDBTests: Runs a standardized test suite to validate implementations
//   - RunKVDBBenchmarks: Provides performance benchmarks for comparing implementations
package db
