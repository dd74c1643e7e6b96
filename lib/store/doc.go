// Package store provides a high-level interface for key-value storage operations
// with expiration, compare-and-set and unified error handling.
// It serves as an abstraction layer over the lower-level db.KVDB implementations, adding
// per operation deadlines, glob pattern scans and standardized error reporting.
//
// The package focuses on:
//   - A unified interface (IStore) for key-value operations across different backends
//   - Pluggable storage backend architecture through DBFactory pattern
//
// Key Components:
//
//   - IStore Interface: The core abstraction defining operations for interacting with
//     a key-value store. The command line tools and the lock manager only talk to this
//     interface. The interface methods return custom Error types that provide detailed
//     information about operation results.
//
//   - Error System: A structured error reporting mechanism using typed return codes
//     (RetCode) and descriptive messages. FromDBError maps the sentinel errors of the db
//     package onto codes, RetCode.Retryable tells transient conditions (backpressure, disk
//     timeouts) apart from permanent ones (corruption, invalid arguments).
//
//   - DBFactory: A function type that abstracts the creation of underlying db.KVDB
//     instances, providing dependency injection and flexible configuration of
//     storage backends.
//
// Implementations:
//
//	- Local Store (lstore): A single-node implementation that directly utilizes a
//	  db.KVDB instance, available in the "github.com/ValentinKolb/hKV/lib/store/lstore"
//	  package.
package store
