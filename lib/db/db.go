package db

import (
	"context"
	"io"
	"iter"
	"time"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplHybridLog Implementation = "hybridlog"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureSet            Feature = 1 << iota // Support for Set operations
	FeatureSetTTL                             // Support for Set operations with a ttl
	FeatureGet                                // Support for Get and GetRecord operations
	FeatureDelete                             // Support for Delete operations
	FeatureCompareAndSet                      // Support for CompareAndSet operations
	FeatureScan                               // Support for Scan operations
	FeatureSnapshot                           // Support for Snapshot operations
	FeatureRestore                            // Support for Restore operations
	FeatureSave                               // Support for Save operations
	FeatureLoad                               // Support for Load operations
	FeatureTiering                            // Data migrates between memory and disk tiers
	FeatureGarbageCollect                     // Superseded data is reclaimed in the background
)

func (f Feature) String() string {
	switch f {
	case FeatureSet:
		return "Set"
	case FeatureSetTTL:
		return "SetTTL"
	case FeatureGet:
		return "Get"
	case FeatureDelete:
		return "Delete"
	case FeatureCompareAndSet:
		return "CompareAndSet"
	case FeatureScan:
		return "Scan"
	case FeatureSnapshot:
		return "Snapshot"
	case FeatureRestore:
		return "Restore"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeatureTiering:
		return "Tiering"
	case FeatureGarbageCollect:
		return "GarbageCollect"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// Record is a single versioned key value pair as stored by an engine.
// ExpireAt is a unix timestamp in nanoseconds, 0 means the record never expires.
type Record struct {
	Key       string
	Value     []byte
	ExpireAt  int64
	Tombstone bool
	Version   uint64
}

// Expired reports whether the record is expired at the given unix nano timestamp
func (r Record) Expired(now int64) bool {
	return r.ExpireAt != 0 && r.ExpireAt <= now
}

// ExpireAt converts a ttl relative to now into an absolute ExpireAt value
func ExpireAt(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return time.Now().Add(ttl).UnixNano()
}

// MatchFunc selects keys during a scan, nil matches every key
type MatchFunc func(key string) bool

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for key-value database implementations.
// It provides methods for basic operations like Set, Get, Delete, and various utility functions.
// Any implementation of this interface must manage keys in a consistent way.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
//
// Thread-safety: All methods are safe for concurrent use.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Set inserts or updates an entry with the given key and value.
	// If the key already exists, the old value is superseded.
	// A ttl > 0 makes the entry invisible once it elapsed, ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) (err error)

	// Delete removes the entry with the specified key.
	// Returns whether a live entry existed. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) (existed bool, err error)

	// CompareAndSet replaces the value of key only if its current version equals expectedVersion.
	// An expectedVersion of 0 means the key must not exist (or be deleted or expired).
	// Returns false without error if the version did not match.
	CompareAndSet(ctx context.Context, key string, expectedVersion uint64, value []byte, ttl time.Duration) (swapped bool, err error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the value for an exact key.
	// The boolean return value indicates whether a value for the key was found.
	// The returned slice is a copy owned by the caller.
	Get(ctx context.Context, key string) (value []byte, loaded bool, err error)

	// GetRecord retrieves the full record (value, version, expiry) for an exact key.
	GetRecord(ctx context.Context, key string) (record Record, loaded bool, err error)

	// Scan returns up to roughly count keys starting at cursor and the cursor to continue with.
	// A returned cursor of 0 means the scan is complete. Keys that exist for the whole duration
	// of a scan are returned exactly once, keys written or deleted meanwhile may be missed.
	Scan(ctx context.Context, cursor uint64, count int, match MatchFunc) (next uint64, keys []string, err error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Snapshot yields every live record. The sequence is weakly consistent: records written
	// during the iteration may or may not be observed.
	Snapshot(ctx context.Context) iter.Seq2[Record, error]

	// Restore writes every record of the sequence into the database.
	Restore(ctx context.Context, records iter.Seq2[Record, error]) (err error)

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the database state data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Returns true if the feature is supported, false otherwise.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// Close stops background work and releases every resource of the database.
	Close() (err error)
}

// MetricsWriter is implemented by databases that export metrics in the Prometheus text format
type MetricsWriter interface {
	WritePrometheus(w io.Writer)
}
