// Package util provides utility components for
// database implementations that satisfy the db.KVDB interface.
//
// The package contains:
//   - statistics: summary statistics and a lock-free SizeHistogram for tracking data size distribution
//   - functions: seeds, key fingerprints and other small helpers
//   - mapheap: a priority queue with key-based access, used to order sealed segments for migration
//   - lockfreempsc: a lock-free Multi-Producer Single-Consumer (MPSC) queue that feeds a
//     background goroutine through a channel
//
// This package is particularly useful for:
//   - Database developers implementing the KVDB interface
//   - Background maintenance loops (migration, compaction, garbage collection)
//   - Monitoring code that needs to track database size and distribution metrics
package util
