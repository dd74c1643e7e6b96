// Package testing holds the conformance suite and benchmarks shared by every db.KVDB engine.
//
// RunKVDBTests checks the behavior all engines promise: read-your-writes, version numbers
// that grow with every write, compare-and-set, ttl expiry, scan cursors that visit each key
// once, snapshot/restore and Save/Load round trips, input validation, the closed state and
// concurrent compare-and-set increments that must not lose an update.
// RunKVDBBenchmarks measures the single operations and mixed workloads.
//
// An engine package wires both into its own tests:
//
//	factory := func() db.KVDB {
//		database, err := hybridlog.NewHybridLog(nil)
//		if err != nil {
//			panic(err)
//		}
//		return database
//	}
//
//	func Test(t *testing.T) { dbtesting.RunKVDBTests(t, "HybridLog", factory) }
//	func Benchmark(b *testing.B) { dbtesting.RunKVDBBenchmarks(b, "HybridLog", factory) }
//
// The factory is called once per subtest and the suite closes every instance it creates.
// Subtests that need a feature the engine does not report through SupportsFeature are skipped.
package testing
