package testing

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementations
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Set", func(b *testing.B) {
		benchmarkSet(b, factory())
	})

	b.Run("SetExisting", func(b *testing.B) {
		benchmarkSetExisting(b, factory())
	})

	b.Run("SetLargeValue", func(b *testing.B) {
		benchmarkSetLargeValue(b, factory())
	})

	b.Run("SetWithExpiry", func(b *testing.B) {
		benchmarkSetWithExpiry(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("Get(miss)", func(b *testing.B) {
		benchmarkGetMiss(b, factory())
	})

	b.Run("Delete", func(b *testing.B) {
		benchmarkDelete(b, factory())
	})

	b.Run("CompareAndSet", func(b *testing.B) {
		benchmarkCompareAndSet(b, factory())
	})

	b.Run("Scan", func(b *testing.B) {
		benchmarkScan(b, factory())
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})

	b.Run("MixedUsageWithExpiry", func(b *testing.B) {
		benchmarkMixedOperationsWithExpiry(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// prefill writes n keys test-key-0 ... test-key-(n-1)
func prefill(b *testing.B, database db.KVDB, n int) []string {
	b.Helper()
	ctx := context.Background()
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = fmt.Sprintf("test-key-%d", i)
		if err := database.Set(ctx, keys[i], []byte(fmt.Sprintf("test-value-%d", i)), 0); err != nil {
			b.Fatalf("prefill failed: %v", err)
		}
	}
	return keys
}

// Benchmark for Set operation
func benchmarkSet(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSet)
	ctx := context.Background()
	var seq atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			counter := seq.Add(1)
			key := fmt.Sprintf("test-key-%d", counter)
			value := []byte(fmt.Sprintf("test-value-%d", counter))
			database.Set(ctx, key, value, 0)
		}
	})
}

// Benchmark for Set operation with existing keys
func benchmarkSetExisting(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSet)
	ctx := context.Background()

	numKeys := min(b.N, 100_000)
	keys := prefill(b, database, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			value := []byte(fmt.Sprintf("test-value-%d", counter))
			database.Set(ctx, keys[counter%numKeys], value, 0)
			counter++
		}
	})
}

// Benchmark for Set operation with large values
func benchmarkSetLargeValue(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSet)
	ctx := context.Background()
	largeValue := make([]byte, 256*1024) // 256 KB

	b.SetBytes(int64(len(largeValue)))
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%1024)
			database.Set(ctx, key, largeValue, 0)
			counter++
		}
	})
}

// benchmarkSetWithExpiry tests the performance of Set with a ttl
func benchmarkSetWithExpiry(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSet|db.FeatureSetTTL)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-expiry-key-%d", counter)
			value := []byte(fmt.Sprintf("test-expiry-value-%d", counter))
			database.Set(ctx, key, value, time.Duration(counter%1000)*time.Millisecond)
			counter++
		}
	})
}

// Parallel benchmarking for Get operation
func benchmarkGet(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSet|db.FeatureGet)
	ctx := context.Background()

	numKeys := 10000
	keys := prefill(b, database, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			database.Get(ctx, keys[counter%numKeys])
			counter++
		}
	})
}

// Parallel benchmarking for Get operation (with key miss)
func benchmarkGetMiss(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureGet)
	ctx := context.Background()
	const key = "test-key"

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			database.Get(ctx, key)
		}
	})
}

// Parallel benchmarking for Delete operation
func benchmarkDelete(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSet|db.FeatureDelete)
	ctx := context.Background()

	numKeys := min(b.N, 100_000)
	keys := prefill(b, database, numKeys)

	var counter int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			idx := int(atomic.AddInt64(&counter, 1)-1) % numKeys
			database.Delete(ctx, keys[idx])
		}
	})
}

// Parallel benchmarking for CompareAndSet on a small set of hot keys
func benchmarkCompareAndSet(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSet|db.FeatureGet|db.FeatureCompareAndSet)
	ctx := context.Background()

	numKeys := 64
	keys := prefill(b, database, numKeys)
	var failed atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := keys[counter%numKeys]
			rec, _, _ := database.GetRecord(ctx, key)
			if ok, _ := database.CompareAndSet(ctx, key, rec.Version, []byte("cas-value"), 0); !ok {
				failed.Add(1)
			}
			counter++
		}
	})
	b.ReportMetric(float64(failed.Load())/float64(b.N), "conflicts/op")
}

// Benchmark for a full scan
func benchmarkScan(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSet|db.FeatureScan)
	ctx := context.Background()
	prefill(b, database, 10000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var cursor uint64
		for {
			next, _, err := database.Scan(ctx, cursor, 1000, nil)
			if err != nil {
				b.Fatalf("scan failed: %v", err)
			}
			if next == 0 {
				break
			}
			cursor = next
		}
	}
}

// Benchmark for Save and Load operations
// For these operations, parallelization is not meaningful as they walk the whole database
func benchmarkSaveLoad(b *testing.B, factory DBFactory) {

	database := factory()

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSet|db.FeatureSave|db.FeatureLoad)

	prefill(b, database, 10000)

	b.Run("Save", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			var buf bytes.Buffer
			database.Save(&buf)
		}
	})

	// Prepare a data buffer for Load benchmark
	var loadBuf bytes.Buffer
	database.Save(&loadBuf)
	data := loadBuf.Bytes()

	b.Run("Load", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			loadDB := factory()
			loadDB.Load(bytes.NewReader(data))
			b.StopTimer()
			loadDB.Close()
			b.StartTimer()
		}
	})
}

// Benchmark for mixed usage patterns
func benchmarkMixedUsage(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)
	ctx := context.Background()

	numKeys := min(b.N, 100_000)
	keys := prefill(b, database, numKeys)

	var counter int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		// Local counter for each goroutine
		localCounter := 0

		for pb.Next() {
			idx := int(atomic.AddInt64(&counter, 1)-1) % numKeys

			// For every 10th operation, use a completely new key
			var key string
			if localCounter%10 == 0 {
				key = fmt.Sprintf("new-key-%d", localCounter)
			} else {
				key = keys[idx]
			}

			switch localCounter % 4 {
			case 0, 3:
				database.Get(ctx, key)
			case 1:
				value := []byte(fmt.Sprintf("mixed-value-%d", localCounter))
				database.Set(ctx, key, value, 0)
			case 2:
				database.Delete(ctx, key)
			}

			localCounter++
		}
	})
}

// benchmarkMixedOperationsWithExpiry tests mixed operations with expiration
func benchmarkMixedOperationsWithExpiry(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureSet|db.FeatureSetTTL|db.FeatureGet)
	ctx := context.Background()

	numKeys := 50_000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-mixed-key-%d", i)
		value := []byte(fmt.Sprintf("test-mixed-value-%d", i))
		database.Set(ctx, key, value, time.Duration(i%2000)*time.Millisecond)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

		for pb.Next() {
			// Random operation: 70% Get, 30% Set
			key := fmt.Sprintf("test-mixed-key-%d", counter%numKeys)

			if rnd.Float32() < .7 {
				database.Get(ctx, key)
			} else {
				value := []byte(fmt.Sprintf("test-mixed-updated-value-%d", counter))
				database.Set(ctx, key, value, time.Duration(rnd.Intn(1000))*time.Millisecond)
			}

			counter++
		}
	})
}
