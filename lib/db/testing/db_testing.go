package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
)

// DBFactory is a function that creates a new, empty instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("GetRecord", func(t *testing.T) {
			testGetRecord(t, factory())
		})

		t.Run("CompareAndSet", func(t *testing.T) {
			testCompareAndSet(t, factory())
		})

		t.Run("KeyExpiry", func(t *testing.T) {
			testKeyExpiry(t, factory())
		})

		t.Run("ManyExpiringKeys", func(t *testing.T) {
			testManyExpiringKeys(t, factory())
		})

		t.Run("Scan", func(t *testing.T) {
			testScan(t, factory())
		})

		t.Run("SnapshotRestore", func(t *testing.T) {
			testSnapshotRestore(t, factory)
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, factory())
		})

		t.Run("ConcurrentCAS", func(t *testing.T) {
			testConcurrentCAS(t, factory())
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

func mustSet(t testing.TB, database db.KVDB, key string, value []byte, ttl time.Duration) {
	t.Helper()
	if err := database.Set(context.Background(), key, value, ttl); err != nil {
		t.Fatalf("Set(%q) failed: %v", key, err)
	}
}

func mustGet(t testing.TB, database db.KVDB, key string) ([]byte, bool) {
	t.Helper()
	value, ok, err := database.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	return value, ok
}

// scanAll runs a complete scan and returns how often each key was returned
func scanAll(t testing.TB, database db.KVDB, count int, match db.MatchFunc) map[string]int {
	t.Helper()
	seen := make(map[string]int)
	var cursor uint64
	for rounds := 0; ; rounds++ {
		next, keys, err := database.Scan(context.Background(), cursor, count, match)
		if err != nil {
			t.Fatalf("Scan(%d) failed: %v", cursor, err)
		}
		for _, k := range keys {
			seen[k]++
		}
		if next == 0 {
			return seen
		}
		if rounds > 10_000_000 {
			t.Fatalf("scan did not terminate")
		}
		cursor = next
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	mustSet(t, database, testKey, testValue1, 0)

	result, exists := mustGet(t, database, testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	mustSet(t, database, testKey, testValue2, 0)

	result, exists = mustGet(t, database, testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	if _, exists = mustGet(t, database, "nonexistent-key"); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	retrievedValue, _ := mustGet(t, database, testKey)
	retrievedValue[0] = 'X'

	originalValue, _ := mustGet(t, database, testKey)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}

	input := []byte("mutated-after-set")
	mustSet(t, database, "input-copy", input, 0)
	input[0] = 'X'
	if result, _ := mustGet(t, database, "input-copy"); !bytes.Equal(result, []byte("mutated-after-set")) {
		t.Errorf("Set must copy the value, got %s", result)
	}

	mustSet(t, database, "empty-value", []byte{}, 0)
	result, exists = mustGet(t, database, "empty-value")
	if !exists || len(result) != 0 {
		t.Errorf("Expected empty value to be stored, got exists=%v value=%q", exists, result)
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)
	ctx := context.Background()

	mustSet(t, database, "a", []byte("1"), 0)
	mustSet(t, database, "a", []byte("2"), 0)

	if result, _ := mustGet(t, database, "a"); !bytes.Equal(result, []byte("2")) {
		t.Errorf("Expected value 2, got %s", result)
	}

	existed, err := database.Delete(ctx, "a")
	if err != nil || !existed {
		t.Errorf("Expected first Delete to report existed=true, got %v (err %v)", existed, err)
	}

	if _, exists := mustGet(t, database, "a"); exists {
		t.Errorf("Expected key a to not exist after Delete")
	}

	existed, err = database.Delete(ctx, "a")
	if err != nil || existed {
		t.Errorf("Expected second Delete to report existed=false, got %v (err %v)", existed, err)
	}

	existed, err = database.Delete(ctx, "never-written")
	if err != nil || existed {
		t.Errorf("Expected Delete of a missing key to report existed=false, got %v (err %v)", existed, err)
	}

	mustSet(t, database, "a", []byte("3"), 0)
	if result, exists := mustGet(t, database, "a"); !exists || !bytes.Equal(result, []byte("3")) {
		t.Errorf("Expected key a to be writable after Delete, got %s (exists=%v)", result, exists)
	}
}

func testGetRecord(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)
	ctx := context.Background()

	mustSet(t, database, "rec", []byte("v1"), 0)
	first, ok, err := database.GetRecord(ctx, "rec")
	if err != nil || !ok {
		t.Fatalf("GetRecord failed: ok=%v err=%v", ok, err)
	}
	if first.Key != "rec" || !bytes.Equal(first.Value, []byte("v1")) || first.Version == 0 || first.Tombstone {
		t.Errorf("Unexpected record %+v", first)
	}
	if first.ExpireAt != 0 {
		t.Errorf("Record without ttl should have ExpireAt 0, got %d", first.ExpireAt)
	}

	mustSet(t, database, "rec", []byte("v2"), time.Hour)
	second, _, _ := database.GetRecord(ctx, "rec")
	if second.Version <= first.Version {
		t.Errorf("Versions must increase: %d after %d", second.Version, first.Version)
	}
	if second.ExpireAt <= time.Now().UnixNano() {
		t.Errorf("Record with ttl should expire in the future, got %d", second.ExpireAt)
	}

	if _, ok, _ := database.GetRecord(ctx, "missing"); ok {
		t.Errorf("GetRecord of a missing key should report ok=false")
	}
}

func testCompareAndSet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureCompareAndSet)
	ctx := context.Background()

	swapped, err := database.CompareAndSet(ctx, "k", 0, []byte("created"), 0)
	if err != nil || !swapped {
		t.Fatalf("CompareAndSet with version 0 on a missing key should succeed, got %v (err %v)", swapped, err)
	}

	swapped, _ = database.CompareAndSet(ctx, "k", 0, []byte("again"), 0)
	if swapped {
		t.Errorf("CompareAndSet with version 0 on an existing key should fail")
	}

	rec, _, _ := database.GetRecord(ctx, "k")
	swapped, _ = database.CompareAndSet(ctx, "k", rec.Version+1000, []byte("wrong"), 0)
	if swapped {
		t.Errorf("CompareAndSet with a wrong version should fail")
	}

	swapped, err = database.CompareAndSet(ctx, "k", rec.Version, []byte("updated"), 0)
	if err != nil || !swapped {
		t.Errorf("CompareAndSet with the current version should succeed, got %v (err %v)", swapped, err)
	}
	if value, _ := mustGet(t, database, "k"); !bytes.Equal(value, []byte("updated")) {
		t.Errorf("Expected value updated, got %s", value)
	}

	swapped, _ = database.CompareAndSet(ctx, "k", rec.Version, []byte("stale"), 0)
	if swapped {
		t.Errorf("CompareAndSet with a superseded version should fail")
	}

	swapped, _ = database.CompareAndSet(ctx, "missing", 42, []byte("x"), 0)
	if swapped {
		t.Errorf("CompareAndSet with a version on a missing key should fail")
	}

	if database.SupportsFeature(db.FeatureDelete) {
		if _, err := database.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		swapped, _ = database.CompareAndSet(ctx, "k", 0, []byte("recreated"), 0)
		if !swapped {
			t.Errorf("CompareAndSet with version 0 on a deleted key should succeed")
		}
	}
}

func testKeyExpiry(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureSetTTL|db.FeatureGet)
	ctx := context.Background()

	mustSet(t, database, "expiring-key", []byte("expiring-value"), 50*time.Millisecond)
	mustSet(t, database, "not-expiring-key", []byte("not-expiring-value"), 0)

	if _, exists := mustGet(t, database, "expiring-key"); !exists {
		t.Errorf("Key should exist before its ttl elapsed")
	}

	time.Sleep(100 * time.Millisecond)

	if _, exists := mustGet(t, database, "expiring-key"); exists {
		t.Errorf("Key should have expired")
	}
	if _, exists := mustGet(t, database, "not-expiring-key"); !exists {
		t.Errorf("Key with ttl 0 should never expire")
	}

	if database.SupportsFeature(db.FeatureDelete) {
		if existed, _ := database.Delete(ctx, "expiring-key"); existed {
			t.Errorf("Delete of an expired key should report existed=false")
		}
	}

	if database.SupportsFeature(db.FeatureCompareAndSet) {
		swapped, _ := database.CompareAndSet(ctx, "expiring-key", 0, []byte("fresh"), 0)
		if !swapped {
			t.Errorf("CompareAndSet with version 0 on an expired key should succeed")
		}
	}
}

func testManyExpiringKeys(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureSetTTL|db.FeatureGet)

	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		ttl := time.Duration(0)
		if i%2 == 0 {
			ttl = 50 * time.Millisecond
		}
		mustSet(t, database, fmt.Sprintf("expire-key-%d", i), []byte(fmt.Sprintf("expire-value-%d", i)), ttl)
	}

	time.Sleep(100 * time.Millisecond)

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("expire-key-%d", i)
		_, exists := mustGet(t, database, key)
		if i%2 == 0 && exists {
			t.Errorf("Key %s should have expired", key)
		}
		if i%2 == 1 && !exists {
			t.Errorf("Key %s should not have expired", key)
		}
	}

	if database.SupportsFeature(db.FeatureScan) {
		seen := scanAll(t, database, 100, nil)
		if len(seen) != numKeys/2 {
			t.Errorf("Scan should return %d live keys, got %d", numKeys/2, len(seen))
		}
	}
}

func testScan(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureScan)

	numKeys := 500
	for i := 0; i < numKeys; i++ {
		prefix := "user"
		if i%5 == 0 {
			prefix = "session"
		}
		mustSet(t, database, fmt.Sprintf("%s:%d", prefix, i), []byte("v"), 0)
	}

	for _, count := range []int{0, 1, 7, 1000} {
		seen := scanAll(t, database, count, nil)
		if len(seen) != numKeys {
			t.Errorf("Scan(count=%d) returned %d distinct keys, want %d", count, len(seen), numKeys)
		}
		for k, n := range seen {
			if n != 1 {
				t.Errorf("Scan(count=%d) returned %s %d times, want exactly once", count, k, n)
			}
		}
	}

	seen := scanAll(t, database, 50, func(key string) bool { return strings.HasPrefix(key, "session:") })
	if len(seen) != numKeys/5 {
		t.Errorf("Scan with match returned %d keys, want %d", len(seen), numKeys/5)
	}
	for k := range seen {
		if !strings.HasPrefix(k, "session:") {
			t.Errorf("Scan with match returned non matching key %s", k)
		}
	}

	if database.SupportsFeature(db.FeatureDelete) {
		for i := 0; i < numKeys; i += 2 {
			database.Delete(context.Background(), fmt.Sprintf("user:%d", i))
		}
		for k := range scanAll(t, database, 100, nil) {
			var i int
			if _, err := fmt.Sscanf(k, "user:%d", &i); err == nil && i%2 == 0 {
				t.Errorf("Scan returned deleted key %s", k)
			}
		}
	}
}

func testSnapshotRestore(t *testing.T, factory DBFactory) {
	source := factory()
	defer source.Close()

	requireFeature(t, source, db.FeatureSet|db.FeatureSnapshot|db.FeatureRestore)
	ctx := context.Background()

	want := make(map[string][]byte)
	for i := 0; i < 300; i++ {
		key := fmt.Sprintf("snap-%d", i)
		value := []byte(fmt.Sprintf("value-%d", i))
		mustSet(t, source, key, value, 0)
		want[key] = value
	}

	got := 0
	for rec, err := range source.Snapshot(ctx) {
		if err != nil {
			t.Fatalf("Snapshot failed at %q: %v", rec.Key, err)
		}
		if !bytes.Equal(want[rec.Key], rec.Value) {
			t.Errorf("Snapshot yielded %q=%s, want %s", rec.Key, rec.Value, want[rec.Key])
		}
		got++
	}
	if got != len(want) {
		t.Errorf("Snapshot yielded %d records, want %d", got, len(want))
	}

	target := factory()
	defer target.Close()

	if err := target.Restore(ctx, source.Snapshot(ctx)); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	for key, value := range want {
		if result, exists := mustGet(t, target, key); !exists || !bytes.Equal(result, value) {
			t.Errorf("Restored key %s = %s (exists=%v), want %s", key, result, exists, value)
		}
	}

	// a failing sequence aborts the restore
	boom := errors.New("boom")
	err := target.Restore(ctx, func(yield func(db.Record, error) bool) {
		if !yield(db.Record{Key: "before-error", Value: []byte("x")}, nil) {
			return
		}
		yield(db.Record{}, boom)
	})
	if !errors.Is(err, boom) {
		t.Errorf("Restore should return the error of the sequence, got %v", err)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureSave|db.FeatureLoad)

	numKeys := 100
	for i := 0; i < numKeys; i++ {
		mustSet(t, database, fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)), 0)
	}
	mustSet(t, database, "with-ttl", []byte("ttl"), time.Hour)
	if database.SupportsFeature(db.FeatureDelete) {
		mustSet(t, database, "deleted", []byte("gone"), 0)
		database.Delete(context.Background(), "deleted")
	}

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Failed to save database: %v", err)
	}

	newDB := factory()
	defer newDB.Close()

	if err := newDB.Load(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Failed to load database: %v", err)
	}

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("key-%d", i)
		expectedValue := []byte(fmt.Sprintf("value-%d", i))

		value, exists := mustGet(t, newDB, key)
		if !exists {
			t.Errorf("Key %s should exist after load", key)
		} else if !bytes.Equal(value, expectedValue) {
			t.Errorf("Expected value %s for key %s, got %s", expectedValue, key, value)
		}
	}
	if rec, ok, _ := newDB.GetRecord(context.Background(), "with-ttl"); !ok || rec.ExpireAt == 0 {
		t.Errorf("ttl should survive Save/Load, got %+v (ok=%v)", rec, ok)
	}
	if _, exists := mustGet(t, newDB, "deleted"); exists {
		t.Errorf("Deleted key should not be saved")
	}

	if err := newDB.Load(bytes.NewReader([]byte("definitely not a database dump"))); err == nil {
		t.Errorf("Load of garbage should fail")
	}

	truncatedDB := factory()
	defer truncatedDB.Close()

	truncated := buf.Bytes()[:buf.Len()/2]
	if err := truncatedDB.Load(bytes.NewReader(truncated)); err == nil {
		t.Errorf("Load of a truncated file should fail")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)
	ctx := context.Background()

	mustSet(t, database, "", []byte("empty key"), 0)
	if value, exists := mustGet(t, database, ""); !exists || string(value) != "empty key" {
		t.Errorf("Empty key not stored correctly, got %q (exists=%v)", value, exists)
	}

	mustSet(t, database, "nil-value", nil, 0)
	if value, exists := mustGet(t, database, "nil-value"); !exists || len(value) != 0 {
		t.Errorf("Expected nil value to be stored as empty value, got %q (exists=%v)", value, exists)
	}

	binaryKey := string([]byte{0, 1, 2, 255, 254})
	mustSet(t, database, binaryKey, []byte{0, 0, 0}, 0)
	if value, exists := mustGet(t, database, binaryKey); !exists || !bytes.Equal(value, []byte{0, 0, 0}) {
		t.Errorf("Binary key not stored correctly")
	}

	unicodeKey := "ключ-🔑"
	mustSet(t, database, unicodeKey, []byte("значение"), 0)
	if value, exists := mustGet(t, database, unicodeKey); !exists || string(value) != "значение" {
		t.Errorf("Unicode key not stored correctly")
	}

	largeValue := make([]byte, 64*1024)
	rand.New(rand.NewSource(1)).Read(largeValue)
	mustSet(t, database, "large", largeValue, 0)
	if value, exists := mustGet(t, database, "large"); !exists || !bytes.Equal(value, largeValue) {
		t.Errorf("Large value not stored correctly")
	}

	if database.SupportsFeature(db.FeatureSetTTL) {
		mustSet(t, database, "negative-ttl", []byte("v"), -time.Second)
		if _, exists := mustGet(t, database, "negative-ttl"); !exists {
			t.Errorf("A negative ttl means no expiry")
		}
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if database.SupportsFeature(db.FeatureScan) {
		if _, _, err := database.Scan(cancelled, 0, 10, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("Scan with a cancelled context should fail with context.Canceled, got %v", err)
		}
	}
}

func testClosed(t *testing.T, database db.KVDB) {
	requireFeature(t, database, db.FeatureSet|db.FeatureGet)
	ctx := context.Background()

	mustSet(t, database, "key", []byte("value"), 0)
	if err := database.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	if err := database.Set(ctx, "key", []byte("value"), 0); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Set after Close should fail with ErrClosed, got %v", err)
	}
	if _, _, err := database.Get(ctx, "key"); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Get after Close should fail with ErrClosed, got %v", err)
	}
}

// testConcurrentCAS increments counters from many goroutines. Every successful CompareAndSet
// must be reflected in the final value.
func testConcurrentCAS(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureGet|db.FeatureCompareAndSet)
	ctx := context.Background()

	const (
		workers    = 8
		increments = 200
		counters   = 4
	)
	var (
		wg       sync.WaitGroup
		failures atomic.Int64
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < increments; i++ {
				key := fmt.Sprintf("counter-%d", (w+i)%counters)
				for {
					rec, ok, err := database.GetRecord(ctx, key)
					if err != nil {
						failures.Add(1)
						return
					}
					var n int
					var expected uint64
					if ok {
						fmt.Sscanf(string(rec.Value), "%d", &n)
						expected = rec.Version
					}
					swapped, err := database.CompareAndSet(ctx, key, expected, []byte(fmt.Sprint(n+1)), 0)
					if err != nil {
						failures.Add(1)
						return
					}
					if swapped {
						break
					}
				}
			}
		}(w)
	}
	wg.Wait()

	if failures.Load() > 0 {
		t.Fatalf("%d workers failed with an error", failures.Load())
	}

	total := 0
	for c := 0; c < counters; c++ {
		value, _ := mustGet(t, database, fmt.Sprintf("counter-%d", c))
		var n int
		fmt.Sscanf(string(value), "%d", &n)
		total += n
	}
	if total != workers*increments {
		t.Errorf("Lost updates: counters sum to %d, want %d", total, workers*increments)
	}
}

func testRealisticUsage(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)
	ctx := context.Background()

	const (
		goroutines = 8
		opsPerG    = 2000
		keySpace   = 256
	)

	// every goroutine owns its keys, so the last write of a goroutine decides the final value
	var wg sync.WaitGroup
	final := make([]map[string][]byte, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(g)))
			state := make(map[string][]byte)
			for i := 0; i < opsPerG; i++ {
				key := fmt.Sprintf("g%d-key-%d", g, rng.Intn(keySpace))
				switch op := rng.Intn(10); {
				case op < 5:
					value := []byte(fmt.Sprintf("g%d-value-%d", g, i))
					if err := database.Set(ctx, key, value, 0); err != nil {
						t.Errorf("Set failed: %v", err)
						return
					}
					state[key] = value
				case op < 8:
					value, ok, err := database.Get(ctx, key)
					if err != nil {
						t.Errorf("Get failed: %v", err)
						return
					}
					want, exists := state[key]
					if ok != exists || !bytes.Equal(value, want) {
						t.Errorf("Get(%s) = %s (ok=%v), want %s (ok=%v)", key, value, ok, want, exists)
					}
				default:
					existed, err := database.Delete(ctx, key)
					if err != nil {
						t.Errorf("Delete failed: %v", err)
						return
					}
					if _, exists := state[key]; existed != exists {
						t.Errorf("Delete(%s) existed=%v, want %v", key, existed, exists)
					}
					delete(state, key)
				}
			}
			final[g] = state
		}(g)
	}
	wg.Wait()

	for g, state := range final {
		for i := 0; i < keySpace; i++ {
			key := fmt.Sprintf("g%d-key-%d", g, i)
			value, ok := mustGet(t, database, key)
			want, exists := state[key]
			if ok != exists || !bytes.Equal(value, want) {
				t.Errorf("Final Get(%s) = %s (ok=%v), want %s (ok=%v)", key, value, ok, want, exists)
			}
		}
	}
}
