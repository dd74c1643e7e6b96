package hybridlog

import (
	"testing"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
	dbtesting "github.com/ValentinKolb/hKV/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "HybridLog", func() db.KVDB {
		store, err := NewHybridLog(nil)
		if err != nil {
			panic(err)
		}
		return store
	})

	// tiny tiers so the suite runs while records move between memory and disk
	dbtesting.RunKVDBTests(t, "HybridLog(tiered)", func() db.KVDB {
		store, err := NewHybridLog(&Options{
			IndexBuckets:        4096,
			MutableCapacity:     256 << 10,
			ReadOnlyCapacity:    512 << 10,
			FlushAge:            10 * time.Millisecond,
			DiskSegmentSize:     128 << 10,
			MaxKeySize:          1 << 10,
			MaxValueSize:        128 << 10,
			PromoteOnRead:       true,
			CoordinatorInterval: 2 * time.Millisecond,
			AdmitTimeout:        time.Second,
			DiskCompactRatio:    0.5,
		})
		if err != nil {
			panic(err)
		}
		return store
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "HybridLog", func() db.KVDB {
		store, err := NewHybridLog(nil)
		if err != nil {
			panic(err)
		}
		return store
	})
}
