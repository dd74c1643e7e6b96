package bench

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/hKV/cmd/util"
	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/logging"
	"github.com/ValentinKolb/hKV/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logger.GetLogger(logging.CLI)

var (
	// BenchCmd runs parallel benchmarks against an embedded engine
	BenchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Performance testing tool for the embedded engine",
		Long: `Runs parallel benchmarks against an engine in a private temporary directory.
All engine flags apply, --data-dir is ignored.`,
		PreRunE: processBenchConfig,
		RunE:    run,
	}
	benchKeyPrefix        = "__bench"
	benchLargeValueSizeKB = 100
	benchNumThreads       = 10
	benchKeySpread        = 1000
	benchSkip             []string

	benchStore store.IStore
	benchDB    db.KVDB
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	key := "skip"
	BenchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated, e.g. set,get)"))
	key = "threads"
	BenchCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines per CPU to use for the benchmark"))
	key = "large-value-size"
	BenchCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	BenchCmd.Flags().Int(key, 1000, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "metrics"
	BenchCmd.Flags().Bool(key, false, util.WrapString("Print the engine metrics in the Prometheus text format after the run"))
	key = "info"
	BenchCmd.Flags().Bool(key, false, util.WrapString("Print the engine info as JSON after the run"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	benchLargeValueSizeKB = viper.GetInt("large-value-size")
	benchKeySpread = max(viper.GetInt("keys"), 1)
	benchNumThreads = max(viper.GetInt("threads"), 1)
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	if benchLargeValueSizeKB > viper.GetInt("max-value-size") {
		return fmt.Errorf("large-value-size (%d KB) exceeds max-value-size", benchLargeValueSizeKB)
	}
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	opts, err := util.GetEngineOptions()
	if err != nil {
		return err
	}
	opts.Dir = ""

	if benchStore, benchDB, err = util.OpenStore(opts); err != nil {
		return err
	}
	defer benchStore.Close()

	fmt.Println("Performance testing tool for the hKV engine")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Mutable capacity: %d KB, read-only capacity: %d KB, flush age: %s\n",
		opts.MutableCapacity>>10, opts.ReadOnlyCapacity>>10, opts.FlushAge)
	fmt.Printf("Promote on read: %t, threads: %d, keys: %d\n", opts.PromoteOnRead, benchNumThreads, benchKeySpread)
	fmt.Println()
	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	for _, b := range benchmarks() {
		if shouldSkip(b.name) {
			results[b.name] = testing.BenchmarkResult{}
			printResult(b.name, testing.BenchmarkResult{})
			continue
		}
		result := testing.Benchmark(b.fn)
		results[b.name] = result
		printResult(b.name, result)
	}

	if viper.GetBool("info") {
		info, _ := benchStore.GetDBInfo()
		out, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("\n%s\n", out)
	}

	if viper.GetBool("metrics") {
		if mw, ok := benchDB.(db.MetricsWriter); ok {
			fmt.Println()
			mw.WritePrometheus(os.Stdout)
		}
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

type benchmark struct {
	name string
	fn   func(b *testing.B)
}

func benchmarks() []benchmark {
	return []benchmark{
		{"set", func(b *testing.B) {
			getKey, iter := getKeys("set")
			b.Cleanup(func() { iter(deleteKey("set")) })
			parallel(b, func(i int) error {
				return benchStore.Set(getKey(i), []byte("test"))
			}, "set")
		}},
		{"set-large", func(b *testing.B) {
			largeValue := make([]byte, benchLargeValueSizeKB<<10)
			getKey, iter := getKeys("set-large")
			b.Cleanup(func() { iter(deleteKey("set-large")) })
			b.SetBytes(int64(len(largeValue)))
			parallel(b, func(i int) error {
				return benchStore.Set(getKey(i), largeValue)
			}, "set-large")
		}},
		{"get", func(b *testing.B) {
			getKey, iter := getKeys("get")
			iter(setKey("get"))
			b.Cleanup(func() { iter(deleteKey("get")) })
			parallel(b, func(i int) error {
				_, _, err := benchStore.Get(getKey(i))
				return err
			}, "get")
		}},
		{"get-miss", func(b *testing.B) {
			getKey, _ := getKeys("get-miss")
			parallel(b, func(i int) error {
				_, _, err := benchStore.Get(getKey(i))
				return err
			}, "get-miss")
		}},
		{"delete", func(b *testing.B) {
			getKey, iter := getKeys("delete")
			iter(setKey("delete"))
			parallel(b, func(i int) error {
				_, err := benchStore.Delete(getKey(i))
				return err
			}, "delete")
		}},
		{"cas", func(b *testing.B) {
			getKey, iter := getKeys("cas")
			iter(setKey("cas"))
			b.Cleanup(func() { iter(deleteKey("cas")) })
			parallel(b, func(i int) error {
				key := getKey(i)
				rec, ok, err := benchStore.GetRecord(key)
				if err != nil || !ok {
					return err
				}
				// losing the race against another goroutine is part of the workload
				_, err = benchStore.CompareAndSet(key, rec.Version, []byte("swapped"), 0)
				return err
			}, "cas")
		}},
		{"scan", func(b *testing.B) {
			_, iter := getKeys("scan")
			iter(setKey("scan"))
			b.Cleanup(func() { iter(deleteKey("scan")) })
			buckets := uint64(max(viper.GetInt("index-buckets"), 1))
			parallel(b, func(i int) error {
				_, _, err := benchStore.Scan(uint64(i)%buckets, 10, benchKeyPrefix+"-scan-*")
				return err
			}, "scan")
		}},
		{"mixed", func(b *testing.B) {
			getKey, iter := getKeys("mixed")
			iter(setKey("mixed"))
			b.Cleanup(func() { iter(deleteKey("mixed")) })
			parallel(b, func(i int) error {
				key := getKey(i)
				var err error
				switch i % 4 {
				case 0:
					err = benchStore.Set(key, []byte("test"))
				case 1:
					_, _, err = benchStore.Get(key)
				case 2:
					_, err = benchStore.Delete(key)
				case 3:
					_, err = benchStore.Has(key)
				}
				return err
			}, "mixed")
		}},
	}
}

// parallel runs op on benchNumThreads goroutines per CPU, every goroutine with its own counter
func parallel(b *testing.B, op func(i int) error, name string) {
	b.SetParallelism(benchNumThreads)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			if err := op(counter); err != nil {
				log.Warningf("(%s) - operation failed: %v", name, err)
			}
			counter++
		}
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	return slices.Contains(benchSkip, test)
}

// getKeys creates the test keys of a benchmark and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, benchKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%s-%d", benchKeyPrefix, prefix, i)
	}

	getKey := func(i int) string {
		return keys[i%benchKeySpread]
	}
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}
	return getKey, iterateKeys
}

func setKey(name string) func(string) {
	return func(key string) {
		if err := benchStore.Set(key, []byte("test")); err != nil {
			log.Warningf("(%s) - error setting key: %v", name, err)
		}
	}
}

func deleteKey(name string) func(string) {
	return func(key string) {
		if _, err := benchStore.Delete(key); err != nil {
			log.Warningf("(%s) - error deleting key: %v", name, err)
		}
	}
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.N == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"MutableCapacityKB", "ReadOnlyCapacityKB", "FlushAge", "PromoteOnRead",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, test := range names {
		result := results[test]
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.N > 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strconv.Itoa(viper.GetInt("mutable-capacity")),
			strconv.FormatInt(viper.GetInt64("read-only-capacity"), 10),
			viper.GetDuration("flush-age").String(),
			strconv.FormatBool(viper.GetBool("promote-on-read")),
			strconv.Itoa(benchNumThreads),
			strconv.Itoa(benchLargeValueSizeKB),
			strconv.Itoa(benchKeySpread),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}
	return nil
}
