package hybridlog

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/hKV/lib/db/util"
	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// percentiles reported in the latency section of GetInfo
var percentiles = []float64{0.5, 0.9, 0.99, 0.999}

// engineMetrics holds the instruments of one engine. Every engine owns its own sets so several
// engines can live in one process.
type engineMetrics struct {
	set *vm.Set

	gets, hits, sets, deletes *vm.Counter
	casOps, casFailed         *vm.Counter
	diskReads, diskTimeouts   *vm.Counter
	promotions, corruptions   *vm.Counter
	seals, migrations         *vm.Counter
	migratedRecords           *vm.Counter
	compactions               *vm.Counter
	capacityRejects           *vm.Counter

	getDuration, setDuration *vm.Histogram

	// latency samples for GetInfo, in nanoseconds
	latency gometrics.Registry

	valueSizes *util.SizeHistogram
}

func newEngineMetrics(h *hybridLog) *engineMetrics {
	s := vm.NewSet()
	m := &engineMetrics{
		set:             s,
		gets:            s.NewCounter(`hkv_get_total`),
		hits:            s.NewCounter(`hkv_get_hits_total`),
		sets:            s.NewCounter(`hkv_set_total`),
		deletes:         s.NewCounter(`hkv_delete_total`),
		casOps:          s.NewCounter(`hkv_cas_total`),
		casFailed:       s.NewCounter(`hkv_cas_failed_total`),
		diskReads:       s.NewCounter(`hkv_disk_reads_total`),
		diskTimeouts:    s.NewCounter(`hkv_disk_read_timeouts_total`),
		promotions:      s.NewCounter(`hkv_promotions_total`),
		corruptions:     s.NewCounter(`hkv_corruptions_total`),
		seals:           s.NewCounter(`hkv_segments_sealed_total`),
		migrations:      s.NewCounter(`hkv_segments_migrated_total`),
		migratedRecords: s.NewCounter(`hkv_records_migrated_total`),
		compactions:     s.NewCounter(`hkv_disk_compactions_total`),
		capacityRejects: s.NewCounter(`hkv_capacity_exceeded_total`),
		getDuration:     s.NewHistogram(`hkv_get_duration_seconds`),
		setDuration:     s.NewHistogram(`hkv_set_duration_seconds`),
		latency:         gometrics.NewRegistry(),
		valueSizes:      util.NewSizeHistogram(),
	}

	for _, op := range []string{"get", "set", "delete", "cas"} {
		m.latency.Register(op, gometrics.NewHistogram(gometrics.NewExpDecaySample(1028, 0.015)))
	}

	// gauges are evaluated on every scrape
	s.NewGauge(`hkv_index_entries`, func() float64 { return float64(h.index.Entries()) })
	s.NewGauge(`hkv_readonly_bytes`, func() float64 { return float64(h.roBytes.Load()) })
	s.NewGauge(`hkv_disk_bytes`, func() float64 { return float64(h.disk.Size()) })
	s.NewGauge(`hkv_segments`, func() float64 { return float64(h.segments.Size()) })
	s.NewGauge(`hkv_disk_files`, func() float64 { return float64(h.fileStats.Size()) })
	s.NewGauge(`hkv_epoch_pending_defers`, func() float64 { return float64(h.epoch.Pending()) })
	s.NewGauge(`hkv_epoch_pinned_guards`, func() float64 { return float64(h.epoch.Pinned()) })
	s.NewGauge(`hkv_epoch_current`, func() float64 { return float64(h.epoch.Current()) })
	return m
}

// observe records the latency of op since start
func (m *engineMetrics) observe(op string, start time.Time) {
	d := time.Since(start)
	switch op {
	case "get":
		m.getDuration.Update(d.Seconds())
	case "set":
		m.setDuration.Update(d.Seconds())
	}
	if hist, ok := m.latency.Get(op).(gometrics.Histogram); ok {
		hist.Update(d.Nanoseconds())
	}
}

// latencyInfo summarizes the latency samples per operation
type latencyInfo struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean_ns"`
	P50   float64 `json:"p50_ns"`
	P90   float64 `json:"p90_ns"`
	P99   float64 `json:"p99_ns"`
	P999  float64 `json:"p999_ns"`
}

func (m *engineMetrics) latencies() map[string]latencyInfo {
	out := make(map[string]latencyInfo)
	m.latency.Each(func(name string, i interface{}) {
		hist, ok := i.(gometrics.Histogram)
		if !ok {
			return
		}
		snap := hist.Snapshot()
		ps := snap.Percentiles(percentiles)
		out[name] = latencyInfo{
			Count: snap.Count(),
			Mean:  snap.Mean(),
			P50:   ps[0],
			P90:   ps[1],
			P99:   ps[2],
			P999:  ps[3],
		}
	})
	return out
}

// WritePrometheus writes the metrics of the engine in the Prometheus text format
func (h *hybridLog) WritePrometheus(w io.Writer) {
	h.metrics.set.WritePrometheus(w)
}

// String implements fmt.Stringer for debugging output of the latency summary
func (l latencyInfo) String() string {
	return fmt.Sprintf("n=%d mean=%s p50=%s p99=%s", l.Count,
		time.Duration(l.Mean), time.Duration(l.P50), time.Duration(l.P99))
}
