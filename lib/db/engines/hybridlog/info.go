package hybridlog

import (
	"slices"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/db/util"
)

// segmentInfo describes one log segment in GetInfo
type segmentInfo struct {
	ID      uint32  `json:"id"`
	State   string  `json:"state"`
	Tier    string  `json:"tier"`
	Bytes   int64   `json:"bytes"`
	Records int64   `json:"records"`
	Dead    int64   `json:"dead"`
	AgeSec  float64 `json:"sealed_age_sec"`
	Corrupt bool    `json:"corrupt"`
}

// diskFileInfo describes one disk file in GetInfo
type diskFileInfo struct {
	ID        uint32  `json:"id"`
	Bytes     int64   `json:"bytes"`
	Records   int64   `json:"records"`
	Dead      int64   `json:"dead"`
	Tombs     int64   `json:"tombstones"`
	Expired   int64   `json:"expired"`
	LiveRatio float64 `json:"live_ratio"`
}

// GetInfo returns statistics about the engine. Counts are sampled without stopping writers.
func (h *hybridLog) GetInfo() db.DatabaseInfo {
	now := time.Now()

	var (
		segments     []segmentInfo
		mutableBytes int64
	)
	h.segments.Range(func(id uint32, s *segment) bool {
		info := segmentInfo{
			ID:      id,
			State:   s.getState().String(),
			Tier:    s.tier().String(),
			Bytes:   s.size(),
			Records: s.records.Value(),
			Dead:    s.dead.Value(),
			AgeSec:  s.age(now).Seconds(),
		}
		if r := s.sealed.Load(); r != nil && r.Corrupt() != nil {
			info.Corrupt = true
		}
		if m := s.mutable.Load(); m != nil && s.getState() == segActive {
			mutableBytes += int64(m.Size())
		}
		segments = append(segments, info)
		return true
	})
	slices.SortFunc(segments, func(a, b segmentInfo) int { return int(a.ID) - int(b.ID) })

	var files []diskFileInfo
	for _, f := range h.disk.Files() {
		info := diskFileInfo{ID: f.ID, Bytes: f.Size, LiveRatio: 1}
		if fs, ok := h.fileStats.Load(f.ID); ok {
			info.Records = fs.records.Value()
			info.Dead = fs.dead.Value()
			info.Tombs = fs.tombs.Value()
			info.Expired = fs.expired.Value()
			info.LiveRatio = fs.liveRatio()
		}
		files = append(files, info)
	}

	m := h.metrics
	meta := &struct {
		Dir               string                 `json:"dir"`
		CurrentVersion    uint64                 `json:"current_version"`
		IndexBuckets      int                    `json:"index_buckets"`
		IndexEntries      int                    `json:"index_entries"`
		IndexDistribution util.DistributionStats `json:"index_distribution"`
		MutableBytes      int64                  `json:"mutable_bytes"`
		ReadOnlyBytes     int64                  `json:"readonly_bytes"`
		DiskBytes         int64                  `json:"disk_bytes"`
		DiskFull          bool                   `json:"disk_full"`
		Segments          []segmentInfo          `json:"segments"`
		DiskFiles         []diskFileInfo         `json:"disk_files"`
		EpochCurrent      uint64                 `json:"epoch_current"`
		EpochPending      int                    `json:"epoch_pending_defers"`
		EpochPinned       int                    `json:"epoch_pinned_guards"`
		Latency           map[string]latencyInfo `json:"latency"`
		ValueSizeAvg      int                    `json:"value_size_avg"`
		ValueSizeP99      int                    `json:"value_size_p99"`
		Promotions        uint64                 `json:"promotions"`
		DiskReads         uint64                 `json:"disk_reads"`
		DiskTimeouts      uint64                 `json:"disk_timeouts"`
		Corruptions       uint64                 `json:"corruptions"`
		Migrations        uint64                 `json:"migrations"`
		Compactions       uint64                 `json:"compactions"`
	}{
		Dir:               h.dir,
		CurrentVersion:    h.version.Load(),
		IndexBuckets:      h.index.Buckets(),
		IndexEntries:      h.index.Entries(),
		IndexDistribution: util.NewDistributionStats(h.index.ChainLengths(1024)),
		MutableBytes:      mutableBytes,
		ReadOnlyBytes:     h.roBytes.Load(),
		DiskBytes:         h.disk.Size(),
		DiskFull:          h.diskFull.Load(),
		Segments:          segments,
		DiskFiles:         files,
		EpochCurrent:      h.epoch.Current(),
		EpochPending:      h.epoch.Pending(),
		EpochPinned:       h.epoch.Pinned(),
		Latency:           m.latencies(),
		ValueSizeAvg:      m.valueSizes.AverageSize(),
		ValueSizeP99:      m.valueSizes.GetPercentileEstimate(99),
		Promotions:        m.promotions.Get(),
		DiskReads:         m.diskReads.Get(),
		DiskTimeouts:      m.diskTimeouts.Get(),
		Corruptions:       m.corruptions.Get(),
		Migrations:        m.migrations.Get(),
		Compactions:       m.compactions.Get(),
	}

	var features []db.Feature
	for f := db.FeatureSet; f <= db.FeatureGarbageCollect; f <<= 1 {
		if h.SupportsFeature(f) {
			features = append(features, f)
		}
	}

	return db.DatabaseInfo{
		SizeBytes:         int(mutableBytes + h.roBytes.Load() + h.disk.Size()),
		DbType:            db.ImplHybridLog,
		SupportedFeatures: features,
		Metadata:          meta,
	}
}
