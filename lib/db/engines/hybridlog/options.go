package hybridlog

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/address"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/epoch"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/record"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultIndexBuckets        = 1 << 16
	defaultMutableCapacity     = 16 << 20 // 16 MiB per mutable region
	defaultReadOnlyCapacity    = 64 << 20
	defaultSealThreshold       = 0.9
	defaultFlushAge            = 30 * time.Second
	defaultDiskSegmentSize     = 64 << 20
	defaultIOTimeout           = 2 * time.Second
	defaultAdmitTimeout        = 100 * time.Millisecond
	defaultMaxKeySize          = 64 << 10
	defaultMaxValueSize        = 4 << 20
	defaultCoordinatorInterval = 100 * time.Millisecond
	defaultDiskCompactRatio    = 0.5
)

// Options configures a hybrid log engine. They are only read by NewHybridLog.
type Options struct {
	Dir                 string        // Data directory ("" = private temp dir removed on Close)
	IndexBuckets        int           // Number of index buckets, rounded up to a power of two
	MutableCapacity     int           // Size of one mutable region in bytes
	ReadOnlyCapacity    int64         // Sealed bytes kept in memory before flushing to disk
	SealThreshold       float64       // Fill ratio (0..1] at which a mutable region is sealed
	FlushAge            time.Duration // Sealed segments older than this are flushed (0 = never by age)
	DiskSegmentSize     int64         // Maximum size of one disk file
	MaxDiskBytes        int64         // Bound of the disk tier (0 = unbounded)
	IOTimeout           time.Duration // Deadline of a single disk read
	AdmitTimeout        time.Duration // Wait of a write for the read-only tier to drain (<0 = fail right away)
	MaxKeySize          int           // Largest accepted key in bytes
	MaxValueSize        int           // Largest accepted value in bytes
	PromoteOnRead       bool          // Copy records read from disk back into the mutable region
	CoordinatorInterval time.Duration // Time between tier coordinator cycles
	EpochSlots          int           // Number of concurrently pinned guards supported
	DiskCompactRatio    float64       // Disk files with a lower live record ratio are compacted (0 = never)
}

// DefaultOptions returns the default hybrid log options
func DefaultOptions() *Options {
	return &Options{
		IndexBuckets:        defaultIndexBuckets,
		MutableCapacity:     defaultMutableCapacity,
		ReadOnlyCapacity:    defaultReadOnlyCapacity,
		SealThreshold:       defaultSealThreshold,
		FlushAge:            defaultFlushAge,
		DiskSegmentSize:     defaultDiskSegmentSize,
		IOTimeout:           defaultIOTimeout,
		AdmitTimeout:        defaultAdmitTimeout,
		MaxKeySize:          defaultMaxKeySize,
		MaxValueSize:        defaultMaxValueSize,
		PromoteOnRead:       true,
		CoordinatorInterval: defaultCoordinatorInterval,
		EpochSlots:          epoch.DefaultSlots,
		DiskCompactRatio:    defaultDiskCompactRatio,
	}
}

// validate fills zero values with defaults and rejects impossible combinations
func (o *Options) validate() error {
	def := DefaultOptions()
	if o.IndexBuckets <= 0 {
		o.IndexBuckets = def.IndexBuckets
	}
	if o.MutableCapacity <= 0 {
		o.MutableCapacity = def.MutableCapacity
	}
	if o.ReadOnlyCapacity <= 0 {
		o.ReadOnlyCapacity = def.ReadOnlyCapacity
	}
	if o.SealThreshold <= 0 || o.SealThreshold > 1 {
		o.SealThreshold = def.SealThreshold
	}
	if o.DiskSegmentSize <= 0 {
		o.DiskSegmentSize = def.DiskSegmentSize
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = def.IOTimeout
	}
	if o.AdmitTimeout == 0 {
		o.AdmitTimeout = def.AdmitTimeout
	}
	if o.MaxKeySize <= 0 {
		o.MaxKeySize = def.MaxKeySize
	}
	if o.MaxValueSize <= 0 {
		o.MaxValueSize = def.MaxValueSize
	}
	if o.CoordinatorInterval <= 0 {
		o.CoordinatorInterval = def.CoordinatorInterval
	}
	if o.EpochSlots <= 0 {
		o.EpochSlots = def.EpochSlots
	}
	if o.DiskCompactRatio < 0 || o.DiskCompactRatio >= 1 {
		return fmt.Errorf("hybridlog: DiskCompactRatio must be in [0, 1), got %f", o.DiskCompactRatio)
	}

	if int64(o.MutableCapacity) > address.MaxOffset {
		return fmt.Errorf("hybridlog: MutableCapacity %d exceeds the addressable %d bytes", o.MutableCapacity, int64(address.MaxOffset))
	}
	if largest := record.Size(o.MaxKeySize, o.MaxValueSize); largest > o.MutableCapacity {
		return fmt.Errorf("hybridlog: a record of MaxKeySize and MaxValueSize (%d bytes) does not fit into MutableCapacity (%d bytes)", largest, o.MutableCapacity)
	}
	if int64(record.Size(o.MaxKeySize, o.MaxValueSize)) > record.MaxRecordSize {
		return fmt.Errorf("hybridlog: MaxKeySize + MaxValueSize exceeds the record size limit of %d bytes", record.MaxRecordSize)
	}
	return nil
}
