package hybridlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/address"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/epoch"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/index"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/region"
	"github.com/ValentinKolb/hKV/lib/db/util"
	"github.com/ValentinKolb/hKV/lib/logging"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger(logging.Engine)

// maxAppendAttempts bounds how often an append retries on a freshly rotated region
const maxAppendAttempts = 64

// --------------------------------------------------------------------------
// Core engine structure
// --------------------------------------------------------------------------

// hybridLog implements db.KVDB as a tiered log: a mutable in-memory region, sealed memory
// mapped segments and immutable disk files, tied together by a lock-free hash index and epoch
// based reclamation.
type hybridLog struct {
	opts    Options
	dir     string
	ownsDir bool
	lock    *os.File

	epoch *epoch.Manager
	index *index.Index
	disk  *region.Disk
	pool  *region.BufferPool

	segments    *xsync.MapOf[uint32, *segment]
	current     atomic.Pointer[segment]
	nextSegment atomic.Uint32
	rotating    atomic.Bool

	fileStats *xsync.MapOf[uint32, *fileStats]

	version  atomic.Uint64 // last handed out record version
	roBytes  atomic.Int64  // bytes of sealing, sealed and migrating segments
	diskFull atomic.Bool   // set when the last migration hit MaxDiskBytes

	coord   *coordinator
	metrics *engineMetrics

	active atomic.Int64 // in-flight operations
	closed atomic.Bool
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewHybridLog creates a hybrid log engine with the specified options (optional).
// Data found in opts.Dir is recovered before the engine accepts operations.
//
// Thread-safety: This function is not thread-safe and should only be called once per data
// directory.
func NewHybridLog(opts *Options) (db.KVDB, error) {
	return open(opts)
}

func open(opts *Options) (*hybridLog, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if err := o.validate(); err != nil {
		return nil, err
	}

	h := &hybridLog{
		opts:      o,
		dir:       o.Dir,
		epoch:     epoch.New(o.EpochSlots),
		index:     index.New(o.IndexBuckets, util.GenerateSeed()),
		pool:      region.NewBufferPool(o.MutableCapacity),
		segments:  xsync.NewMapOf[uint32, *segment](),
		fileStats: xsync.NewMapOf[uint32, *fileStats](),
	}

	if h.dir == "" {
		dir, err := os.MkdirTemp("", "hkv-*")
		if err != nil {
			return nil, fmt.Errorf("hybridlog: creating temp dir: %w", err)
		}
		h.dir, h.ownsDir = dir, true
	} else if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return nil, fmt.Errorf("hybridlog: creating data dir: %w", err)
	}

	lock, err := region.LockDir(h.dir)
	if err != nil {
		h.cleanupDir()
		return nil, fmt.Errorf("hybridlog: %w", err)
	}
	h.lock = lock

	if h.disk, err = region.OpenDisk(h.dir, o.DiskSegmentSize, o.MaxDiskBytes); err != nil {
		h.abort()
		return nil, fmt.Errorf("hybridlog: opening disk tier: %w", err)
	}

	h.metrics = newEngineMetrics(h)
	h.coord = newCoordinator(h)

	start := time.Now()
	stats, err := h.recover()
	if err != nil {
		h.abort()
		return nil, fmt.Errorf("hybridlog: recovering %s: %w", h.dir, err)
	}
	if stats.files > 0 {
		log.Infof("recovered %d keys from %d files in %s (%s)", stats.keys, stats.files, h.dir, time.Since(start))
	}

	first := newSegment(region.NewMutable(h.nextSegment.Add(1), h.pool.Get()))
	h.segments.Store(first.id, first)
	h.current.Store(first)

	h.coord.start()
	log.Debugf("opened hybrid log in %s", h.dir)
	return h, nil
}

// abort releases what open acquired before it failed
func (h *hybridLog) abort() {
	if h.disk != nil {
		h.disk.Close()
	}
	h.segments.Range(func(_ uint32, s *segment) bool {
		if r := s.sealed.Load(); r != nil {
			r.Close()
		}
		return true
	})
	if h.lock != nil {
		h.lock.Close()
	}
	h.cleanupDir()
}

func (h *hybridLog) cleanupDir() {
	if h.ownsDir {
		os.RemoveAll(h.dir)
	}
}

// --------------------------------------------------------------------------
// Operation helpers
// --------------------------------------------------------------------------

// enter registers an in-flight operation, Close waits for all of them
func (h *hybridLog) enter() error {
	h.active.Add(1)
	if h.closed.Load() {
		h.active.Add(-1)
		return db.ErrClosed
	}
	return nil
}

func (h *hybridLog) exit() {
	h.active.Add(-1)
}

func (h *hybridLog) checkKey(key string) error {
	if len(key) > h.opts.MaxKeySize {
		return fmt.Errorf("%w: %d bytes (max %d)", db.ErrKeyTooLarge, len(key), h.opts.MaxKeySize)
	}
	return nil
}

func (h *hybridLog) checkRecord(key string, value []byte) error {
	if err := h.checkKey(key); err != nil {
		return err
	}
	if len(value) > h.opts.MaxValueSize {
		return fmt.Errorf("%w: %d bytes (max %d)", db.ErrValueTooLarge, len(value), h.opts.MaxValueSize)
	}
	return nil
}

// retire hands a superseded address to the epoch manager for dead record accounting
func (h *hybridLog) retire(addr address.LogAddress) {
	if !addr.IsValid() {
		return
	}
	h.epoch.Defer(func() { h.markDead(addr) })
}

// markDead counts the formerly current record at addr as superseded in its segment or disk file
func (h *hybridLog) markDead(addr address.LogAddress) {
	switch addr.Kind() {
	case address.KindLog:
		if s, ok := h.segments.Load(addr.ID()); ok {
			s.dead.Inc()
		}
	case address.KindDisk:
		if fs, ok := h.fileStats.Load(addr.ID()); ok {
			fs.supersede(addr)
		}
	}
}

// markStale counts a record that never became current as dead
func (h *hybridLog) markStale(addr address.LogAddress) {
	switch addr.Kind() {
	case address.KindLog:
		if s, ok := h.segments.Load(addr.ID()); ok {
			s.dead.Inc()
		}
	case address.KindDisk:
		if fs, ok := h.fileStats.Load(addr.ID()); ok {
			fs.dead.Inc()
		}
	}
}

// statsFor returns the statistics of disk file id, creating them on first use
func (h *hybridLog) statsFor(id uint32) *fileStats {
	fs, _ := h.fileStats.LoadOrCompute(id, newFileStats)
	return fs
}

// --------------------------------------------------------------------------
// Appending
// --------------------------------------------------------------------------

// appendRecord writes rec into the current mutable region and returns its address.
// Full or sealing regions are rotated transparently. With wait unset the append fails right
// away instead of waiting for the coordinator when the read-only tier is over capacity.
func (h *hybridLog) appendRecord(ctx context.Context, rec *db.Record, wait bool) (address.LogAddress, error) {
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		seg := h.current.Load()
		if m := seg.mutable.Load(); m != nil {
			off, err := m.Append(rec)
			if err == nil {
				seg.records.Inc()
				seg.noteVersion(rec.Version)
				if m.CapacityUsed() >= h.opts.SealThreshold {
					// the record is written, a rejected rotation is retried by the next writer
					_ = h.rotate(ctx, seg, false)
				}
				addr := address.Log(seg.id, off)
				if rec.Tombstone {
					addr = addr.WithTombstone()
				}
				return addr, nil
			}
			if !errors.Is(err, db.ErrCapacityExceeded) && !errors.Is(err, region.ErrRegionSealed) {
				return address.Invalid, err
			}
		}
		if err := h.rotate(ctx, seg, wait); err != nil {
			return address.Invalid, err
		}
	}
	h.metrics.capacityRejects.Inc()
	return address.Invalid, fmt.Errorf("%w: no mutable region accepted the record", db.ErrCapacityExceeded)
}

// rotate replaces old as the current segment with a fresh mutable region and hands old to the
// coordinator for sealing. With wait set it blocks (bounded by ctx and AdmitTimeout) while the
// read-only tier is over capacity.
func (h *hybridLog) rotate(ctx context.Context, old *segment, wait bool) error {
	if h.current.Load() != old {
		return nil
	}
	if !h.rotating.CompareAndSwap(false, true) {
		// another writer is installing the next region
		for wait && h.rotating.Load() && h.current.Load() == old {
			runtime.Gosched()
		}
		return nil
	}
	defer h.rotating.Store(false)

	if h.current.Load() != old {
		return nil
	}
	if h.closed.Load() {
		return db.ErrClosed
	}
	if err := h.admit(ctx, wait); err != nil {
		return err
	}

	id := h.nextSegment.Add(1)
	if id > address.MaxID {
		return fmt.Errorf("%w: segment ids exhausted", db.ErrCapacityExceeded)
	}
	next := newSegment(region.NewMutable(id, h.pool.Get()))
	h.segments.Store(id, next)
	if !h.current.CompareAndSwap(old, next) {
		h.segments.Delete(id)
		h.pool.Put(next.mutable.Load().Buffer())
		return nil
	}

	old.setState(segSealing)
	old.mutable.Load().Seal()
	h.roBytes.Add(int64(h.opts.MutableCapacity))
	h.coord.enqueue(old)
	log.Debugf("rotated segment %d -> %d", old.id, id)
	return nil
}

// admit applies backpressure: a new region may only be installed while the sealed tier holds
// at most ReadOnlyCapacity bytes. Writers wait at most AdmitTimeout for a running migration.
func (h *hybridLog) admit(ctx context.Context, wait bool) error {
	if h.roBytes.Load() <= h.opts.ReadOnlyCapacity {
		return nil
	}
	h.coord.wake()
	if !wait || h.opts.AdmitTimeout < 0 || h.diskFull.Load() {
		h.metrics.capacityRejects.Inc()
		return fmt.Errorf("%w: read-only tier holds %d of %d bytes", db.ErrCapacityExceeded, h.roBytes.Load(), h.opts.ReadOnlyCapacity)
	}

	deadline := time.NewTimer(h.opts.AdmitTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()

	for h.roBytes.Load() > h.opts.ReadOnlyCapacity {
		select {
		case <-ctx.Done():
			h.metrics.capacityRejects.Inc()
			return fmt.Errorf("%w: %w", db.ErrCapacityExceeded, ctx.Err())
		case <-deadline.C:
			h.metrics.capacityRejects.Inc()
			return fmt.Errorf("%w: tier coordinator did not free the read-only tier within %s", db.ErrCapacityExceeded, h.opts.AdmitTimeout)
		case <-tick.C:
			if h.diskFull.Load() {
				h.metrics.capacityRejects.Inc()
				return fmt.Errorf("%w: disk tier full", db.ErrCapacityExceeded)
			}
			h.coord.wake()
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// lookup resolves key to a copy of its current record.
// The returned address is the one the index held (Invalid if the key has no entry) and is used
// by callers as the expected value of a compare-and-swap. live is false for missing,
// tombstoned and expired keys.
func (h *hybridLog) lookup(ctx context.Context, key string) (rec db.Record, addr address.LogAddress, live bool, err error) {
	g := h.epoch.Pin()
	addr, ok := h.index.Lookup(key)
	if !ok || addr.IsTombstone() {
		g.Unpin()
		return db.Record{}, addr, false, nil
	}

	switch addr.Kind() {
	case address.KindLog:
		rec, err = h.readLog(addr)
		g.Unpin()
	case address.KindDisk:
		// the file reference is taken under the guard, the I/O runs without it
		future := h.disk.ReadAsync(addr.ID(), addr.Offset())
		g.Unpin()
		rec, err = h.awaitDisk(ctx, addr, future)
	default:
		g.Unpin()
		log.Errorf("index entry of %q holds malformed address %s", key, addr)
		return db.Record{}, addr, false, db.ErrInvalidAddress
	}

	if err != nil {
		return db.Record{}, addr, false, err
	}
	if rec.Tombstone || rec.Expired(time.Now().UnixNano()) {
		return rec, addr, false, nil
	}
	return rec, addr, true, nil
}

// readLog copies the record at a log address. The caller must hold a guard.
func (h *hybridLog) readLog(addr address.LogAddress) (db.Record, error) {
	seg, ok := h.segments.Load(addr.ID())
	if !ok {
		log.Errorf("address %s names unregistered segment %d", addr, addr.ID())
		return db.Record{}, db.ErrInvalidAddress
	}
	v, err := seg.read(addr.Offset())
	if err != nil {
		if db.IsCorruption(err) {
			h.metrics.corruptions.Inc()
			log.Errorf("reading %s from %s segment %d: %v", addr, seg.tier(), seg.id, err)
		}
		return db.Record{}, err
	}
	return v.Record(), nil
}

// awaitDisk waits for a disk read under the IOTimeout deadline
func (h *hybridLog) awaitDisk(ctx context.Context, addr address.LogAddress, future <-chan region.ReadResult) (db.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.IOTimeout)
	defer cancel()

	h.metrics.diskReads.Inc()
	rec, err := region.Await(ctx, future)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, context.DeadlineExceeded):
		h.metrics.diskTimeouts.Inc()
		log.Warningf("disk read of %s timed out after %s", addr, h.opts.IOTimeout)
	case db.IsCorruption(err):
		h.metrics.corruptions.Inc()
		log.Errorf("reading %s: %v", addr, err)
	case errors.Is(err, db.ErrInvalidAddress):
		log.Errorf("address %s names unregistered disk file %d", addr, addr.ID())
	}
	return db.Record{}, err
}

// promote copies a record read from disk into the mutable region with a fresh version.
// Returns the record the caller should report: the promoted copy if it became current, the
// original otherwise.
func (h *hybridLog) promote(ctx context.Context, from address.LogAddress, rec db.Record) db.Record {
	promoted := rec
	promoted.Version = h.version.Add(1)

	to, err := h.appendRecord(ctx, &promoted, false)
	if err != nil {
		log.Debugf("promotion of %q skipped: %v", rec.Key, err)
		return rec
	}
	if !h.index.CompareAndSwap(rec.Key, from, to) {
		// the key changed while the disk read was in flight
		h.retire(to)
		return rec
	}
	h.retire(from)
	h.metrics.promotions.Inc()
	return promoted
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Set inserts or updates the value of key.
// A ttl > 0 makes the value invisible once it elapsed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (h *hybridLog) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := h.enter(); err != nil {
		return err
	}
	defer h.exit()
	if err := h.checkRecord(key, value); err != nil {
		return err
	}
	defer h.metrics.observe("set", time.Now())
	h.metrics.sets.Inc()

	rec := db.Record{Key: key, Value: value, ExpireAt: db.ExpireAt(ttl), Version: h.version.Add(1)}
	addr, err := h.appendRecord(ctx, &rec, true)
	if err != nil {
		return err
	}
	h.metrics.valueSizes.AddSample(len(value))

	old, _ := h.index.Update(key, addr)
	h.retire(old)
	return nil
}

// Delete writes a tombstone for key. Returns whether a live value existed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (h *hybridLog) Delete(ctx context.Context, key string) (bool, error) {
	if err := h.enter(); err != nil {
		return false, err
	}
	defer h.exit()
	if err := h.checkKey(key); err != nil {
		return false, err
	}
	defer h.metrics.observe("delete", time.Now())
	h.metrics.deletes.Inc()

	_, _, live, err := h.lookup(ctx, key)
	if err != nil || !live {
		return false, err
	}

	tomb := db.Record{Key: key, Tombstone: true, Version: h.version.Add(1)}
	addr, err := h.appendRecord(ctx, &tomb, true)
	if err != nil {
		return false, err
	}

	old, removed := h.index.Remove(key, addr)
	if !removed {
		// deleted concurrently, our tombstone never became current
		h.retire(addr)
		return false, nil
	}
	h.retire(old)
	return true, nil
}

// CompareAndSet replaces the value of key if its current version equals expectedVersion.
// An expectedVersion of 0 requires the key to be absent, deleted or expired.
// Lost races against concurrent writers are retried internally and never surfaced.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (h *hybridLog) CompareAndSet(ctx context.Context, key string, expectedVersion uint64, value []byte, ttl time.Duration) (bool, error) {
	if err := h.enter(); err != nil {
		return false, err
	}
	defer h.exit()
	if err := h.checkRecord(key, value); err != nil {
		return false, err
	}
	defer h.metrics.observe("cas", time.Now())
	h.metrics.casOps.Inc()

	for {
		cur, addr, live, err := h.lookup(ctx, key)
		if err != nil {
			return false, err
		}
		if (expectedVersion == 0 && live) || (expectedVersion != 0 && (!live || cur.Version != expectedVersion)) {
			h.metrics.casFailed.Inc()
			return false, nil
		}

		rec := db.Record{Key: key, Value: value, ExpireAt: db.ExpireAt(ttl), Version: h.version.Add(1)}
		next, err := h.appendRecord(ctx, &rec, true)
		if err != nil {
			return false, err
		}
		if h.index.CompareAndSwap(key, addr, next) {
			h.retire(addr)
			h.metrics.valueSizes.AddSample(len(value))
			return true, nil
		}
		h.retire(next)
		if err := ctx.Err(); err != nil {
			return false, err
		}
	}
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get returns a copy of the value of key.
// Only reads of disk resident keys block, bounded by ctx and IOTimeout.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (h *hybridLog) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rec, ok, err := h.GetRecord(ctx, key)
	return rec.Value, ok, err
}

// GetRecord returns a copy of the current record of key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (h *hybridLog) GetRecord(ctx context.Context, key string) (db.Record, bool, error) {
	if err := h.enter(); err != nil {
		return db.Record{}, false, err
	}
	defer h.exit()
	if err := h.checkKey(key); err != nil {
		return db.Record{}, false, err
	}
	defer h.metrics.observe("get", time.Now())
	h.metrics.gets.Inc()

	rec, addr, live, err := h.lookup(ctx, key)
	if err != nil || !live {
		return db.Record{}, false, err
	}
	h.metrics.hits.Inc()

	if addr.Kind() == address.KindDisk && h.opts.PromoteOnRead {
		rec = h.promote(ctx, addr, rec)
	}
	return rec, true, nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Lifecycle
// --------------------------------------------------------------------------

const supportedFeatures = db.FeatureSet | db.FeatureSetTTL | db.FeatureGet | db.FeatureDelete |
	db.FeatureCompareAndSet | db.FeatureScan | db.FeatureSnapshot | db.FeatureRestore |
	db.FeatureSave | db.FeatureLoad | db.FeatureTiering | db.FeatureGarbageCollect

// SupportsFeature reports whether all features of the mask are supported
func (h *hybridLog) SupportsFeature(feature db.Feature) bool {
	return feature&supportedFeatures == feature
}

// Close stops the tier coordinator, persists the current mutable region as sealed segment and
// releases every mapping and file. In-flight operations finish first, later calls fail with
// db.ErrClosed. Closing twice is a no-op.
func (h *hybridLog) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	for h.active.Load() != 0 {
		runtime.Gosched()
	}
	h.coord.stop()

	var firstErr error
	if !h.ownsDir {
		// regions that were never sealed would otherwise be lost
		cur := h.current.Load()
		cur.setState(segSealing)
		cur.mutable.Load().Seal()
		h.segments.Range(func(_ uint32, s *segment) bool {
			if s.getState() != segSealing {
				return true
			}
			if m := s.mutable.Load(); m != nil && m.Size() == 0 {
				return true
			}
			if err := h.coord.seal(s); err != nil && firstErr == nil {
				firstErr = err
			}
			return true
		})
	}

	h.epoch.Drain()
	h.segments.Range(func(_ uint32, s *segment) bool {
		if r := s.sealed.Load(); r != nil {
			r.Close()
		}
		return true
	})
	h.disk.Close()
	h.lock.Close()
	h.cleanupDir()

	log.Debugf("closed hybrid log in %s", h.dir)
	return firstErr
}
