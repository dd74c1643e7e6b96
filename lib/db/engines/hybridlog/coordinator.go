package hybridlog

import (
	"errors"
	"math"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/address"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/record"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/region"
	"github.com/ValentinKolb/hKV/lib/db/util"
	"github.com/ValentinKolb/hKV/lib/logging"
	"github.com/lni/dragonboat/v4/logger"
)

var coordLog = logger.GetLogger(logging.Coordinator)

// coordinator moves segments through their lifecycle:
//
//	Active -> Sealing -> Sealed -> Migrating -> Retired
//
// Writers rotate the current region themselves and push the replaced segment on the event
// queue. The coordinator goroutine seals it, flushes sealed segments to the disk tier once the
// read-only tier is over capacity or a segment aged out, compacts disk files and drives epoch
// reclamation.
//
// Thread-safety: enqueue and wake may be called concurrently, everything else runs on the
// coordinator goroutine (or in Close after the goroutine stopped).
type coordinator struct {
	h        *hybridLog
	interval time.Duration

	events *util.LockFreeMPSC[*segment]
	wakeCh chan struct{}
	stopCh chan struct{}
	done   chan struct{}

	// sealed segments waiting for migration, keyed by id, ordered by seal sequence
	queue *util.MapHeap
	seq   uint64

	// disk files whose compaction failed with a corruption error
	quarantined map[uint32]bool
}

func newCoordinator(h *hybridLog) *coordinator {
	return &coordinator{
		h:           h,
		interval:    h.opts.CoordinatorInterval,
		events:      util.NewLockFreeMPSC[*segment](),
		wakeCh:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		queue:       util.NewMapHeap(),
		quarantined: make(map[uint32]bool),
	}
}

// enqueue hands a segment that left the Active state to the coordinator
func (c *coordinator) enqueue(s *segment) {
	if !c.events.Push(s) {
		coordLog.Warningf("segment %d enqueued after shutdown, it is sealed on close", s.id)
	}
}

// wake triggers a flush cycle without waiting for the timer
func (c *coordinator) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

func (c *coordinator) start() {
	go c.run()
}

// stop ends the coordinator loop and waits for it. A segment migration in progress completes.
func (c *coordinator) stop() {
	close(c.stopCh)
	c.events.Close()
	<-c.done
}

func (c *coordinator) stopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// track queues a sealed segment for migration
func (c *coordinator) track(s *segment) {
	c.seq++
	c.queue.AddItem(uint64(s.id), c.seq)
}

// run is the coordinator loop
// WARNING: this method should never be called directly! Use start() and stop().
func (c *coordinator) run() {
	defer close(c.done)

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		select {
		case s, ok := <-c.events.Recv():
			if !ok {
				return
			}
			if err := c.seal(s); err != nil {
				coordLog.Errorf("sealing segment %d failed, retrying next cycle: %v", s.id, err)
			}
			c.flush()

		case <-c.wakeCh:
			c.flush()

		case <-timer.C:
			c.retrySeals()
			c.flush()
			c.maintain()
			timer.Reset(c.interval)

		case <-c.stopCh:
			return
		}
	}
}

// --------------------------------------------------------------------------
// Sealing
// --------------------------------------------------------------------------

// seal persists the mutable region of s and switches the segment to the mapped copy.
// On error the segment stays in Sealing and keeps serving reads from its buffer.
func (c *coordinator) seal(s *segment) error {
	h := c.h
	m := s.mutable.Load()
	if m == nil || s.getState() != segSealing {
		return nil
	}
	m.WaitWriters()

	r, err := region.SealMutable(h.dir, m)
	if err != nil {
		return err
	}

	// readers fall back to the mapping as soon as the buffer pointer is cleared
	s.sealed.Store(r)
	s.mutable.Store(nil)
	s.sealedAt.Store(time.Now().UnixNano())
	s.setState(segSealed)
	h.roBytes.Add(int64(r.Size()) - int64(len(m.Buffer())))

	buf := m.Buffer()
	h.epoch.Defer(func() { h.pool.Put(buf) })

	c.track(s)
	h.metrics.seals.Inc()
	coordLog.Debugf("sealed segment %d (%d bytes)", s.id, r.Size())
	return nil
}

// retrySeals seals segments whose earlier seal attempt failed
func (c *coordinator) retrySeals() {
	cur := c.h.current.Load()
	c.h.segments.Range(func(_ uint32, s *segment) bool {
		if s != cur && s.getState() == segSealing && !c.queue.Contains(uint64(s.id)) {
			if err := c.seal(s); err != nil {
				coordLog.Warningf("sealing segment %d failed again: %v", s.id, err)
			}
		}
		return true
	})
}

// --------------------------------------------------------------------------
// Migration
// --------------------------------------------------------------------------

// flush migrates the oldest sealed segments while the read-only tier is over capacity or the
// oldest segment exceeds FlushAge. Stops between segments when the coordinator is stopped.
func (c *coordinator) flush() {
	h := c.h
	for !c.stopping() {
		item, ok := c.queue.Peek()
		if !ok {
			return
		}
		s, ok := h.segments.Load(uint32(item.Key))
		if !ok || s.getState() != segSealed {
			c.queue.RemoveByKey(item.Key)
			continue
		}

		overCapacity := h.roBytes.Load() > h.opts.ReadOnlyCapacity
		aged := h.opts.FlushAge > 0 && s.age(time.Now()) >= h.opts.FlushAge
		if !overCapacity && !aged {
			return
		}

		err := c.migrate(s)
		switch {
		case err == nil:
			c.queue.RemoveByKey(item.Key)
			h.diskFull.Store(false)
		case db.IsCorruption(err):
			// the segment stays registered so reads of its keys keep reporting the corruption
			c.queue.RemoveByKey(item.Key)
			h.roBytes.Add(-s.size())
			h.metrics.corruptions.Inc()
			coordLog.Errorf("segment %d is corrupt and will not be migrated: %v", s.id, err)
		case errors.Is(err, db.ErrCapacityExceeded):
			h.diskFull.Store(true)
			coordLog.Warningf("disk tier full, segment %d stays in memory: %v", s.id, err)
			return
		default:
			coordLog.Warningf("migrating segment %d failed, retrying next cycle: %v", s.id, err)
			return
		}
	}
}

// migrate copies the live records of s to the disk tier, republishes them in the index and
// retires the segment. Expired records are written as tombstones so older versions of their
// keys stay shadowed after recovery. On error s is left intact in the Sealed state.
func (c *coordinator) migrate(s *segment) error {
	h := c.h
	r := s.sealed.Load()
	s.setState(segMigrating)

	var (
		recs []db.Record
		from []address.LogAddress
		now  = time.Now().UnixNano()
	)
	err := r.Iterate(func(off uint64, v record.View) bool {
		addr := address.Log(s.id, off)
		if v.Tombstone() {
			addr = addr.WithTombstone()
		}
		if cur, ok := h.index.Lookup(string(v.Key())); !ok || cur != addr {
			return true
		}
		rec := v.Record()
		if !rec.Tombstone && rec.Expired(now) {
			rec = db.Record{Key: rec.Key, Tombstone: true, Version: rec.Version}
		}
		recs = append(recs, rec)
		from = append(from, addr)
		return true
	})
	if err != nil {
		s.setState(segSealed)
		return err
	}

	if len(recs) > 0 {
		to, err := h.disk.AppendSegment(recs)
		if err != nil {
			s.setState(segSealed)
			return err
		}
		moved := h.publish(recs, from, to)
		h.metrics.migratedRecords.Add(moved)
	}

	h.retireSegment(s)
	h.metrics.migrations.Inc()
	coordLog.Debugf("migrated segment %d (%d live records)", s.id, len(recs))
	return nil
}

// publish moves the index entries of recs from their old addresses to the disk addresses they
// were just written to and returns how many moved. Records whose key changed in the meantime
// are accounted as dead.
func (h *hybridLog) publish(recs []db.Record, from, to []address.LogAddress) int {
	moved := 0
	for i := range recs {
		fs := h.statsFor(to[i].ID())
		fs.written(recs[i].Version)
		fs.current(to[i], recs[i].ExpireAt)
		if h.index.CompareAndSwap(recs[i].Key, from[i], to[i]) {
			moved++
		} else {
			fs.supersede(to[i])
		}
	}
	return moved
}

// retireSegment unlinks a migrated segment. The mapping and file are destroyed once no guard
// can still resolve one of its addresses. The segment stays registered until its file is gone.
func (h *hybridLog) retireSegment(s *segment) {
	s.setState(segRetired)
	h.roBytes.Add(-s.size())
	h.epoch.Defer(func() { h.removeSegment(s) })
}

func (h *hybridLog) removeSegment(s *segment) {
	r := s.sealed.Load()
	if err := r.Remove(); err != nil {
		if !s.lingering.Swap(true) {
			coordLog.Warningf("removing segment file %s, retrying: %v", r.Path(), err)
		}
		return
	}
	s.lingering.Store(false)
	h.segments.Delete(s.id)
}

// --------------------------------------------------------------------------
// Maintenance
// --------------------------------------------------------------------------

// maintain runs the periodic housekeeping of one timer cycle
func (c *coordinator) maintain() {
	c.retryRemovals()
	c.compactDisk()
	if n := c.h.index.Compact(); n > 0 {
		coordLog.Debugf("unlinked %d removed index entries", n)
	}
	if n := c.h.epoch.Advance(); n > 0 {
		coordLog.Debugf("ran %d deferred destructors (epoch %d)", n, c.h.epoch.Current())
	}
}

// retryRemovals deletes segment and disk files whose deletion failed in an earlier cycle
func (c *coordinator) retryRemovals() {
	c.h.segments.Range(func(_ uint32, s *segment) bool {
		if s.lingering.Load() {
			c.h.removeSegment(s)
		}
		return true
	})
	if n := c.h.disk.RetryRemovals(); n > 0 {
		coordLog.Debugf("%d retired disk files still exist", n)
	}
}

// versionFloor returns the lowest record version any registered segment holds. A tombstone
// below it shadows nothing in the log tiers.
func (h *hybridLog) versionFloor() uint64 {
	floor := uint64(math.MaxUint64)
	h.segments.Range(func(_ uint32, s *segment) bool {
		floor = min(floor, s.minVersion.Load())
		return true
	})
	return floor
}

// compactDisk rewrites the disk file with the lowest share of records worth keeping, if it is
// below DiskCompactRatio. Superseded records are dropped, expired ones shrink to tombstones.
//
// Older versions of a key only ever sit in lower disk file ids, so tombstones and expired
// records of the lowest file are dropped entirely when their version is below every record in
// the log tiers. Their index entries are marked removed. Tombstones in higher files wait until
// their file became the lowest. When they pile up the lowest file is rewritten even if it is
// mostly live, which moves its records to the top.
func (c *coordinator) compactDisk() {
	h := c.h
	if h.opts.DiskCompactRatio <= 0 {
		return
	}

	now := time.Now().UnixNano()
	floor := h.versionFloor()
	lowest, _ := h.disk.LowestID()

	var (
		victim              uint32
		worst               = h.opts.DiskCompactRatio
		total, tombsWaiting int64
	)
	h.fileStats.Range(func(id uint32, fs *fileStats) bool {
		fs.expire(now)
		total += fs.records.Value()
		settled := fs.newest.Load() < floor
		if id != lowest && settled {
			tombsWaiting += fs.tombs.Value()
		}
		if r := fs.ratio(id == lowest && settled); r < worst && !c.quarantined[id] {
			victim, worst = id, r
		}
		return true
	})
	if victim == 0 && total > 0 && float64(tombsWaiting) > float64(total)*(1-h.opts.DiskCompactRatio) {
		if _, ok := h.fileStats.Load(lowest); ok && !c.quarantined[lowest] {
			victim = lowest
		}
	}
	if victim == 0 {
		return
	}
	droppable := victim == lowest

	var (
		keep    []db.Record
		from    []address.LogAddress
		dropped []address.LogAddress
		keys    []string
	)
	err := h.disk.Iterate(victim, func(off uint64, v record.View) bool {
		addr := address.Disk(victim, off)
		if v.Tombstone() {
			addr = addr.WithTombstone()
		}
		key := string(v.Key())
		if cur, ok := h.index.Lookup(key); !ok || cur != addr {
			return true
		}
		rec := v.Record()
		if rec.Tombstone || rec.Expired(now) {
			if droppable && rec.Version < floor {
				keys = append(keys, key)
				dropped = append(dropped, addr)
				return true
			}
			rec = db.Record{Key: rec.Key, Tombstone: true, Version: rec.Version}
		}
		keep = append(keep, rec)
		from = append(from, addr)
		return true
	})
	if err != nil {
		c.quarantined[victim] = true
		h.metrics.corruptions.Inc()
		coordLog.Errorf("disk file %d is corrupt and will not be compacted: %v", victim, err)
		return
	}

	if len(keep) > 0 {
		to, err := h.disk.AppendSegment(keep)
		if err != nil {
			coordLog.Warningf("compacting disk file %d failed: %v", victim, err)
			return
		}
		h.publish(keep, from, to)
	}
	for i := range dropped {
		h.index.MarkRemoved(keys[i], dropped[i])
	}

	h.fileStats.Delete(victim)
	h.epoch.Defer(func() { h.disk.Retire(victim) })
	h.metrics.compactions.Inc()
	coordLog.Debugf("compacted disk file %d: kept %d, dropped %d records", victim, len(keep), len(dropped))
}
