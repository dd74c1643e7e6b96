package hybridlog

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/address"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/record"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/region"
	"github.com/ValentinKolb/hKV/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// segState is the lifecycle state of a log segment
type segState int32

const (
	segActive    segState = iota // current mutable region, accepts appends
	segSealing                   // replaced as current region, waiting for the coordinator
	segSealed                    // persisted and mapped read-only
	segMigrating                 // live records are being copied to the disk tier
	segRetired                   // unlinked, destruction deferred through the epoch manager
)

func (s segState) String() string {
	switch s {
	case segActive:
		return "active"
	case segSealing:
		return "sealing"
	case segSealed:
		return "sealed"
	case segMigrating:
		return "migrating"
	case segRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// segment is one slot of the log segment table. Log addresses name a segment by id, the slot
// resolves them to the mutable buffer or, once sealed, to the read-only mapping.
//
// Readers load mutable first and fall back to sealed. The coordinator publishes sealed before it
// clears mutable, so a reader always finds one of them while the segment is registered.
type segment struct {
	id        uint32
	createdAt time.Time
	sealedAt  atomic.Int64 // unix nanos, 0 while mutable

	state   atomic.Int32
	mutable atomic.Pointer[region.Mutable]
	sealed  atomic.Pointer[region.Sealed]

	records *xsync.Counter // appended records
	dead    *xsync.Counter // records superseded since they were appended

	minVersion atomic.Uint64 // lowest version appended, MaxUint64 while empty
	lingering  atomic.Bool   // retired but the file could not be deleted yet
}

func newSegment(m *region.Mutable) *segment {
	s := &segment{
		id:        m.ID(),
		createdAt: m.CreatedAt(),
		records:   xsync.NewCounter(),
		dead:      xsync.NewCounter(),
	}
	s.minVersion.Store(math.MaxUint64)
	s.mutable.Store(m)
	return s
}

// openSegment registers a segment recovered from its file
func openSegment(r *region.Sealed) *segment {
	s := &segment{
		id:        r.ID(),
		createdAt: time.Now(),
		records:   xsync.NewCounter(),
		dead:      xsync.NewCounter(),
	}
	s.minVersion.Store(math.MaxUint64)
	s.sealedAt.Store(time.Now().UnixNano())
	s.state.Store(int32(segSealed))
	s.sealed.Store(r)
	return s
}

// noteVersion lowers minVersion to v. Appenders call it before the record is published in the
// index.
func (s *segment) noteVersion(v uint64) {
	for {
		cur := s.minVersion.Load()
		if v >= cur || s.minVersion.CompareAndSwap(cur, v) {
			return
		}
	}
}

func (s *segment) getState() segState {
	return segState(s.state.Load())
}

func (s *segment) setState(st segState) {
	s.state.Store(int32(st))
}

// tier resolves the tier the segment currently belongs to
func (s *segment) tier() address.Tier {
	if s.mutable.Load() != nil {
		return address.TierMutable
	}
	return address.TierReadOnly
}

// read returns a view of the record at offset. The caller must hold a guard and copy what it
// needs before unpinning.
func (s *segment) read(offset uint64) (record.View, error) {
	if m := s.mutable.Load(); m != nil {
		return m.Read(offset)
	}
	if r := s.sealed.Load(); r != nil {
		return r.Read(offset)
	}
	return record.View{}, db.ErrInvalidAddress
}

// size returns the bytes the segment occupies in memory
func (s *segment) size() int64 {
	if m := s.mutable.Load(); m != nil {
		return int64(len(m.Buffer()))
	}
	if r := s.sealed.Load(); r != nil {
		return int64(r.Size())
	}
	return 0
}

// age returns how long the segment has been sealed
func (s *segment) age(now time.Time) time.Duration {
	at := s.sealedAt.Load()
	if at == 0 {
		return 0
	}
	return now.Sub(time.Unix(0, at))
}

// ----------------------------------------------------------------------------
// Disk file statistics
// ----------------------------------------------------------------------------

// fileStats tracks which records of a disk file compaction could reclaim.
//
// Superseded records are dead. Current tombstones and current records whose ttl elapsed are
// counted separately: expired records shrink to tombstones on any rewrite, tombstones can only
// be dropped from the lowest disk file.
type fileStats struct {
	records *xsync.Counter // records written to the file
	dead    *xsync.Counter // records superseded since they were written
	tombs   *xsync.Counter // current tombstones
	expired *xsync.Counter // current records whose ttl elapsed
	newest  atomic.Uint64  // highest version written to the file

	mu       sync.Mutex
	expiries *util.MapHeap       // offset -> expireAt of current records with a ttl
	lapsed   map[uint64]struct{} // offsets counted in expired
}

func newFileStats() *fileStats {
	return &fileStats{
		records:  xsync.NewCounter(),
		dead:     xsync.NewCounter(),
		tombs:    xsync.NewCounter(),
		expired:  xsync.NewCounter(),
		expiries: util.NewMapHeap(),
		lapsed:   make(map[uint64]struct{}),
	}
}

// written accounts a record appended to the file
func (f *fileStats) written(version uint64) {
	f.records.Inc()
	for {
		cur := f.newest.Load()
		if version <= cur || f.newest.CompareAndSwap(cur, version) {
			return
		}
	}
}

// current accounts the record at addr as the current record of its key. Callers invoke it
// before publishing addr in the index and undo it with supersede if the publication fails.
func (f *fileStats) current(addr address.LogAddress, expireAt int64) {
	if addr.IsTombstone() {
		f.tombs.Inc()
		return
	}
	if expireAt > 0 {
		f.mu.Lock()
		f.expiries.AddItem(addr.Offset(), uint64(expireAt))
		f.mu.Unlock()
	}
}

// supersede moves the record at addr from current to dead
func (f *fileStats) supersede(addr address.LogAddress) {
	if addr.IsTombstone() {
		f.tombs.Dec()
		f.dead.Inc()
		return
	}
	off := addr.Offset()
	f.mu.Lock()
	f.expiries.RemoveByKey(off)
	_, lapsed := f.lapsed[off]
	delete(f.lapsed, off)
	f.mu.Unlock()
	if lapsed {
		f.expired.Dec()
	}
	f.dead.Inc()
}

// expire counts every tracked record whose ttl elapsed at now
func (f *fileStats) expire(now int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		it, ok := f.expiries.Peek()
		if !ok || int64(it.Priority) > now {
			return
		}
		f.expiries.PopMin()
		f.lapsed[it.Key] = struct{}{}
		f.expired.Inc()
	}
}

// ratio returns the share of records a rewrite would keep (1 for an empty file).
// Tombstones only count as reclaimable with dropTombs set.
func (f *fileStats) ratio(dropTombs bool) float64 {
	total := f.records.Value()
	if total <= 0 {
		return 1
	}
	gone := f.dead.Value() + f.expired.Value()
	if dropTombs {
		gone += f.tombs.Value()
	}
	gone = min(max(gone, 0), total)
	return float64(total-gone) / float64(total)
}

// liveRatio returns the share of records that are still current
func (f *fileStats) liveRatio() float64 {
	return f.ratio(false)
}
