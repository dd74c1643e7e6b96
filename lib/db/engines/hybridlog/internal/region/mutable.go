package region

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/record"
)

// Mutable is the hot tier: an append-only log in a pre-allocated buffer.
//
// Thread-safety: Append, Read and CapacityUsed are safe for concurrent use. Appends never block
// each other: space is reserved with one atomic add on the tail and filled afterwards.
type Mutable struct {
	id        uint32
	buf       []byte
	capacity  uint64
	createdAt time.Time

	tail     atomic.Uint64 // next reservation, may run past capacity
	reserved atomic.Uint64 // end of the last successful reservation
	writers  atomic.Int64
	sealed   atomic.Bool
}

// NewMutable creates a mutable region backed by buf
func NewMutable(id uint32, buf []byte) *Mutable {
	return &Mutable{
		id:        id,
		buf:       buf,
		capacity:  uint64(len(buf)),
		createdAt: time.Now(),
	}
}

func (m *Mutable) ID() uint32 { return m.id }

// CreatedAt returns when the region started accepting writes
func (m *Mutable) CreatedAt() time.Time { return m.createdAt }

// Append encodes rec at the tail and returns its offset.
// Fails with db.ErrCapacityExceeded when the region is full and with ErrRegionSealed once
// sealing started, in both cases the caller retries on the next region.
func (m *Mutable) Append(rec *db.Record) (uint64, error) {
	m.writers.Add(1)
	defer m.writers.Add(-1)

	// checked after announcing the writer, a sealer that missed us waits in WaitWriters
	if m.sealed.Load() {
		return 0, ErrRegionSealed
	}

	n := uint64(record.SizeOf(rec))
	end := m.tail.Add(n)
	if end > m.capacity {
		return 0, db.ErrCapacityExceeded
	}
	start := end - n

	record.Encode(m.buf[start:end], rec)

	for {
		cur := m.reserved.Load()
		if end <= cur || m.reserved.CompareAndSwap(cur, end) {
			break
		}
	}
	return start, nil
}

// Read decodes the record at offset without verifying its checksum
func (m *Mutable) Read(offset uint64) (record.View, error) {
	end := m.reserved.Load()
	if offset >= end {
		return record.View{}, db.ErrInvalidAddress
	}
	return record.Decode(m.buf[offset:end], false)
}

// CapacityUsed returns the reserved fraction of the region (0..1)
func (m *Mutable) CapacityUsed() float64 {
	used := m.tail.Load()
	if used > m.capacity {
		used = m.capacity
	}
	return float64(used) / float64(m.capacity)
}

// Size returns the number of bytes holding records
func (m *Mutable) Size() int {
	return int(m.reserved.Load())
}

// Seal makes every following Append fail with ErrRegionSealed
func (m *Mutable) Seal() {
	m.sealed.Store(true)
}

// IsSealed reports whether Seal was called
func (m *Mutable) IsSealed() bool {
	return m.sealed.Load()
}

// WaitWriters spins until every in-flight Append finished. Only meaningful after Seal.
func (m *Mutable) WaitWriters() {
	for m.writers.Load() != 0 {
		runtime.Gosched()
	}
}

// Bytes returns the written prefix of the region. Stable after Seal and WaitWriters.
func (m *Mutable) Bytes() []byte {
	return m.buf[:m.reserved.Load()]
}

// Buffer returns the full backing buffer, used to return it to the pool
func (m *Mutable) Buffer() []byte {
	return m.buf
}
