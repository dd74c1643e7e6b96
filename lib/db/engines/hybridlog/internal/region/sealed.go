package region

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/record"
)

// Sealed is the warm tier: an immutable segment mapped read-only into memory.
// A Sealed region can only be created from a full Mutable region (SealMutable) or reopened from
// disk (OpenSealed). It has no methods that modify its records.
//
// Thread-safety: all read methods are safe for concurrent use. Close and Remove must only run
// once no reader can hold a view into the mapping, the engine defers them through its epoch
// manager.
type Sealed struct {
	id     uint32
	path   string
	data   []byte
	mapped bool

	corrupt   atomic.Pointer[db.CorruptionError]
	closeOnce sync.Once
}

// SealMutable persists the written prefix of m as segment file in dir and maps it read-only.
// m must be sealed and have no writers left.
func SealMutable(dir string, m *Mutable) (*Sealed, error) {
	path := filepath.Join(dir, SegmentFileName(m.ID()))
	data := m.Bytes()

	err := writeFileSync(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: writing segment %d: %w", db.ErrTransientIO, m.ID(), err)
	}

	return OpenSealed(path, m.ID())
}

// OpenSealed maps an existing segment file read-only
func OpenSealed(path string, id uint32) (*Sealed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening segment %d: %w", db.ErrTransientIO, id, err)
	}
	defer f.Close() // the mapping outlives the descriptor

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat segment %d: %w", db.ErrTransientIO, id, err)
	}

	s := &Sealed{id: id, path: path}
	if info.Size() == 0 {
		return s, nil
	}

	if s.data, err = mapFile(f, int(info.Size())); err != nil {
		return nil, fmt.Errorf("%w: mapping segment %d: %w", db.ErrTransientIO, id, err)
	}
	s.mapped = true
	return s, nil
}

func (s *Sealed) ID() uint32 { return s.id }

func (s *Sealed) Path() string { return s.path }

// Size returns the segment size in bytes
func (s *Sealed) Size() int { return len(s.data) }

// Corrupt returns the corruption error that halted reads, nil if the segment is intact
func (s *Sealed) Corrupt() *db.CorruptionError {
	return s.corrupt.Load()
}

// Read returns a zero-copy view of the record at offset after verifying its checksum.
// After the first checksum mismatch every read fails with the same *db.CorruptionError.
func (s *Sealed) Read(offset uint64) (record.View, error) {
	if c := s.corrupt.Load(); c != nil {
		return record.View{}, c
	}
	if offset >= uint64(len(s.data)) {
		return record.View{}, db.ErrInvalidAddress
	}

	v, err := record.Decode(s.data[offset:], true)
	if err != nil {
		return record.View{}, s.fail(int64(offset), err)
	}
	return v, nil
}

// Iterate calls fn for every record in offset order until fn returns false.
// Checksums are verified, a mismatch stops the iteration with a *db.CorruptionError.
func (s *Sealed) Iterate(fn func(offset uint64, v record.View) bool) error {
	if c := s.corrupt.Load(); c != nil {
		return c
	}

	var off uint64
	for off < uint64(len(s.data)) {
		v, err := record.Decode(s.data[off:], true)
		if errors.Is(err, record.ErrEmpty) {
			return nil
		}
		if err != nil {
			return s.fail(int64(off), err)
		}
		if !fn(off, v) {
			return nil
		}
		off += uint64(v.Len())
	}
	return nil
}

// fail converts a decode error into a CorruptionError and halts the segment
func (s *Sealed) fail(offset int64, err error) error {
	ce := &db.CorruptionError{Source: s.path, Offset: offset, Message: err.Error()}
	var cs *record.ChecksumError
	if errors.As(err, &cs) {
		ce.ExpectedCRC, ce.ActualCRC = cs.Expected, cs.Actual
		ce.Message = "checksum mismatch"
	}
	s.corrupt.CompareAndSwap(nil, ce)
	return s.corrupt.Load()
}

// Close unmaps the segment, later calls are no-ops
func (s *Sealed) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.mapped {
			err = unmapFile(s.data)
		}
		s.data = nil
	})
	return err
}

// Remove unmaps the segment and deletes its file
func (s *Sealed) Remove() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
