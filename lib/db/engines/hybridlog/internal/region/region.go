// Package region implements the three storage tiers of the hybrid log.
//
//   - Mutable: a pre-allocated in-memory buffer with an atomic tail. Appends reserve space with
//     one atomic add and then fill it, so concurrent writers never block each other.
//   - Sealed: an immutable segment written from a full Mutable region and memory mapped
//     read-only. Sealed has no mutating methods.
//   - Disk: append-only files of checksummed records, reference counted so reads can run
//     without holding an epoch guard.
//
// Destruction of every region type (returning buffers to the pool, unmapping, closing files) is
// driven by the engine through epoch deferred callbacks.
package region

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrRegionSealed is returned by Mutable.Append once the region started sealing
var ErrRegionSealed = errors.New("region: sealed")

const (
	segmentPrefix = "seg-"
	segmentSuffix = ".ro"
	diskPrefix    = "dat-"
	diskSuffix    = ".disk"
	tmpSuffix     = ".tmp"

	// LockFileName is the name of the file guarding a data directory
	LockFileName = "LOCK"
)

// SegmentFileName returns the file name of sealed segment id
func SegmentFileName(id uint32) string {
	return fmt.Sprintf("%s%08d%s", segmentPrefix, id, segmentSuffix)
}

// DiskFileName returns the file name of disk file id
func DiskFileName(id uint32) string {
	return fmt.Sprintf("%s%08d%s", diskPrefix, id, diskSuffix)
}

// FileKind classifies a file found in a data directory
type FileKind int

const (
	FileUnknown FileKind = iota
	FileSegment
	FileDisk
	FileTemp
)

// ParseFileName classifies name and extracts its id
func ParseFileName(name string) (FileKind, uint32) {
	if strings.HasSuffix(name, tmpSuffix) {
		return FileTemp, 0
	}
	parse := func(prefix, suffix string) (uint32, bool) {
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			return 0, false
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix), 10, 32)
		return uint32(id), err == nil && id > 0
	}
	if id, ok := parse(segmentPrefix, segmentSuffix); ok {
		return FileSegment, id
	}
	if id, ok := parse(diskPrefix, diskSuffix); ok {
		return FileDisk, id
	}
	return FileUnknown, 0
}

// writeFileSync writes data to path atomically: temp file, fsync, rename, fsync of the directory
func writeFileSync(path string, write func(f *os.File) error) (err error) {
	tmp := path + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if err = write(f); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp, path); err != nil {
		return err
	}
	return syncDir(filepath.Dir(path))
}

// LockDir takes an exclusive lock on the data directory dir.
// The lock is held until the returned file is closed.
func LockDir(dir string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, LockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("data directory %s is locked by another process: %w", dir, err)
	}
	return f, nil
}

// ----------------------------------------------------------------------------
// Buffer pool
// ----------------------------------------------------------------------------

// BufferPool recycles the fixed size buffers of mutable regions
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool creates a pool of buffers of the given size
func NewBufferPool(size int) *BufferPool {
	p := &BufferPool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Get returns a buffer of the pool size. Its content is undefined.
func (p *BufferPool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool, buffers of a different size are dropped
func (p *BufferPool) Put(b []byte) {
	if cap(b) != p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}
