package region

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/address"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/record"
	"github.com/puzpuzpuz/xsync/v3"
)

// ReadResult is the outcome of an asynchronous disk read
type ReadResult struct {
	Record db.Record
	Err    error
}

// Hooks let tests inject latency and failures into disk I/O
type Hooks struct {
	BeforeRead  func(id uint32, offset uint64)
	BeforeWrite func(id uint32) error
}

// FileInfo describes one disk file
type FileInfo struct {
	ID   uint32
	Path string
	Size int64
}

// Disk is the cold tier: a set of immutable files of checksummed records.
//
// Thread-safety: reads are safe for concurrent use. AppendSegment calls are serialized
// internally. Files are reference counted, a retired file is closed and deleted once the last
// reader released it. Until the deletion succeeded it still counts for LowestID.
type Disk struct {
	dir         string
	segmentSize int64
	maxBytes    int64

	files   *xsync.MapOf[uint32, *File]
	retired *xsync.MapOf[uint32, *File] // retired files that still exist on disk
	nextID  atomic.Uint32
	bytes   atomic.Int64
	hooks   atomic.Pointer[Hooks]

	appendMu sync.Mutex
}

// OpenDisk creates the disk tier in dir. Files larger than segmentSize are split, maxBytes
// bounds the total size (0 = unbounded).
func OpenDisk(dir string, segmentSize, maxBytes int64) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if segmentSize <= 0 || segmentSize > address.MaxOffset {
		segmentSize = address.MaxOffset
	}
	return &Disk{
		dir:         dir,
		segmentSize: segmentSize,
		maxBytes:    maxBytes,
		files:       xsync.NewMapOf[uint32, *File](),
		retired:     xsync.NewMapOf[uint32, *File](),
	}, nil
}

// SetHooks installs test hooks, nil removes them
func (d *Disk) SetHooks(h *Hooks) {
	d.hooks.Store(h)
}

// Size returns the total size of all live files
func (d *Disk) Size() int64 {
	return d.bytes.Load()
}

// MaxBytes returns the configured size bound (0 = unbounded)
func (d *Disk) MaxBytes() int64 {
	return d.maxBytes
}

// Files returns all live files ordered by id
func (d *Disk) Files() []FileInfo {
	infos := make([]FileInfo, 0, d.files.Size())
	d.files.Range(func(id uint32, f *File) bool {
		infos = append(infos, FileInfo{ID: id, Path: f.path, Size: f.size})
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// ----------------------------------------------------------------------------
// Files
// ----------------------------------------------------------------------------

// File is one immutable disk file
type File struct {
	d       *Disk
	id      uint32
	path    string
	f       *os.File
	size    int64
	refs    atomic.Int32 // the Disk holds one reference until the file is retired
	retired atomic.Bool
	corrupt atomic.Pointer[db.CorruptionError]
}

func (d *Disk) open(id uint32, path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, err
	}
	f := &File{d: d, id: id, path: path, f: fh, size: info.Size()}
	f.refs.Store(1)
	return f, nil
}

// Adopt registers an existing file found in the directory (recovery)
func (d *Disk) Adopt(id uint32) error {
	f, err := d.open(id, filepath.Join(d.dir, DiskFileName(id)))
	if err != nil {
		return fmt.Errorf("%w: adopting disk file %d: %w", db.ErrTransientIO, id, err)
	}
	d.files.Store(id, f)
	d.bytes.Add(f.size)
	for {
		cur := d.nextID.Load()
		if id <= cur || d.nextID.CompareAndSwap(cur, id) {
			return nil
		}
	}
}

func (f *File) acquire() bool {
	for {
		r := f.refs.Load()
		if r <= 0 {
			return false
		}
		if f.refs.CompareAndSwap(r, r+1) {
			return true
		}
	}
}

// release drops a reference, the last one closes (and for retired files deletes) the file
func (f *File) release() {
	if f.refs.Add(-1) != 0 {
		return
	}
	f.f.Close()
	if f.retired.Load() {
		f.d.remove(f)
	}
}

// remove deletes a retired and closed file. A failed deletion keeps it in the retired set.
func (d *Disk) remove(f *File) bool {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return false
	}
	d.retired.Delete(f.id)
	return true
}

// RetryRemovals deletes retired files whose deletion failed before.
// Returns the number of retired files that still exist.
func (d *Disk) RetryRemovals() int {
	left := 0
	d.retired.Range(func(_ uint32, f *File) bool {
		if f.refs.Load() > 0 || !d.remove(f) {
			left++
		}
		return true
	})
	return left
}

// LowestID returns the smallest id of a file that still exists, retired files included
func (d *Disk) LowestID() (uint32, bool) {
	var (
		lowest uint32
		found  bool
	)
	visit := func(id uint32, _ *File) bool {
		if !found || id < lowest {
			lowest, found = id, true
		}
		return true
	}
	d.files.Range(visit)
	d.retired.Range(visit)
	return lowest, found
}

// acquire returns file id with an extra reference, the caller must release it
func (d *Disk) acquire(id uint32) (*File, error) {
	f, ok := d.files.Load(id)
	if !ok || !f.acquire() {
		return nil, db.ErrInvalidAddress
	}
	return f, nil
}

// Retire unregisters file id and deletes it once in-flight reads finished.
// Callers run it from an epoch deferred callback so no reader can still resolve the id.
func (d *Disk) Retire(id uint32) bool {
	f, ok := d.files.LoadAndDelete(id)
	if !ok {
		return false
	}
	f.retired.Store(true)
	d.retired.Store(id, f)
	d.bytes.Add(-f.size)
	f.release()
	return true
}

// Close releases every file without deleting it
func (d *Disk) Close() error {
	d.files.Range(func(id uint32, f *File) bool {
		d.files.Delete(id)
		f.release()
		return true
	})
	return nil
}

// ----------------------------------------------------------------------------
// Writes
// ----------------------------------------------------------------------------

// AppendSegment writes recs into one or more new files and returns the address of every record
// in order. Tombstone records get tombstone addresses. Files are written to a temp name, synced
// and renamed. On error every file of this call is removed and nothing is registered.
func (d *Disk) AppendSegment(recs []db.Record) ([]address.LogAddress, error) {
	d.appendMu.Lock()
	defer d.appendMu.Unlock()

	var need int64
	for i := range recs {
		need += int64(record.SizeOf(&recs[i]))
	}
	if d.maxBytes > 0 && d.bytes.Load()+need > d.maxBytes {
		return nil, fmt.Errorf("%w: disk tier full (%d of %d bytes used, %d requested)",
			db.ErrCapacityExceeded, d.bytes.Load(), d.maxBytes, need)
	}

	addrs := make([]address.LogAddress, 0, len(recs))
	var created []*File
	fail := func(err error) ([]address.LogAddress, error) {
		for _, f := range created {
			f.retired.Store(true)
			d.retired.Store(f.id, f)
			f.release()
		}
		return nil, err
	}

	for i := 0; i < len(recs); {
		id := d.nextID.Add(1)
		if id > address.MaxID {
			return fail(fmt.Errorf("%w: disk file ids exhausted", db.ErrCapacityExceeded))
		}
		if h := d.hooks.Load(); h != nil && h.BeforeWrite != nil {
			if err := h.BeforeWrite(id); err != nil {
				return fail(fmt.Errorf("%w: writing disk file %d: %w", db.ErrTransientIO, id, err))
			}
		}

		path := filepath.Join(d.dir, DiskFileName(id))
		err := writeFileSync(path, func(fh *os.File) error {
			w := bufio.NewWriterSize(fh, 1<<20)
			var scratch []byte
			var written int64
			for i < len(recs) {
				n := int64(record.SizeOf(&recs[i]))
				if written > 0 && written+n > d.segmentSize {
					break
				}
				addr := address.Disk(id, uint64(written))
				if recs[i].Tombstone {
					addr = addr.WithTombstone()
				}

				var err error
				if scratch, err = record.Write(w, &recs[i], scratch); err != nil {
					return err
				}
				addrs = append(addrs, addr)
				written += n
				i++
			}
			return w.Flush()
		})
		if err != nil {
			return fail(fmt.Errorf("%w: writing disk file %d: %w", db.ErrTransientIO, id, err))
		}

		f, err := d.open(id, path)
		if err != nil {
			os.Remove(path)
			return fail(fmt.Errorf("%w: opening disk file %d: %w", db.ErrTransientIO, id, err))
		}
		created = append(created, f)
	}

	for _, f := range created {
		d.files.Store(f.id, f)
		d.bytes.Add(f.size)
	}
	return addrs, nil
}

// ----------------------------------------------------------------------------
// Reads
// ----------------------------------------------------------------------------

// ReadAsync starts reading the record at offset of file id and returns its future.
// The file reference is taken before ReadAsync returns, so the caller may release its epoch
// guard right after the call. The channel receives exactly one result and is never closed.
func (d *Disk) ReadAsync(id uint32, offset uint64) <-chan ReadResult {
	ch := make(chan ReadResult, 1)

	f, err := d.acquire(id)
	if err != nil {
		ch <- ReadResult{Err: err}
		return ch
	}

	go func() {
		defer f.release()
		if h := d.hooks.Load(); h != nil && h.BeforeRead != nil {
			h.BeforeRead(id, offset)
		}
		rec, err := f.readAt(offset)
		ch <- ReadResult{Record: rec, Err: err}
	}()
	return ch
}

// Read reads the record at offset of file id and waits at most until ctx is done.
// A timeout returns db.ErrTransientIO wrapping the context error.
func (d *Disk) Read(ctx context.Context, id uint32, offset uint64) (db.Record, error) {
	return Await(ctx, d.ReadAsync(id, offset))
}

// Await waits for a read future
func Await(ctx context.Context, ch <-chan ReadResult) (db.Record, error) {
	select {
	case res := <-ch:
		return res.Record, res.Err
	case <-ctx.Done():
		return db.Record{}, fmt.Errorf("%w: disk read: %w", db.ErrTransientIO, ctx.Err())
	}
}

func (f *File) readAt(offset uint64) (db.Record, error) {
	if c := f.corrupt.Load(); c != nil {
		return db.Record{}, c
	}
	if int64(offset)+record.HeaderSize > f.size {
		return db.Record{}, db.ErrInvalidAddress
	}

	var header [record.HeaderSize]byte
	if _, err := f.f.ReadAt(header[:], int64(offset)); err != nil {
		return db.Record{}, fmt.Errorf("%w: reading %s: %w", db.ErrTransientIO, f.path, err)
	}

	n, err := record.PeekSize(header[:])
	if err != nil {
		return db.Record{}, f.fail(int64(offset), err)
	}
	if int64(offset)+int64(n) > f.size {
		return db.Record{}, f.fail(int64(offset), record.ErrTruncated)
	}

	buf := make([]byte, n)
	copy(buf, header[:])
	if _, err := f.f.ReadAt(buf[record.HeaderSize:], int64(offset)+record.HeaderSize); err != nil {
		return db.Record{}, fmt.Errorf("%w: reading %s: %w", db.ErrTransientIO, f.path, err)
	}

	v, err := record.Decode(buf, true)
	if err != nil {
		return db.Record{}, f.fail(int64(offset), err)
	}
	return v.Record(), nil
}

// fail converts a decode error into a CorruptionError and halts the file
func (f *File) fail(offset int64, err error) error {
	ce := &db.CorruptionError{Source: f.path, Offset: offset, Message: err.Error()}
	var cs *record.ChecksumError
	if errors.As(err, &cs) {
		ce.ExpectedCRC, ce.ActualCRC = cs.Expected, cs.Actual
		ce.Message = "checksum mismatch"
	}
	f.corrupt.CompareAndSwap(nil, ce)
	return f.corrupt.Load()
}

// Iterate calls fn for every record of file id in offset order until fn returns false.
// The view passed to fn is only valid during the call.
func (d *Disk) Iterate(id uint32, fn func(offset uint64, v record.View) bool) error {
	f, err := d.acquire(id)
	if err != nil {
		return err
	}
	defer f.release()

	r := record.NewReader(io.NewSectionReader(f.f, 0, f.size), 0)
	for {
		v, off, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return f.fail(off, err)
		}
		if !fn(uint64(off), v) {
			return nil
		}
	}
}
