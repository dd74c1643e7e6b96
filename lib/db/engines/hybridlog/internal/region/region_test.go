package region

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/address"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/record"
)

func rec(key, value string, version uint64) *db.Record {
	return &db.Record{Key: key, Value: []byte(value), Version: version}
}

// --------------------------------------------------------------------------
// Mutable
// --------------------------------------------------------------------------

func TestMutableAppendRead(t *testing.T) {
	m := NewMutable(1, make([]byte, 4096))

	off, err := m.Append(rec("a", "1", 1))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	v, err := m.Read(off)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(v.Key()) != "a" || string(v.Value()) != "1" || v.Version() != 1 {
		t.Errorf("Read back %q=%q v%d", v.Key(), v.Value(), v.Version())
	}

	if _, err := m.Read(4000); !errors.Is(err, db.ErrInvalidAddress) {
		t.Errorf("Reading beyond the written prefix must fail, got %v", err)
	}
	if m.CapacityUsed() <= 0 || m.CapacityUsed() >= 1 {
		t.Errorf("Unexpected capacity usage %f", m.CapacityUsed())
	}
}

func TestMutableCapacityAndSeal(t *testing.T) {
	size := record.Size(1, 10)
	m := NewMutable(1, make([]byte, size*3))

	for i := 0; i < 3; i++ {
		if _, err := m.Append(rec("k", "0123456789", uint64(i+1))); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}
	if _, err := m.Append(rec("k", "0123456789", 4)); !errors.Is(err, db.ErrCapacityExceeded) {
		t.Errorf("Expected ErrCapacityExceeded on a full region, got %v", err)
	}
	if m.Size() != size*3 {
		t.Errorf("Failed reservations must not count as written, size %d want %d", m.Size(), size*3)
	}

	m.Seal()
	m.WaitWriters()
	if _, err := m.Append(rec("x", "", 5)); !errors.Is(err, ErrRegionSealed) {
		t.Errorf("Expected ErrRegionSealed after Seal, got %v", err)
	}
}

func TestMutableConcurrentAppends(t *testing.T) {
	m := NewMutable(1, make([]byte, 1<<20))

	const writers = 8
	const perWriter = 500
	offsets := make([][]uint64, writers)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				off, err := m.Append(rec(fmt.Sprintf("w%d-%d", w, i), "value", uint64(i+1)))
				if err != nil {
					t.Errorf("Append failed: %v", err)
					return
				}
				offsets[w] = append(offsets[w], off)
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for w := range offsets {
		for i, off := range offsets[w] {
			if seen[off] {
				t.Fatalf("Offset %d handed out twice", off)
			}
			seen[off] = true
			v, err := m.Read(off)
			if err != nil || string(v.Key()) != fmt.Sprintf("w%d-%d", w, i) {
				t.Fatalf("Record at %d corrupted: %v", off, err)
			}
		}
	}
}

// --------------------------------------------------------------------------
// Sealed
// --------------------------------------------------------------------------

func sealed(t *testing.T, dir string, n int) (*Sealed, []uint64) {
	t.Helper()
	m := NewMutable(7, make([]byte, 1<<16))
	var offsets []uint64
	for i := 0; i < n; i++ {
		off, err := m.Append(rec(fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i), uint64(i+1)))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		offsets = append(offsets, off)
	}
	m.Seal()
	m.WaitWriters()

	s, err := SealMutable(dir, m)
	if err != nil {
		t.Fatalf("SealMutable failed: %v", err)
	}
	return s, offsets
}

func TestSealedReadIterate(t *testing.T) {
	dir := t.TempDir()
	s, offsets := sealed(t, dir, 20)
	defer s.Close()

	if _, err := os.Stat(filepath.Join(dir, SegmentFileName(7))); err != nil {
		t.Fatalf("Segment file missing: %v", err)
	}

	for i, off := range offsets {
		v, err := s.Read(off)
		if err != nil {
			t.Fatalf("Read(%d) failed: %v", off, err)
		}
		if string(v.Value()) != fmt.Sprintf("value-%d", i) {
			t.Errorf("Read(%d) = %q", off, v.Value())
		}
	}

	count := 0
	if err := s.Iterate(func(off uint64, v record.View) bool {
		if off != offsets[count] {
			t.Errorf("Iterate yielded offset %d, want %d", off, offsets[count])
		}
		count++
		return true
	}); err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}
	if count != 20 {
		t.Errorf("Iterate yielded %d records, want 20", count)
	}
}

func TestSealedCorruptionHaltsReads(t *testing.T) {
	dir := t.TempDir()
	s, offsets := sealed(t, dir, 5)
	path := s.Path()
	s.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[int(offsets[2])+record.HeaderSize+2] ^= 0xff
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	s, err = OpenSealed(path, 7)
	if err != nil {
		t.Fatalf("OpenSealed failed: %v", err)
	}
	defer s.Remove()

	if _, err := s.Read(offsets[0]); err != nil {
		t.Fatalf("Intact record before the corruption must be readable: %v", err)
	}

	_, err = s.Read(offsets[2])
	var ce *db.CorruptionError
	if !errors.As(err, &ce) || ce.Offset != int64(offsets[2]) {
		t.Fatalf("Expected CorruptionError at %d, got %v", offsets[2], err)
	}

	if _, err := s.Read(offsets[0]); !errors.Is(err, db.ErrCorruption) {
		t.Errorf("A corrupt segment must halt all reads, got %v", err)
	}
	if s.Corrupt() == nil {
		t.Errorf("Corrupt() should report the error")
	}
}

// --------------------------------------------------------------------------
// Disk
// --------------------------------------------------------------------------

func TestDiskAppendAndRead(t *testing.T) {
	dir := t.TempDir()
	d, err := OpenDisk(dir, int64(record.Size(6, 8)*4), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	recs := make([]db.Record, 10)
	for i := range recs {
		recs[i] = db.Record{Key: fmt.Sprintf("key-%02d", i), Value: []byte(fmt.Sprintf("value-%02d", i)), Version: uint64(i + 1)}
	}
	recs[9].Tombstone = true
	recs[9].Value = nil

	addrs, err := d.AppendSegment(recs)
	if err != nil {
		t.Fatalf("AppendSegment failed: %v", err)
	}
	if len(addrs) != len(recs) {
		t.Fatalf("Got %d addresses for %d records", len(addrs), len(recs))
	}
	if n := len(d.Files()); n < 3 {
		t.Errorf("Expected the records to be split over at least 3 files, got %d", n)
	}
	if !addrs[9].IsTombstone() || addrs[0].IsTombstone() {
		t.Errorf("Tombstone flags of returned addresses are wrong")
	}

	ctx := context.Background()
	for i, a := range addrs {
		if a.Kind() != address.KindDisk {
			t.Fatalf("Address %s is not a disk address", a)
		}
		got, err := d.Read(ctx, a.ID(), a.Offset())
		if err != nil {
			t.Fatalf("Read(%s) failed: %v", a, err)
		}
		if got.Key != recs[i].Key || got.Version != recs[i].Version || got.Tombstone != recs[i].Tombstone {
			t.Errorf("Read(%s) = %+v, want %+v", a, got, recs[i])
		}
	}

	var total int64
	for _, f := range d.Files() {
		total += f.Size
	}
	if d.Size() != total {
		t.Errorf("Size() = %d, files sum to %d", d.Size(), total)
	}
}

func TestDiskReadTimeout(t *testing.T) {
	d, err := OpenDisk(t.TempDir(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	addrs, err := d.AppendSegment([]db.Record{*rec("slow", "value", 1)})
	if err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	d.SetHooks(&Hooks{BeforeRead: func(uint32, uint64) { <-release }})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = d.Read(ctx, addrs[0].ID(), addrs[0].Offset())
	if !errors.Is(err, db.ErrTransientIO) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected a transient timeout error, got %v", err)
	}
}

func TestDiskCapacityAndWriteFailure(t *testing.T) {
	dir := t.TempDir()
	d, err := OpenDisk(dir, 0, int64(record.Size(1, 1)*2))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if _, err := d.AppendSegment([]db.Record{*rec("a", "1", 1), *rec("b", "2", 2), *rec("c", "3", 3)}); !errors.Is(err, db.ErrCapacityExceeded) {
		t.Errorf("Expected ErrCapacityExceeded, got %v", err)
	}

	d.SetHooks(&Hooks{BeforeWrite: func(uint32) error { return errors.New("disk on fire") }})
	if _, err := d.AppendSegment([]db.Record{*rec("a", "1", 1)}); !errors.Is(err, db.ErrTransientIO) {
		t.Errorf("Expected ErrTransientIO from a failed write, got %v", err)
	}
	d.SetHooks(nil)

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Failed appends must not leave files behind, found %d", len(entries))
	}
}

func TestDiskRetireWaitsForReaders(t *testing.T) {
	dir := t.TempDir()
	d, err := OpenDisk(dir, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	addrs, err := d.AppendSegment([]db.Record{*rec("k", "v", 1)})
	if err != nil {
		t.Fatal(err)
	}
	id := addrs[0].ID()
	path := filepath.Join(dir, DiskFileName(id))

	release := make(chan struct{})
	d.SetHooks(&Hooks{BeforeRead: func(uint32, uint64) { <-release }})
	future := d.ReadAsync(id, addrs[0].Offset())

	if !d.Retire(id) {
		t.Fatalf("Retire failed")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("File deleted while a read was in flight")
	}

	close(release)
	res := <-future
	if res.Err != nil || res.Record.Key != "k" {
		t.Fatalf("In-flight read failed after retire: %v", res.Err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Retired file was not deleted after the last reader finished")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := d.Read(context.Background(), id, 0); !errors.Is(err, db.ErrInvalidAddress) {
		t.Errorf("Reading a retired file must fail with ErrInvalidAddress, got %v", err)
	}
}

func TestDiskCorruption(t *testing.T) {
	dir := t.TempDir()
	d, err := OpenDisk(dir, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	addrs, err := d.AppendSegment([]db.Record{*rec("a", "first", 1), *rec("b", "second", 2)})
	if err != nil {
		t.Fatal(err)
	}
	d.Close()

	path := filepath.Join(dir, DiskFileName(addrs[1].ID()))
	data, _ := os.ReadFile(path)
	data[len(data)-1] ^= 0xff
	os.WriteFile(path, data, 0o644)

	d, err = OpenDisk(dir, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if err := d.Adopt(addrs[1].ID()); err != nil {
		t.Fatalf("Adopt failed: %v", err)
	}

	ctx := context.Background()
	if _, err := d.Read(ctx, addrs[0].ID(), addrs[0].Offset()); err != nil {
		t.Fatalf("Intact record must be readable: %v", err)
	}
	if _, err := d.Read(ctx, addrs[1].ID(), addrs[1].Offset()); !db.IsCorruption(err) {
		t.Fatalf("Expected corruption error, got %v", err)
	}

	n := 0
	err = d.Iterate(addrs[1].ID(), func(uint64, record.View) bool { n++; return true })
	if !db.IsCorruption(err) || n != 1 {
		t.Errorf("Iterate should yield the intact record then fail, got %d records and %v", n, err)
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func TestParseFileName(t *testing.T) {
	if k, id := ParseFileName(SegmentFileName(12)); k != FileSegment || id != 12 {
		t.Errorf("Segment name parsed as (%v, %d)", k, id)
	}
	if k, id := ParseFileName(DiskFileName(3)); k != FileDisk || id != 3 {
		t.Errorf("Disk name parsed as (%v, %d)", k, id)
	}
	if k, _ := ParseFileName(DiskFileName(3) + ".tmp"); k != FileTemp {
		t.Errorf("Temp file not recognized")
	}
	if k, _ := ParseFileName("notes.txt"); k != FileUnknown {
		t.Errorf("Unknown file classified as %v", k)
	}
}

func TestBufferPool(t *testing.T) {
	p := NewBufferPool(128)
	b := p.Get()
	if len(b) != 128 {
		t.Fatalf("Pool returned %d bytes, want 128", len(b))
	}
	p.Put(b)
	p.Put(make([]byte, 64)) // dropped
	if len(p.Get()) != 128 {
		t.Errorf("Pool must only hand out buffers of its size")
	}
}
