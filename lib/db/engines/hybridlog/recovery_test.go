package hybridlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/address"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/record"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/region"
)

func TestRecovery(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	h, err := open(smallOptions(dir))
	if err != nil {
		t.Fatal(err)
	}

	want := make(map[string][]byte)
	for i := 0; i < 300; i++ {
		key := fmt.Sprintf("key-%d", i)
		h.Set(ctx, key, value(key, i), 0)
		want[key] = value(key, i)
	}
	pushToDisk(t, h, "key-0", "key-1")

	// newer versions in memory shadow the disk copies
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%d", i)
		h.Set(ctx, key, value(key, 1000+i), 0)
		want[key] = value(key, 1000+i)
	}
	for i := 50; i < 75; i++ {
		key := fmt.Sprintf("key-%d", i)
		if existed, err := h.Delete(ctx, key); err != nil || !existed {
			t.Fatalf("Delete(%s) = %v, %v", key, existed, err)
		}
		delete(want, key)
	}
	lastVersion := h.version.Load()

	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	h = openTest(t, smallOptions(dir))
	for i := 0; i < 300; i++ {
		key := fmt.Sprintf("key-%d", i)
		v, ok, err := h.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(%s) after reopen failed: %v", key, err)
		}
		if expected, exists := want[key]; ok != exists || !bytes.Equal(v, expected) {
			t.Errorf("Get(%s) after reopen = %q (ok=%v), want %q (ok=%v)", key, v, ok, expected, exists)
		}
	}

	if h.version.Load() < lastVersion {
		t.Errorf("version counter resumed at %d, last handed out was %d", h.version.Load(), lastVersion)
	}
	h.Set(ctx, "after-reopen", []byte("v"), 0)
	if rec, _, _ := h.GetRecord(ctx, "after-reopen"); rec.Version <= lastVersion {
		t.Errorf("new version %d not above recovered %d", rec.Version, lastVersion)
	}
	if h.disk.Size() == 0 {
		t.Errorf("disk files were not adopted")
	}
}

func TestRecoveryRemovesTempFiles(t *testing.T) {
	dir := t.TempDir()
	leftover := filepath.Join(dir, region.DiskFileName(7)+".tmp")
	if err := os.WriteFile(leftover, []byte("half written"), 0o644); err != nil {
		t.Fatal(err)
	}

	openTest(t, smallOptions(dir))
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Errorf("temp file %s survived recovery", leftover)
	}
}

func TestLockedDirectory(t *testing.T) {
	dir := t.TempDir()

	first, err := open(smallOptions(dir))
	if err != nil {
		t.Fatal(err)
	}

	if second, err := open(smallOptions(dir)); err == nil {
		second.Close()
		t.Fatalf("second open of a locked directory succeeded")
	} else if !strings.Contains(err.Error(), "locked") {
		t.Errorf("unexpected error: %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	openTest(t, smallOptions(dir))
}

func TestRecoveryCorruptSegment(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	h, err := open(smallOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"a", "b", "c"} {
		h.Set(ctx, key, []byte("value-"+key), 0)
	}
	addr, _ := h.index.Lookup("c")
	if addr.Kind() != address.KindLog {
		t.Fatalf("c should still be in the log, got %s", addr)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, region.SegmentFileName(addr.ID()))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[int(addr.Offset())+record.HeaderSize+1] ^= 0xff
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	h = openTest(t, smallOptions(dir))

	// the damaged record never made it into the index
	if _, ok, err := h.Get(ctx, "c"); ok || err != nil {
		t.Errorf("Get(c) = %v, %v; want not found", ok, err)
	}
	// records before the damage are indexed, reading them reports the corruption
	_, _, err = h.Get(ctx, "a")
	if !db.IsCorruption(err) {
		t.Errorf("Get(a) = %v, want corruption", err)
	}
	if h.metrics.corruptions.Get() == 0 {
		t.Errorf("corruption not counted")
	}

	// writes keep working
	if err := h.Set(ctx, "a", []byte("rewritten"), 0); err != nil {
		t.Fatal(err)
	}
	if v, ok, err := h.Get(ctx, "a"); err != nil || !ok || string(v) != "rewritten" {
		t.Errorf("Get(a) after rewrite = %q, %v, %v", v, ok, err)
	}
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	h, err := open(smallOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		h.Set(ctx, fmt.Sprintf("key-%d", i), []byte("value"), 0)
	}
	pushToDisk(t, h, "key-0")
	h.Delete(ctx, "key-99")
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	var (
		reports    []FileReport
		records    int
		tombstones int
	)
	err = Inspect(dir, func(r FileReport) {
		reports = append(reports, r)
		records += r.Records
		tombstones += r.Tombstones
	})
	if err != nil {
		t.Fatal(err)
	}

	kinds := make(map[string]int)
	for _, r := range reports {
		kinds[r.Kind]++
		if r.Err != nil {
			t.Errorf("%s reported corruption: %v", r.Name, r.Err)
		}
		if r.Records > 0 && r.MinVersion > r.MaxVersion {
			t.Errorf("%s: version range %d..%d", r.Name, r.MinVersion, r.MaxVersion)
		}
	}
	if kinds["disk"] == 0 || kinds["segment"] == 0 {
		t.Errorf("expected disk files and segments, got %v", kinds)
	}
	if records < 100 {
		t.Errorf("inspected %d records, at least 100 were written", records)
	}
	if tombstones == 0 {
		t.Errorf("tombstone of key-99 not reported")
	}

	if err := Inspect(filepath.Join(dir, "missing"), func(FileReport) {}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Inspect of a missing dir = %v", err)
	}
}
