package lstore

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog"
	"github.com/ValentinKolb/hKV/lib/store"
)

func newTestStore(t *testing.T) store.IStore {
	t.Helper()
	s, err := NewLocalStore(func() (db.KVDB, error) {
		return hybridlog.NewHybridLog(&hybridlog.Options{Dir: t.TempDir(), IndexBuckets: 256})
	}, time.Second)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetDelete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("key", []byte("value")); err != nil {
		t.Fatal(err)
	}
	if v, ok, err := s.Get("key"); err != nil || !ok || string(v) != "value" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
	if ok, _ := s.Has("key"); !ok {
		t.Errorf("Has should report an existing key")
	}
	if existed, err := s.Delete("key"); err != nil || !existed {
		t.Fatalf("Delete = %v, %v", existed, err)
	}
	if ok, _ := s.Has("key"); ok {
		t.Errorf("Has should not report a deleted key")
	}
}

func TestSetEIfUnset(t *testing.T) {
	s := newTestStore(t)

	if ok, err := s.SetEIfUnset("lease", []byte("first"), 50*time.Millisecond); err != nil || !ok {
		t.Fatalf("first SetEIfUnset = %v, %v", ok, err)
	}
	if ok, _ := s.SetEIfUnset("lease", []byte("second"), 0); ok {
		t.Errorf("SetEIfUnset overwrote a live key")
	}

	time.Sleep(80 * time.Millisecond)
	if ok, _ := s.SetEIfUnset("lease", []byte("third"), 0); !ok {
		t.Errorf("SetEIfUnset should succeed once the key expired")
	}
	if v, _, _ := s.Get("lease"); string(v) != "third" {
		t.Errorf("Get = %q, want third", v)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestStore(t)

	err := s.Set(strings.Repeat("k", 65<<10), []byte("v"))
	if store.CodeOf(err) != store.RetCInvalidArgument {
		t.Errorf("oversized key mapped to %s", store.CodeOf(err))
	}
	if !errors.Is(err, db.ErrKeyTooLarge) {
		t.Errorf("store error should unwrap to db.ErrKeyTooLarge")
	}

	if _, _, err := s.Scan(0, 10, "[unclosed"); store.CodeOf(err) != store.RetCInvalidArgument {
		t.Errorf("bad pattern mapped to %s", store.CodeOf(err))
	}

	cases := map[error]store.RetCode{
		db.ErrCapacityExceeded:                       store.RetCCapacityExceeded,
		fmt.Errorf("wrapped: %w", db.ErrTransientIO): store.RetCTransient,
		&db.CorruptionError{Source: "x"}:             store.RetCCorruption,
		db.ErrClosed:                                 store.RetCClosed,
		errors.New("something else"):                 store.RetCInternalError,
	}
	for in, want := range cases {
		if got := store.CodeOf(store.FromDBError(in)); got != want {
			t.Errorf("FromDBError(%v) = %s, want %s", in, got, want)
		}
	}
	if store.FromDBError(nil) != nil {
		t.Errorf("nil error should map to nil")
	}
	if !store.RetCTransient.Retryable() || store.RetCCorruption.Retryable() {
		t.Errorf("unexpected Retryable classification")
	}
}

func TestScanPattern(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 30; i++ {
		s.Set(fmt.Sprintf("user:%d", i), []byte("u"))
		s.Set(fmt.Sprintf("order:%d", i), []byte("o"))
	}

	collect := func(pattern string) []string {
		var all []string
		var cursor uint64
		for {
			next, keys, err := s.Scan(cursor, 7, pattern)
			if err != nil {
				t.Fatalf("Scan(%q) failed: %v", pattern, err)
			}
			all = append(all, keys...)
			if next == 0 {
				sort.Strings(all)
				return all
			}
			cursor = next
		}
	}

	if got := collect("user:*"); len(got) != 30 {
		t.Errorf("user:* matched %d keys", len(got))
	}
	if got := collect("order:1?"); len(got) != 10 {
		t.Errorf("order:1? matched %d keys: %v", len(got), got)
	}
	if got := collect(""); len(got) != 60 {
		t.Errorf("empty pattern matched %d keys", len(got))
	}
}

func TestExportImport(t *testing.T) {
	src := newTestStore(t)
	for i := 0; i < 50; i++ {
		src.Set(fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)))
	}

	var buf bytes.Buffer
	if err := src.Export(&buf); err != nil {
		t.Fatal(err)
	}

	dst := newTestStore(t)
	if err := dst.Import(&buf); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		if v, ok, _ := dst.Get(fmt.Sprintf("key-%d", i)); !ok || string(v) != fmt.Sprintf("value-%d", i) {
			t.Errorf("key-%d = %q (ok=%v) after import", i, v, ok)
		}
	}

	if err := dst.Import(bytes.NewReader([]byte("garbage"))); err == nil {
		t.Errorf("Import of garbage should fail")
	}
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("k", nil); store.CodeOf(err) != store.RetCClosed {
		t.Errorf("Set after Close mapped to %s", store.CodeOf(err))
	}
}
