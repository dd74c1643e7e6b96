package record

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/ValentinKolb/hKV/lib/db"
)

func TestEncodeDecode(t *testing.T) {
	rec := db.Record{Key: "user:1", Value: []byte("alice"), ExpireAt: 1234, Version: 99}

	buf := make([]byte, SizeOf(&rec))
	if n := Encode(buf, &rec); n != Size(6, 5) {
		t.Fatalf("Encode wrote %d bytes, want %d", n, Size(6, 5))
	}

	v, err := Decode(buf, true)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if string(v.Key()) != "user:1" || string(v.Value()) != "alice" {
		t.Errorf("Decoded key/value %q/%q", v.Key(), v.Value())
	}
	if v.Version() != 99 || v.ExpireAt() != 1234 || v.Tombstone() {
		t.Errorf("Decoded header version=%d expireAt=%d tombstone=%v", v.Version(), v.ExpireAt(), v.Tombstone())
	}
	if !v.Expired(1234) || v.Expired(1233) {
		t.Errorf("Expiry is inclusive of ExpireAt")
	}

	copied := v.Record()
	buf[HeaderSize+6] = 'X'
	if string(copied.Value) != "alice" {
		t.Errorf("Record() must copy the value out of the buffer")
	}
}

func TestTombstoneFlag(t *testing.T) {
	rec := db.Record{Key: "gone", Tombstone: true, Version: 3}
	v, err := Decode(Append(nil, &rec), true)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !v.Tombstone() || len(v.Value()) != 0 {
		t.Errorf("Expected an empty tombstone record")
	}
}

func TestChecksumMismatch(t *testing.T) {
	rec := db.Record{Key: "k", Value: []byte("value"), Version: 1}
	buf := Append(nil, &rec)
	buf[len(buf)-1] ^= 0xff

	_, err := Decode(buf, true)
	var ce *ChecksumError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected ChecksumError, got %v", err)
	}
	if ce.Expected == ce.Actual {
		t.Errorf("Expected and actual crc must differ")
	}

	// without verification the damaged record still decodes
	if _, err := Decode(buf, false); err != nil {
		t.Errorf("Unverified decode failed: %v", err)
	}
}

func TestDecodeEmptyAndTruncated(t *testing.T) {
	if _, err := Decode(make([]byte, 64), false); !errors.Is(err, ErrEmpty) {
		t.Errorf("Zeroed buffer should decode as ErrEmpty, got %v", err)
	}

	rec := db.Record{Key: "k", Value: []byte("value"), Version: 1}
	buf := Append(nil, &rec)
	if _, err := Decode(buf[:len(buf)-2], false); !errors.Is(err, ErrTruncated) {
		t.Errorf("Short buffer should decode as ErrTruncated, got %v", err)
	}
}

func TestEmptyKeyRecord(t *testing.T) {
	rec := db.Record{}
	buf := Append(nil, &rec)

	v, err := Decode(buf, true)
	if err != nil {
		t.Fatalf("Record with empty key and value should decode, got %v", err)
	}
	if len(v.Key()) != 0 || len(v.Value()) != 0 || v.Len() != HeaderSize {
		t.Errorf("Decoded %d key and %d value bytes from %d bytes", len(v.Key()), len(v.Value()), v.Len())
	}
	if n, err := PeekSize(buf); err != nil || n != HeaderSize {
		t.Errorf("PeekSize = %d, %v", n, err)
	}

	// the zeroed tail of a region ends the stream, the empty key before it does not
	stream := append(buf, make([]byte, 2*HeaderSize)...)
	r := NewReader(bytes.NewReader(stream), 0)
	if _, _, err := r.Next(); err != nil {
		t.Fatalf("Reader stopped at the empty key record: %v", err)
	}
	if _, _, err := r.Next(); err != io.EOF {
		t.Errorf("Expected io.EOF at the zeroed tail, got %v", err)
	}

	// a header without the presence flag that is not zeroed is damage
	buf[offFlags] = 0
	var ce *ChecksumError
	if _, err := Decode(buf, false); !errors.As(err, &ce) {
		t.Errorf("Header without presence flag should fail with ChecksumError, got %v", err)
	}
}

func TestReaderStream(t *testing.T) {
	var stream bytes.Buffer
	var scratch []byte
	var err error
	for i := 0; i < 100; i++ {
		rec := db.Record{Key: string(rune('a' + i%26)), Value: bytes.Repeat([]byte{byte(i)}, i), Version: uint64(i + 1)}
		if scratch, err = Write(&stream, &rec, scratch); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	r := NewReader(&stream, 0)
	var expectedOffset int64
	for i := 0; i < 100; i++ {
		v, off, err := r.Next()
		if err != nil {
			t.Fatalf("Next failed at record %d: %v", i, err)
		}
		if off != expectedOffset {
			t.Errorf("Record %d at offset %d, want %d", i, off, expectedOffset)
		}
		if v.Version() != uint64(i+1) || len(v.Value()) != i {
			t.Errorf("Record %d decoded with version %d and %d value bytes", i, v.Version(), len(v.Value()))
		}
		expectedOffset += int64(v.Len())
	}

	if _, _, err := r.Next(); err != io.EOF {
		t.Errorf("Expected io.EOF at end of stream, got %v", err)
	}
}

func TestReaderDetectsCorruption(t *testing.T) {
	rec := db.Record{Key: "k", Value: []byte("payload"), Version: 7}
	buf := Append(nil, &rec)
	buf = Append(buf, &rec)
	buf[len(buf)-3] ^= 0x01

	r := NewReader(bytes.NewReader(buf), 0)
	if _, _, err := r.Next(); err != nil {
		t.Fatalf("First record should be intact: %v", err)
	}
	_, off, err := r.Next()
	var ce *ChecksumError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected ChecksumError for the damaged record, got %v", err)
	}
	if off != int64(SizeOf(&rec)) {
		t.Errorf("Corruption reported at offset %d, want %d", off, SizeOf(&rec))
	}

	r = NewReader(bytes.NewReader(buf[:len(buf)-3]), 0)
	r.Next()
	if _, _, err := r.Next(); !errors.Is(err, ErrTruncated) {
		t.Errorf("Expected ErrTruncated for a cut record, got %v", err)
	}
}
