// Package record implements the on-log encoding shared by every tier.
//
// Layout (little endian):
//
//	[crc32:4][flags:1][version:8][expireAt:8][keyLen:4][valueLen:4][key][value]
//
// The IEEE CRC covers everything after the crc field. Flag bit 0 marks a tombstone, flag bit 7 is
// set in every record so a zeroed header marks the end of the written data, even for empty keys.
package record

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/ValentinKolb/hKV/lib/db"
)

const (
	HeaderSize = 4 + 1 + 8 + 8 + 4 + 4

	// MaxRecordSize bounds a single encoded record, larger length fields are treated as corrupt
	MaxRecordSize = 1 << 30

	flagTombstone = 1 << 0
	flagPresent   = 1 << 7

	offFlags    = 4
	offVersion  = 5
	offExpireAt = 13
	offKeyLen   = 21
	offValueLen = 25
)

var (
	// ErrTruncated is returned when a buffer ends inside a record
	ErrTruncated = errors.New("record: truncated")
	// ErrEmpty is returned when a buffer holds no record at the given position
	ErrEmpty = errors.New("record: empty")
)

// ChecksumError reports a crc mismatch of a single record
type ChecksumError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("record: checksum mismatch (expected %08x, got %08x)", e.Expected, e.Actual)
}

// Size returns the encoded size of a record
func Size(keyLen, valueLen int) int {
	return HeaderSize + keyLen + valueLen
}

// SizeOf returns the encoded size of rec
func SizeOf(rec *db.Record) int {
	return Size(len(rec.Key), len(rec.Value))
}

// Encode writes rec into dst, which must hold at least SizeOf(rec) bytes.
// Returns the number of bytes written.
func Encode(dst []byte, rec *db.Record) int {
	n := SizeOf(rec)
	dst = dst[:n]

	flags := byte(flagPresent)
	if rec.Tombstone {
		flags |= flagTombstone
	}
	dst[offFlags] = flags
	binary.LittleEndian.PutUint64(dst[offVersion:], rec.Version)
	binary.LittleEndian.PutUint64(dst[offExpireAt:], uint64(rec.ExpireAt))
	binary.LittleEndian.PutUint32(dst[offKeyLen:], uint32(len(rec.Key)))
	binary.LittleEndian.PutUint32(dst[offValueLen:], uint32(len(rec.Value)))
	copy(dst[HeaderSize:], rec.Key)
	copy(dst[HeaderSize+len(rec.Key):], rec.Value)

	binary.LittleEndian.PutUint32(dst, crc32.ChecksumIEEE(dst[4:]))
	return n
}

// Append encodes rec at the end of dst
func Append(dst []byte, rec *db.Record) []byte {
	n := SizeOf(rec)
	start := len(dst)
	if cap(dst)-start < n {
		grown := make([]byte, start, start+n)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:start+n]
	Encode(dst[start:], rec)
	return dst
}

// PeekSize returns the encoded size of the record whose header starts buf
func PeekSize(header []byte) (int, error) {
	if len(header) < HeaderSize {
		return 0, ErrTruncated
	}
	if err := checkPresent(header); err != nil {
		return 0, err
	}
	keyLen := binary.LittleEndian.Uint32(header[offKeyLen:])
	valueLen := binary.LittleEndian.Uint32(header[offValueLen:])
	if uint64(keyLen)+uint64(valueLen) > MaxRecordSize {
		return 0, &ChecksumError{Expected: binary.LittleEndian.Uint32(header)}
	}
	return HeaderSize + int(keyLen) + int(valueLen), nil
}

// ----------------------------------------------------------------------------
// Views
// ----------------------------------------------------------------------------

// View is a decoded record that still points into the memory it was decoded from.
// A View must not be used after the memory is released, copy it with Record first.
type View struct {
	buf []byte
}

// Decode parses the record at the start of buf. With verify set the crc is checked and a
// mismatch is reported as *ChecksumError.
func Decode(buf []byte, verify bool) (View, error) {
	if len(buf) < HeaderSize {
		if allZero(buf) {
			return View{}, ErrEmpty
		}
		return View{}, ErrTruncated
	}

	if err := checkPresent(buf); err != nil {
		return View{}, err
	}
	keyLen := binary.LittleEndian.Uint32(buf[offKeyLen:])
	valueLen := binary.LittleEndian.Uint32(buf[offValueLen:])

	n := uint64(HeaderSize) + uint64(keyLen) + uint64(valueLen)
	if n > uint64(len(buf)) {
		if verify {
			// a torn length field is indistinguishable from a truncated record, report the crc
			return View{}, &ChecksumError{Expected: binary.LittleEndian.Uint32(buf)}
		}
		return View{}, ErrTruncated
	}

	v := View{buf: buf[:n]}
	if verify {
		expected := binary.LittleEndian.Uint32(v.buf)
		if actual := crc32.ChecksumIEEE(v.buf[4:]); actual != expected {
			return View{}, &ChecksumError{Expected: expected, Actual: actual}
		}
	}
	return v, nil
}

// checkPresent returns ErrEmpty for a zeroed header and a *ChecksumError for a header that
// lacks the presence flag but is not zeroed
func checkPresent(header []byte) error {
	if header[offFlags]&flagPresent != 0 {
		return nil
	}
	if allZero(header[:HeaderSize]) {
		return ErrEmpty
	}
	return &ChecksumError{Expected: binary.LittleEndian.Uint32(header)}
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// Len returns the encoded size of the record
func (v View) Len() int { return len(v.buf) }

// Raw returns the encoded bytes of the record
func (v View) Raw() []byte { return v.buf }

func (v View) Version() uint64 {
	return binary.LittleEndian.Uint64(v.buf[offVersion:])
}

func (v View) ExpireAt() int64 {
	return int64(binary.LittleEndian.Uint64(v.buf[offExpireAt:]))
}

func (v View) Tombstone() bool {
	return v.buf[offFlags]&flagTombstone != 0
}

// Expired reports whether the record is expired at the given unix nano timestamp
func (v View) Expired(now int64) bool {
	e := v.ExpireAt()
	return e != 0 && e <= now
}

func (v View) keyLen() int {
	return int(binary.LittleEndian.Uint32(v.buf[offKeyLen:]))
}

// Key returns the key bytes without copying
func (v View) Key() []byte {
	return v.buf[HeaderSize : HeaderSize+v.keyLen()]
}

// Value returns the value bytes without copying
func (v View) Value() []byte {
	return v.buf[HeaderSize+v.keyLen():]
}

// Record copies the view into an independent db.Record
func (v View) Record() db.Record {
	value := make([]byte, len(v.Value()))
	copy(value, v.Value())
	return db.Record{
		Key:       string(v.Key()),
		Value:     value,
		ExpireAt:  v.ExpireAt(),
		Tombstone: v.Tombstone(),
		Version:   v.Version(),
	}
}

// ----------------------------------------------------------------------------
// Streams
// ----------------------------------------------------------------------------

// Write encodes rec to w using scratch as temporary buffer and returns the grown scratch
func Write(w io.Writer, rec *db.Record, scratch []byte) ([]byte, error) {
	scratch = Append(scratch[:0], rec)
	_, err := w.Write(scratch)
	return scratch, err
}

// Reader decodes consecutive records from a stream and verifies their checksums
type Reader struct {
	r      *bufio.Reader
	offset int64
	buf    []byte
}

// NewReader wraps r, offset is the stream position of the first record
func NewReader(r io.Reader, offset int64) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 1<<20)
	}
	return &Reader{r: br, offset: offset}
}

// Offset returns the stream position of the next record
func (r *Reader) Offset() int64 { return r.offset }

// Next returns the next record and its stream position.
// The view is only valid until the following call to Next.
// io.EOF is returned at a clean end of stream, ErrTruncated when the stream ends inside a
// record and *ChecksumError on a crc mismatch.
func (r *Reader) Next() (View, int64, error) {
	if cap(r.buf) < HeaderSize {
		r.buf = make([]byte, HeaderSize, 4096)
	}
	header := r.buf[:HeaderSize]
	if n, err := io.ReadFull(r.r, header); err != nil {
		if err == io.EOF {
			return View{}, r.offset, io.EOF
		}
		if n > 0 && allZero(header[:n]) {
			return View{}, r.offset, io.EOF
		}
		return View{}, r.offset, ErrTruncated
	}

	if err := checkPresent(header); errors.Is(err, ErrEmpty) {
		return View{}, r.offset, io.EOF
	} else if err != nil {
		return View{}, r.offset, err
	}
	keyLen := binary.LittleEndian.Uint32(header[offKeyLen:])
	valueLen := binary.LittleEndian.Uint32(header[offValueLen:])

	n := HeaderSize + int(keyLen) + int(valueLen)
	if uint64(keyLen)+uint64(valueLen) > MaxRecordSize {
		return View{}, r.offset, &ChecksumError{Expected: binary.LittleEndian.Uint32(header)}
	}
	if cap(r.buf) < n {
		grown := make([]byte, n)
		copy(grown, header)
		r.buf = grown
	}
	buf := r.buf[:n]
	if _, err := io.ReadFull(r.r, buf[HeaderSize:]); err != nil {
		return View{}, r.offset, ErrTruncated
	}

	v, err := Decode(buf, true)
	if err != nil {
		return View{}, r.offset, err
	}

	at := r.offset
	r.offset += int64(n)
	return v, at, nil
}
