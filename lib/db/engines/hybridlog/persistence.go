package hybridlog

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/record"
)

// File format of Save/Load (little endian):
//
//	magic[8] version[1] { 0x01 record }* 0x00 count[8]
//
// Records use the log encoding including its checksum. The trailing count guards against
// truncated files.
const (
	magicNum      = "HLOGDB\x00\x00"
	formatVersion = 1

	markerRecord = 0x01
	markerEnd    = 0x00
)

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes every live record to w.
// Concurrent reading and writing is allowed, the output is a weakly consistent snapshot.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (h *hybridLog) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := bw.WriteByte(formatVersion); err != nil {
		return err
	}

	var (
		count   uint64
		scratch []byte
	)
	for rec, err := range h.Snapshot(context.Background()) {
		if err != nil {
			return fmt.Errorf("hybridlog: saving %q: %w", rec.Key, err)
		}
		if err := bw.WriteByte(markerRecord); err != nil {
			return err
		}
		if scratch, err = record.Write(bw, &rec, scratch); err != nil {
			return err
		}
		count++
	}

	if err := bw.WriteByte(markerEnd); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, count); err != nil {
		return err
	}
	return bw.Flush()
}

// Load reads a file written by Save and restores its records on top of the current content.
//
// Thread-safety: This method is thread-safe, concurrent writes to the same keys race with the
// restored records.
func (h *hybridLog) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	magic := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magic); err != nil {
		return err
	}
	if string(magic) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}
	version, err := br.ReadByte()
	if err != nil {
		return err
	}
	if version != formatVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, formatVersion)
	}

	return h.Restore(context.Background(), readRecords(br))
}

// readRecords decodes the record section of a Save file
func readRecords(br *bufio.Reader) func(yield func(db.Record, error) bool) {
	return func(yield func(db.Record, error) bool) {
		rr := record.NewReader(br, 0)
		for n := uint64(0); ; n++ {
			marker, err := br.ReadByte()
			if err != nil {
				yield(db.Record{}, fmt.Errorf("reading record %d: %w", n, io.ErrUnexpectedEOF))
				return
			}

			switch marker {
			case markerRecord:
				v, _, err := rr.Next()
				if err != nil {
					yield(db.Record{}, decodeError(n, err))
					return
				}
				if !yield(v.Record(), nil) {
					return
				}
			case markerEnd:
				var count uint64
				if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
					yield(db.Record{}, fmt.Errorf("reading record count: %w", err))
					return
				}
				if count != n {
					yield(db.Record{}, fmt.Errorf("record count mismatch: file announces %d, read %d", count, n))
				}
				return
			default:
				yield(db.Record{}, fmt.Errorf("invalid record marker 0x%02x", marker))
				return
			}
		}
	}
}

// decodeError converts the decoding error of the n-th record of a Save file
func decodeError(n uint64, err error) error {
	var cs *record.ChecksumError
	switch {
	case errors.As(err, &cs):
		return &db.CorruptionError{Source: "snapshot", Offset: int64(n), ExpectedCRC: cs.Expected, ActualCRC: cs.Actual,
			Message: fmt.Sprintf("checksum mismatch in record %d", n)}
	case errors.Is(err, io.EOF), errors.Is(err, record.ErrTruncated):
		return fmt.Errorf("reading record %d: %w", n, io.ErrUnexpectedEOF)
	default:
		return err
	}
}
