package db

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrTransientIO reports a recoverable I/O failure (including timeouts), the caller may retry
	ErrTransientIO = errors.New("transient io error")

	// ErrCorruption is matched by every *CorruptionError
	ErrCorruption = errors.New("data corruption")

	// ErrCapacityExceeded is returned when all storage tiers are saturated
	ErrCapacityExceeded = errors.New("capacity exceeded")

	ErrKeyTooLarge   = errors.New("key too large")
	ErrValueTooLarge = errors.New("value too large")

	// ErrClosed is returned by every operation on a closed database
	ErrClosed = errors.New("database closed")

	// ErrInvalidAddress signals an internal fault: an index entry names storage that is gone
	ErrInvalidAddress = errors.New("invalid log address")
)

// CorruptionError describes a checksum mismatch in persisted data.
// Corruption is fatal for the affected segment or file, later reads fail with the same error.
type CorruptionError struct {
	Source      string // file or segment that holds the record
	Offset      int64
	ExpectedCRC uint32
	ActualCRC   uint32
	Message     string
}

func (e *CorruptionError) Error() string {
	if e.ExpectedCRC != 0 || e.ActualCRC != 0 {
		return fmt.Sprintf("corruption in %s at offset %d: %s (expected crc %08x, got %08x)",
			e.Source, e.Offset, e.Message, e.ExpectedCRC, e.ActualCRC)
	}
	return fmt.Sprintf("corruption in %s at offset %d: %s", e.Source, e.Offset, e.Message)
}

// Is makes errors.Is(err, ErrCorruption) match any CorruptionError
func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorruption
}

// IsCorruption reports whether err is or wraps a CorruptionError
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}
