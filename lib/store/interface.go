package store

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() (db.KVDB, error)

// IStore is the generic interface for interacting with a key–value store.
// All methods return a *Error (nil on success) as error.
type IStore interface {
	// Set inserts or updates a key–value pair.
	Set(key string, value []byte) (err error)
	// SetE inserts or updates a key–value pair that expires after ttl (ttl <= 0 means never).
	SetE(key string, value []byte, ttl time.Duration) (err error)
	// SetEIfUnset inserts a key–value pair if the key does not exist (or is deleted or expired).
	// Returns whether the value was written. An existing key is not an error.
	SetEIfUnset(key string, value []byte, ttl time.Duration) (ok bool, err error)
	// CompareAndSet replaces the value of key if its current version equals expectedVersion.
	// An expectedVersion of 0 means the key must not exist.
	CompareAndSet(key string, expectedVersion uint64, value []byte, ttl time.Duration) (ok bool, err error)
	// Delete deletes a key–value pair. Returns whether a live key existed.
	Delete(key string) (existed bool, err error)
	// Get return the value for a key. The boolean return value indicates whether a value for the key was found.
	Get(key string) (value []byte, loaded bool, err error)
	// GetRecord returns the value of a key together with its version and expiry.
	GetRecord(key string) (record db.Record, loaded bool, err error)
	// Has returns whether a live value exists for key.
	Has(key string) (loaded bool, err error)
	// Scan returns keys matching the glob pattern (path.Match syntax, "" matches all) starting
	// at cursor. A returned cursor of 0 means the scan is complete.
	Scan(cursor uint64, count int, pattern string) (next uint64, keys []string, err error)
	// Export writes all live records to w.
	Export(w io.Writer) (err error)
	// Import reads records written by Export.
	Import(r io.Reader) (err error)
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
	// Close releases the underlying database.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
	Err  error   // The database error that caused it, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// Unwrap exposes the database error, so errors.Is(err, db.ErrCapacityExceeded) keeps working
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// FromDBError maps an error returned by a db.KVDB onto a store error.
// Returns nil for a nil error.
func FromDBError(err error) error {
	if err == nil {
		return nil
	}
	var code RetCode
	switch {
	case db.IsCorruption(err):
		code = RetCCorruption
	case errors.Is(err, db.ErrCapacityExceeded):
		code = RetCCapacityExceeded
	case errors.Is(err, db.ErrTransientIO):
		code = RetCTransient
	case errors.Is(err, db.ErrKeyTooLarge), errors.Is(err, db.ErrValueTooLarge):
		code = RetCInvalidArgument
	case errors.Is(err, db.ErrClosed):
		code = RetCClosed
	default:
		code = RetCInternalError
	}
	return &Error{Code: code, Msg: err.Error(), Err: err}
}

// CodeOf returns the return code of err, RetCSuccess for nil and RetCInternalError for errors
// that are not store errors
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCInvalidArgument                     // 4: Key, value or pattern rejected.
	RetCCapacityExceeded                    // 5: All storage tiers are full, retry later.
	RetCCorruption                          // 6: Persisted data failed its checksum.
	RetCTransient                           // 7: Recoverable I/O failure or timeout, retry.
	RetCClosed                              // 8: The store was closed.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCInvalidArgument:
		return "InvalidArgument"
	case RetCCapacityExceeded:
		return "CapacityExceeded"
	case RetCCorruption:
		return "Corruption"
	case RetCTransient:
		return "Transient"
	case RetCClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Retryable reports whether an operation that failed with this code may succeed when retried
func (c RetCode) Retryable() bool {
	return c == RetCCapacityExceeded || c == RetCTransient
}
