package db

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCorruptionErrorMatching(t *testing.T) {
	var err error = &CorruptionError{Source: "dat-1.disk", Offset: 42, ExpectedCRC: 1, ActualCRC: 2, Message: "checksum mismatch"}
	wrapped := fmt.Errorf("reading key: %w", err)

	if !errors.Is(wrapped, ErrCorruption) {
		t.Errorf("Expected wrapped corruption error to match ErrCorruption")
	}
	if !IsCorruption(wrapped) {
		t.Errorf("Expected IsCorruption to detect wrapped error")
	}

	var ce *CorruptionError
	if !errors.As(wrapped, &ce) || ce.Offset != 42 {
		t.Errorf("Expected errors.As to extract the corruption details")
	}

	if errors.Is(ErrTransientIO, ErrCorruption) || IsCorruption(ErrTransientIO) {
		t.Errorf("Transient errors must not be reported as corruption")
	}
}

func TestRecordExpired(t *testing.T) {
	now := time.Now().UnixNano()

	if (Record{}).Expired(now) {
		t.Errorf("Record without ttl must never expire")
	}
	if !(Record{ExpireAt: now - 1}).Expired(now) {
		t.Errorf("Record with past ExpireAt must be expired")
	}
	if (Record{ExpireAt: ExpireAt(time.Hour)}).Expired(now) {
		t.Errorf("Record with future ExpireAt must not be expired")
	}
	if ExpireAt(0) != 0 || ExpireAt(-time.Second) != 0 {
		t.Errorf("Non positive ttl must map to no expiry")
	}
}

func TestFeatureString(t *testing.T) {
	if FeatureCompareAndSet.String() != "CompareAndSet" {
		t.Errorf("unexpected feature name %s", FeatureCompareAndSet)
	}
	if (FeatureSet | FeatureGet).String() != "Unknown" {
		t.Errorf("combined features have no single name")
	}
}
