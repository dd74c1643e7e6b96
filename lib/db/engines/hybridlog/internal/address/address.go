// Package address encodes the location of a record as a tagged 64 bit word.
//
// Layout (most significant bit first):
//
//	[kind:2][tombstone:1][id:21][offset:40]
//
// Kind Log names a log segment (the Mutable or ReadOnly tier, resolved from the segment state),
// kind Disk names a disk file. Segment and file ids are never reused, so an id that is no longer
// registered identifies a stale address.
package address

import "fmt"

// Kind is the storage space an address points into
type Kind uint8

const (
	KindInvalid Kind = iota
	KindLog
	KindDisk
)

func (k Kind) String() string {
	switch k {
	case KindLog:
		return "log"
	case KindDisk:
		return "disk"
	default:
		return "invalid"
	}
}

// Tier is the storage tier a record currently lives in
type Tier uint8

const (
	TierMutable Tier = iota
	TierReadOnly
	TierDisk
)

func (t Tier) String() string {
	switch t {
	case TierMutable:
		return "mutable"
	case TierReadOnly:
		return "readonly"
	case TierDisk:
		return "disk"
	default:
		return "unknown"
	}
}

const (
	offsetBits = 40
	idBits     = 21

	kindShift      = 62
	tombstoneShift = 61
	idShift        = offsetBits

	// MaxOffset is the largest offset an address can carry
	MaxOffset = 1<<offsetBits - 1
	// MaxID is the largest segment or file id an address can carry
	MaxID = 1<<idBits - 1
)

// LogAddress is the packed location of a record
type LogAddress uint64

const (
	// Invalid is the zero address, it never names a record
	Invalid LogAddress = 0
	// Removed marks an index entry whose key is gone. It is terminal: an entry that holds it
	// is never updated again and only waits to be unlinked.
	Removed LogAddress = 1 << tombstoneShift
)

func pack(kind Kind, id uint32, offset uint64) LogAddress {
	if id > MaxID || offset > MaxOffset {
		panic(fmt.Sprintf("address: id %d / offset %d out of range", id, offset))
	}
	return LogAddress(uint64(kind)<<kindShift | uint64(id)<<idShift | offset)
}

// Log returns the address of a record in log segment id
func Log(id uint32, offset uint64) LogAddress {
	return pack(KindLog, id, offset)
}

// Disk returns the address of a record in disk file id
func Disk(id uint32, offset uint64) LogAddress {
	return pack(KindDisk, id, offset)
}

// Kind returns the storage space of the address
func (a LogAddress) Kind() Kind {
	return Kind(a >> kindShift)
}

// ID returns the segment or file id
func (a LogAddress) ID() uint32 {
	return uint32(a>>idShift) & MaxID
}

// Offset returns the byte offset inside the segment or file
func (a LogAddress) Offset() uint64 {
	return uint64(a) & MaxOffset
}

// IsTombstone reports whether the address points at a tombstone record
func (a LogAddress) IsTombstone() bool {
	return a.Kind() != KindInvalid && a&(1<<tombstoneShift) != 0
}

// WithTombstone returns the address flagged as pointing at a tombstone record
func (a LogAddress) WithTombstone() LogAddress {
	return a | 1<<tombstoneShift
}

// IsRemoved reports whether the address is the Removed marker
func (a LogAddress) IsRemoved() bool {
	return a == Removed
}

// IsValid reports whether the address names a record
func (a LogAddress) IsValid() bool {
	return a.Kind() == KindLog || a.Kind() == KindDisk
}

func (a LogAddress) String() string {
	switch {
	case a == Invalid:
		return "invalid"
	case a == Removed:
		return "removed"
	}
	tomb := ""
	if a.IsTombstone() {
		tomb = "+tombstone"
	}
	return fmt.Sprintf("%s(%d:%d)%s", a.Kind(), a.ID(), a.Offset(), tomb)
}
