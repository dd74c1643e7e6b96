package util

import (
	"crypto/rand"
	"encoding/binary"
	"math/bits"
	"time"

	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for internal hash distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// fall back to the clock, only if the system rng is unavailable
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// NextPowerOfTwo returns the smallest power of two >= n (minimum 1)
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// Fingerprint hashes a key with xxhash and mixes in a per instance seed.
// The finalizer (splitmix64) spreads the seed over all bits so that low bits can be used
// directly for bucket selection.
func Fingerprint(key string, seed uint64) uint64 {
	h := xxhash.Sum64String(key) ^ seed
	h ^= h >> 30
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 27
	h *= 0x94d049bb133111eb
	h ^= h >> 31
	return h
}
