package util

import "testing"

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int]int{-3: 1, 0: 1, 1: 1, 2: 2, 3: 4, 1000: 1024, 1024: 1024, 1025: 2048}
	for in, want := range cases {
		if got := NextPowerOfTwo(in); got != want {
			t.Errorf("NextPowerOfTwo(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestFingerprint(t *testing.T) {
	seed := GenerateSeed()

	if Fingerprint("key", seed) != Fingerprint("key", seed) {
		t.Errorf("Fingerprint must be deterministic for the same seed")
	}
	if Fingerprint("key", seed) == Fingerprint("key", seed+1) {
		t.Errorf("Different seeds should produce different fingerprints")
	}

	// low bits are used for bucket selection and must be spread
	const buckets = 64
	used := make(map[uint64]bool)
	for i := 0; i < 1000; i++ {
		used[Fingerprint(string(rune('a'+i%26))+string(rune(i)), seed)&(buckets-1)] = true
	}
	if len(used) < buckets/2 {
		t.Errorf("Expected fingerprints to spread over buckets, only %d of %d used", len(used), buckets)
	}
}
