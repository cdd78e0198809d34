// StableHash provides the deterministic content-hashing primitive used to
// build cycle-detection fingerprints in internal/controlled. It never calls
// the host clock: fingerprint equality must be reproducible byte-for-byte
// given the same logical content.
package primitives

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// StableHash returns a short deterministic hex digest of v's JSON encoding.
// v must encode deterministically (no map iteration order dependence beyond
// what encoding/json already normalizes via sorted keys).
func StableHash(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Unreachable for the value shapes this package hashes (strings,
		// slices of comparable structs); surfaced loudly rather than
		// silently producing a non-deterministic fallback.
		panic(fmt.Sprintf("primitives.StableHash: %v", err))
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}

// CombineHashes folds a sequence of hex digests into one, order-sensitive,
// using FNV-1a-style mixing over the bytes of each input string. The
// controlled scheduler's fingerprint does not use it; it hashes the
// per-machine and per-monitor hashes with StableHash instead.
func CombineHashes(parts ...string) string {
	var acc uint64 = 0xcbf29ce484222325
	const prime uint64 = 0x100000001b3
	buf := make([]byte, 8)
	for _, p := range parts {
		for i := 0; i < len(p); i++ {
			acc ^= uint64(p[i])
			acc *= prime
		}
	}
	binary.BigEndian.PutUint64(buf, acc)
	return fmt.Sprintf("%x", buf)
}
