package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint computes a stable hash for a finding key.
func Fingerprint(findingType, file string, start, end int, context string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|%s", findingType, file, start, end, context)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash hashes arbitrary text parts into a hex key. Used for pattern
// ids and cache keys so that identical inputs land on the same entry.
func ContentHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
