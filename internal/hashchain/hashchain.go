// Package hashchain provides the fingerprint primitives for the incident
// audit ledger: a SHA-256 content hash and a Merkle-root reduction over an
// ordered list of leaf fingerprints.
//
// The Merkle construction is the simplified binary tree used throughout the
// platform: leaves are combined pairwise level by level, and a level with an
// odd number of nodes pairs its last node with itself. The duplication rule
// is load-bearing — two implementations must produce identical roots for the
// same event sequence.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint is a hex-encoded SHA-256 digest.
type Fingerprint string

// EmptyRoot is the well-known root of a timeline with no events. It is a real
// hash rather than a zero value so callers can distinguish "no events yet"
// from an unset field.
var EmptyRoot = Hash([]byte("empty"))

// Hash returns the hex-encoded SHA-256 digest of data.
func Hash(data []byte) Fingerprint {
	sum := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// Combine hashes the concatenation of two fingerprints. Order matters.
func Combine(left, right Fingerprint) Fingerprint {
	return Hash([]byte(string(left) + string(right)))
}

// MerkleRoot reduces an ordered list of leaf fingerprints to a single root.
// An empty list yields EmptyRoot; a single leaf is its own root. Reordering
// leaves changes the root.
func MerkleRoot(leaves []Fingerprint) Fingerprint {
	if len(leaves) == 0 {
		return EmptyRoot
	}

	level := make([]Fingerprint, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([]Fingerprint, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, Combine(level[i], level[i+1]))
			} else {
				// Odd node count: pair the last node with itself.
				next = append(next, Combine(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}
