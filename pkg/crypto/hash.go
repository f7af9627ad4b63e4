// Package crypto provides the non-protocol-mandated hash used throughout
// klingindex's own row schema (script-hash keys): BLAKE3, the hash family
// the wider corpus reaches for whenever a hash isn't fixed by an external
// wire protocol. Block/transaction hashing, which the upstream protocol
// does mandate as double-SHA256, lives in internal/chainmodel instead.
package crypto

import (
	"github.com/Klingon-tech/klingindex/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// DoubleHash computes Hash(Hash(data)).
func DoubleHash(data []byte) types.Hash {
	first := Hash(data)
	return Hash(first[:])
}

// HashConcat hashes the concatenation of two hashes with BLAKE3.
// Merkle trees do not use it; they use chainmodel.HashConcat.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}
