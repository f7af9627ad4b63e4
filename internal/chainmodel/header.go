// Package chainmodel defines the wire-format block and transaction types
// that klingindex reads from upstream: true Bitcoin-style binary encoding,
// not the application's own signing format.
package chainmodel

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingindex/pkg/types"
)

// HeaderSize is the fixed wire size of a block header.
const HeaderSize = 80

// Header is an 80-byte Bitcoin-style block header.
type Header struct {
	Version    int32
	PrevHash   types.Hash
	MerkleRoot types.Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// Hash returns the double-SHA256 of the serialized header. This is the
// canonical block hash used throughout the row schema.
func (h Header) Hash() types.Hash {
	return DoubleSHA256(h.Bytes())
}

// Bytes serializes the header to its 80-byte wire form, little-endian
// throughout per the upstream protocol.
func (h Header) Bytes() []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h.Version))
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, h.Bits)
	buf = binary.LittleEndian.AppendUint32(buf, h.Nonce)
	return buf
}

// ParseHeader decodes an 80-byte wire header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, fmt.Errorf("chainmodel: header must be %d bytes, got %d", HeaderSize, len(b))
	}
	var h Header
	h.Version = int32(binary.LittleEndian.Uint32(b[0:4]))
	copy(h.PrevHash[:], b[4:36])
	copy(h.MerkleRoot[:], b[36:68])
	h.Timestamp = binary.LittleEndian.Uint32(b[68:72])
	h.Bits = binary.LittleEndian.Uint32(b[72:76])
	h.Nonce = binary.LittleEndian.Uint32(b[76:80])
	return h, nil
}

// DoubleSHA256 computes SHA256(SHA256(data)), the hash family used for
// block and transaction identifiers throughout the upstream wire protocol.
//
// This is intentionally stdlib crypto/sha256 rather than the pack's BLAKE3:
// double-SHA256 is mandated by the upstream protocol itself, not a design
// choice klingindex gets to make, so there is no third-party hash library
// in the retrieval pack to ground it on — BLAKE3 is used instead wherever
// klingindex invents its own hash (script-hash keys, see internal/rowkey).
func DoubleSHA256(data []byte) types.Hash {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return types.Hash(second)
}

// HashConcat hashes the concatenation of two hashes with double-SHA256,
// the pairing step used by merkle-tree construction.
func HashConcat(a, b types.Hash) types.Hash {
	var buf bytes.Buffer
	buf.Write(a[:])
	buf.Write(b[:])
	return DoubleSHA256(buf.Bytes())
}
