// Package address renders scriptPubKeys as human-readable bech32
// addresses and parses them back, for the address_search index: an
// optional secondary index letting the REST API resolve
// /address/<addr>/utxo without the caller pre-hashing the script.
//
// Only witness-v0 outputs (P2WPKH, P2WSH) and bare pay-to-pubkey are
// recognized; legacy base58check addresses are out of scope since the
// chain this indexer serves, like its teacher, never minted them.
package address

import (
	"fmt"

	"github.com/Klingon-tech/klingindex/pkg/crypto"
)

// ScriptType identifies a recognized scriptPubKey shape.
type ScriptType int

const (
	Unknown ScriptType = iota
	P2WPKH
	P2WSH
	P2PK
)

const witnessVersion0 = 0

// Classify inspects a scriptPubKey and, if recognized, returns its type
// and the address payload (the witness program, or for P2PK a
// blake3-derived 20-byte key hash).
func Classify(script []byte) (ScriptType, []byte) {
	switch {
	case len(script) == 22 && script[0] == 0x00 && script[1] == 0x14:
		return P2WPKH, append([]byte(nil), script[2:]...)
	case len(script) == 34 && script[0] == 0x00 && script[1] == 0x20:
		return P2WSH, append([]byte(nil), script[2:]...)
	case len(script) == 35 && script[0] == 0x21 && script[34] == 0xac:
		return p2pkPayload(script[1:34])
	case len(script) == 67 && script[0] == 0x41 && script[66] == 0xac:
		return p2pkPayload(script[1:66])
	default:
		return Unknown, nil
	}
}

func p2pkPayload(pubKey []byte) (ScriptType, []byte) {
	compressed, err := crypto.ParseCompressedPubKey(pubKey)
	if err != nil {
		return Unknown, nil
	}
	h := crypto.Hash(compressed)
	return P2PK, h[:20]
}

// ScriptToAddress renders a scriptPubKey as a bech32 address under hrp,
// or reports ok=false for an unrecognized script shape.
func ScriptToAddress(script []byte, hrp string) (addr string, ok bool) {
	typ, payload := Classify(script)
	if typ == Unknown {
		return "", false
	}
	encoded, err := encodeWitness(hrp, witnessVersion0, payload)
	if err != nil {
		return "", false
	}
	return encoded, true
}

// ParseAddress decodes a bech32 address under hrp into its raw payload
// (a 20-byte key/script hash for P2WPKH/P2PK, 32 bytes for P2WSH).
func ParseAddress(s, hrp string) ([]byte, error) {
	gotHRP, data, err := bech32Decode(s)
	if err != nil {
		return nil, fmt.Errorf("address: %w", err)
	}
	if gotHRP != hrp {
		return nil, fmt.Errorf("address: HRP %q does not match network HRP %q", gotHRP, hrp)
	}
	if len(data) < 1 {
		return nil, fmt.Errorf("address: empty payload")
	}
	version := data[0]
	if version != witnessVersion0 {
		return nil, fmt.Errorf("address: unsupported witness version %d", version)
	}
	program, err := convertBits(data[1:], 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("address: decode program: %w", err)
	}
	if len(program) != 20 && len(program) != 32 {
		return nil, fmt.Errorf("address: program length %d invalid for witness v0", len(program))
	}
	return program, nil
}

func encodeWitness(hrp string, version byte, program []byte) (string, error) {
	conv, err := convertBits(program, 8, 5, true)
	if err != nil {
		return "", err
	}
	data := append([]byte{version}, conv...)
	return bech32Encode(hrp, data)
}
