package crypto

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ParseCompressedPubKey validates a compressed or uncompressed secp256k1
// public key and returns its canonical 33-byte compressed form. Used by
// pkg/address to recognize pay-to-pubkey scripts and fold them into the
// same address-search index entry as the equivalent pay-to-pubkey-hash.
func ParseCompressedPubKey(b []byte) ([]byte, error) {
	key, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse public key: %w", err)
	}
	return key.SerializeCompressed(), nil
}
