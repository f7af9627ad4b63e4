package rowkey

import (
	"github.com/Klingon-tech/klingindex/pkg/types"
	"github.com/zeebo/blake3"
)

// ScriptHash computes the 32-byte key used to index a scriptPubKey
// throughout the history/cache stores. This is klingindex's own choice,
// not part of the upstream wire protocol, so it uses BLAKE3 — the hash
// family the rest of the pack's code reaches for whenever a hash isn't
// dictated by an external protocol.
func ScriptHash(scriptPubKey []byte) types.Hash {
	return blake3.Sum256(scriptPubKey)
}

// AddressHash computes the address_search lookup key for a rendered
// address string, so the index never stores rendered addresses
// in plaintext in the cache store.
func AddressHash(addr string) types.Hash {
	return blake3.Sum256([]byte(addr))
}
