// Package rowkey builds and parses the tagged byte-string keys used across
// klingindex's three logical stores, generalizing the key-builder style of
// a validating node's block store (prefix byte + fixed-width fields, with
// big-endian integers wherever lexicographic order must match numeric
// order) to the indexer's own row schema.
package rowkey

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingindex/pkg/types"
)

// Tags for txstore rows.
const (
	TagBlock      = 'B' // B|hash -> BlockMeta
	TagBlockTxids = 'X' // X|hash -> ordered txids
	TagTx         = 'T' // T|txid -> serialized transaction
	TagTxConf     = 'C' // C|txid|blockhash -> empty
	TagFundingOut = 'O' // O|txid|vout -> serialized output
	TagIndexed    = 'I' // I|hash -> empty, set once phase B has run for the block
)

// Un-prefixed single-byte state keys in txstore.
var (
	KeyTip             = []byte{'t'}
	KeyInitialSync     = []byte{'n'}
	KeySchemaVersion   = []byte{'V'}
	KeyReorgCheckpoint = []byte{'r'}
)

// Tags for history-store rows.
const (
	TagHistory = 'H' // H|scripthash|height(4BE)|txid|marker|index
)

// Tags for cache-store rows.
const (
	TagScriptStats = 'A' // A|scripthash -> (ScriptStats, last)
	TagScriptUTXO  = 'U' // U|scripthash -> (utxo map, last)
	TagAddress     = 'D' // D|address-hash -> scripthash, the address_search index
)

// HistoryMarker distinguishes a funding entry from a spending entry
// within a script-history row, so the two sort predictably at a given
// (script, height, txid).
type HistoryMarker byte

const (
	MarkerFunding  HistoryMarker = 0
	MarkerSpending HistoryMarker = 1
)

// BlockKey builds a Block row key: B|hash.
func BlockKey(hash types.Hash) []byte {
	return tagged(TagBlock, hash[:])
}

// BlockTxidsKey builds a Block-txids row key: X|hash.
func BlockTxidsKey(hash types.Hash) []byte {
	return tagged(TagBlockTxids, hash[:])
}

// TxKey builds a Transaction row key: T|txid.
func TxKey(txid types.Hash) []byte {
	return tagged(TagTx, txid[:])
}

// TxConfKey builds a TxConf row key: C|txid|blockhash.
func TxConfKey(txid, blockHash types.Hash) []byte {
	key := tagged(TagTxConf, txid[:])
	return append(key, blockHash[:]...)
}

// TxConfPrefix builds the scan prefix for all TxConf rows of a txid,
// C|txid, used by tx_confirming_block to enumerate every block (across
// forks) that once contained the transaction.
func TxConfPrefix(txid types.Hash) []byte {
	return tagged(TagTxConf, txid[:])
}

// IndexedKey builds the per-block Indexed-marker row key: I|hash. Its
// presence is the "phase B has run for this block" state spec.md §4.3's
// Added/Indexed/Tipped state machine relies on.
func IndexedKey(hash types.Hash) []byte {
	return tagged(TagIndexed, hash[:])
}

// FundingOutKey builds a Funding-out row key: O|txid|vout(4BE).
func FundingOutKey(txid types.Hash, vout uint32) []byte {
	key := tagged(TagFundingOut, txid[:])
	return binary.BigEndian.AppendUint32(key, vout)
}

// HistoryKey builds a Script-history row key:
// H|script-hash(32)|height(4BE)|txid(32)|marker(1)|index(4BE).
//
// index disambiguates multiple history rows for the same (script, height,
// txid, marker) — e.g. a transaction with two outputs to the same script.
func HistoryKey(scriptHash types.Hash, height uint32, txid types.Hash, marker HistoryMarker, index uint32) []byte {
	key := make([]byte, 0, 1+32+4+32+1+4)
	key = append(key, TagHistory)
	key = append(key, scriptHash[:]...)
	key = binary.BigEndian.AppendUint32(key, height)
	key = append(key, txid[:]...)
	key = append(key, byte(marker))
	key = binary.BigEndian.AppendUint32(key, index)
	return key
}

// HistoryScriptPrefix builds the scan prefix for every history row of a
// script: H|script-hash.
func HistoryScriptPrefix(scriptHash types.Hash) []byte {
	return tagged(TagHistory, scriptHash[:])
}

// HistoryHeightPrefix builds the scan-resume prefix H|script-hash|height,
// used when paginating forward from a known height boundary.
func HistoryHeightPrefix(scriptHash types.Hash, height uint32) []byte {
	key := tagged(TagHistory, scriptHash[:])
	return binary.BigEndian.AppendUint32(key, height)
}

// ParseHistoryKey decomposes a Script-history row key.
func ParseHistoryKey(key []byte) (scriptHash types.Hash, height uint32, txid types.Hash, marker HistoryMarker, index uint32, err error) {
	const wantLen = 1 + 32 + 4 + 32 + 1 + 4
	if len(key) != wantLen || key[0] != TagHistory {
		err = fmt.Errorf("rowkey: malformed history key (len=%d)", len(key))
		return
	}
	copy(scriptHash[:], key[1:33])
	height = binary.BigEndian.Uint32(key[33:37])
	copy(txid[:], key[37:69])
	marker = HistoryMarker(key[69])
	index = binary.BigEndian.Uint32(key[70:74])
	return
}

// ScriptStatsKey builds a Script-stats cache row key: A|script-hash.
func ScriptStatsKey(scriptHash types.Hash) []byte {
	return tagged(TagScriptStats, scriptHash[:])
}

// ScriptUTXOKey builds a Script-UTXO cache row key: U|script-hash.
func ScriptUTXOKey(scriptHash types.Hash) []byte {
	return tagged(TagScriptUTXO, scriptHash[:])
}

// AddressKey builds an address_search row key: D|address-hash ->
// scripthash, resolving a rendered address straight to the scripthash
// its scriptPubKey would hash to, without the caller reconstructing or
// pre-hashing the script itself.
func AddressKey(addrHash types.Hash) []byte {
	return tagged(TagAddress, addrHash[:])
}

func tagged(tag byte, fields ...[]byte) []byte {
	n := 1
	for _, f := range fields {
		n += len(f)
	}
	key := make([]byte, 0, n)
	key = append(key, tag)
	for _, f := range fields {
		key = append(key, f...)
	}
	return key
}
