package rowkey

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingindex/pkg/types"
)

// FundingOutValue is the value of a Funding-out row (tag O): the
// scriptPubKey and amount of the output being indexed, so a prevout can
// be resolved without re-reading its funding transaction.
type FundingOutValue struct {
	ScriptPubKey []byte
	Amount       int64
}

// Encode serializes a FundingOutValue: amount(8 LE) | script.
func (v FundingOutValue) Encode() []byte {
	buf := make([]byte, 8, 8+len(v.ScriptPubKey))
	binary.LittleEndian.PutUint64(buf, uint64(v.Amount))
	buf = append(buf, v.ScriptPubKey...)
	return buf
}

// DecodeFundingOutValue parses the value written by Encode.
func DecodeFundingOutValue(b []byte) (FundingOutValue, error) {
	if len(b) < 8 {
		return FundingOutValue{}, fmt.Errorf("rowkey: funding-out value too short (%d bytes)", len(b))
	}
	return FundingOutValue{
		Amount:       int64(binary.LittleEndian.Uint64(b[:8])),
		ScriptPubKey: append([]byte(nil), b[8:]...),
	}, nil
}

// FundingHistoryValue is the value of a history row with marker
// MarkerFunding: the amount and output index the script was funded with.
type FundingHistoryValue struct {
	Amount int64
	Vout   uint32
}

func (v FundingHistoryValue) Encode() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(v.Amount))
	binary.LittleEndian.PutUint32(buf[8:12], v.Vout)
	return buf
}

func DecodeFundingHistoryValue(b []byte) (FundingHistoryValue, error) {
	if len(b) != 12 {
		return FundingHistoryValue{}, fmt.Errorf("rowkey: funding history value must be 12 bytes, got %d", len(b))
	}
	return FundingHistoryValue{
		Amount: int64(binary.LittleEndian.Uint64(b[0:8])),
		Vout:   binary.LittleEndian.Uint32(b[8:12]),
	}, nil
}

// SpendingHistoryValue is the value of a history row with marker
// MarkerSpending: which prior output this input consumed.
type SpendingHistoryValue struct {
	Amount   int64
	PrevTxid types.Hash
	PrevVout uint32
	Vin      uint32
}

func (v SpendingHistoryValue) Encode() []byte {
	buf := make([]byte, 0, 8+32+4+4)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Amount))
	buf = append(buf, v.PrevTxid[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, v.PrevVout)
	buf = binary.LittleEndian.AppendUint32(buf, v.Vin)
	return buf
}

func DecodeSpendingHistoryValue(b []byte) (SpendingHistoryValue, error) {
	const wantLen = 8 + 32 + 4 + 4
	if len(b) != wantLen {
		return SpendingHistoryValue{}, fmt.Errorf("rowkey: spending history value must be %d bytes, got %d", wantLen, len(b))
	}
	v := SpendingHistoryValue{
		Amount: int64(binary.LittleEndian.Uint64(b[0:8])),
	}
	copy(v.PrevTxid[:], b[8:40])
	v.PrevVout = binary.LittleEndian.Uint32(b[40:44])
	v.Vin = binary.LittleEndian.Uint32(b[44:48])
	return v, nil
}

// ScriptStats is the cached aggregate for a script, kept up to date
// incrementally as history rows are processed.
type ScriptStats struct {
	TxCount        uint64
	FundedTxoCount uint64
	FundedTxoSum   int64
	SpentTxoCount  uint64
	SpentTxoSum    int64
}

// ScriptStatsCacheValue wraps ScriptStats with the height through which
// the cache row is valid.
type ScriptStatsCacheValue struct {
	Stats       ScriptStats
	LastIndexed uint32
}

func (v ScriptStatsCacheValue) Encode() []byte {
	buf := make([]byte, 0, 4+8*5)
	buf = binary.LittleEndian.AppendUint32(buf, v.LastIndexed)
	buf = binary.LittleEndian.AppendUint64(buf, v.Stats.TxCount)
	buf = binary.LittleEndian.AppendUint64(buf, v.Stats.FundedTxoCount)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Stats.FundedTxoSum))
	buf = binary.LittleEndian.AppendUint64(buf, v.Stats.SpentTxoCount)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Stats.SpentTxoSum))
	return buf
}

func DecodeScriptStatsCacheValue(b []byte) (ScriptStatsCacheValue, error) {
	const wantLen = 4 + 8*5
	if len(b) != wantLen {
		return ScriptStatsCacheValue{}, fmt.Errorf("rowkey: script-stats cache value must be %d bytes, got %d", wantLen, len(b))
	}
	return ScriptStatsCacheValue{
		LastIndexed: binary.LittleEndian.Uint32(b[0:4]),
		Stats: ScriptStats{
			TxCount:        binary.LittleEndian.Uint64(b[4:12]),
			FundedTxoCount: binary.LittleEndian.Uint64(b[12:20]),
			FundedTxoSum:   int64(binary.LittleEndian.Uint64(b[20:28])),
			SpentTxoCount:  binary.LittleEndian.Uint64(b[28:36]),
			SpentTxoSum:    int64(binary.LittleEndian.Uint64(b[36:44])),
		},
	}, nil
}

// UTXOCacheEntry is one unspent outpoint tracked in a Script-UTXO cache
// row's map.
type UTXOCacheEntry struct {
	BlockHeight uint32
	Amount      int64
}

// ScriptUTXOCacheValue wraps the set of unspent outpoints owned by a
// script with the height through which the cache row is valid.
type ScriptUTXOCacheValue struct {
	UTXOs       map[types.Outpoint]UTXOCacheEntry
	LastIndexed uint32
}

// Encode serializes a ScriptUTXOCacheValue:
// last(4 LE) | count(4 LE) | [txid(32) | vout(4 LE) | height(4 LE) | amount(8 LE)]...
func (v ScriptUTXOCacheValue) Encode() []byte {
	buf := make([]byte, 0, 8+len(v.UTXOs)*48)
	buf = binary.LittleEndian.AppendUint32(buf, v.LastIndexed)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.UTXOs)))
	for op, entry := range v.UTXOs {
		buf = append(buf, op.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, op.Index)
		buf = binary.LittleEndian.AppendUint32(buf, entry.BlockHeight)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(entry.Amount))
	}
	return buf
}

func DecodeScriptUTXOCacheValue(b []byte) (ScriptUTXOCacheValue, error) {
	if len(b) < 8 {
		return ScriptUTXOCacheValue{}, fmt.Errorf("rowkey: utxo cache value too short (%d bytes)", len(b))
	}
	last := binary.LittleEndian.Uint32(b[0:4])
	count := binary.LittleEndian.Uint32(b[4:8])
	utxos := make(map[types.Outpoint]UTXOCacheEntry, count)
	pos := 8
	const entrySize = 32 + 4 + 4 + 8
	for i := uint32(0); i < count; i++ {
		if pos+entrySize > len(b) {
			return ScriptUTXOCacheValue{}, fmt.Errorf("rowkey: utxo cache value truncated at entry %d", i)
		}
		var op types.Outpoint
		copy(op.TxID[:], b[pos:pos+32])
		op.Index = binary.LittleEndian.Uint32(b[pos+32 : pos+36])
		entry := UTXOCacheEntry{
			BlockHeight: binary.LittleEndian.Uint32(b[pos+36 : pos+40]),
			Amount:      int64(binary.LittleEndian.Uint64(b[pos+40 : pos+48])),
		}
		utxos[op] = entry
		pos += entrySize
	}
	return ScriptUTXOCacheValue{UTXOs: utxos, LastIndexed: last}, nil
}
