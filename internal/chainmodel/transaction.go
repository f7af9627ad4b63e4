package chainmodel

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingindex/pkg/types"
)

const (
	segwitMarker = 0x00
	segwitFlag   = 0x01
)

// Transaction is a Bitcoin-style transaction: prevout references, scripts,
// and (optionally) segregated witness data.
type Transaction struct {
	Version  int32
	Inputs   []TxInput
	Outputs  []TxOutput
	LockTime uint32
}

// TxInput spends a previous output.
type TxInput struct {
	PrevOut  types.Outpoint
	Script   []byte   // scriptSig, opaque
	Sequence uint32
	Witness  [][]byte // empty for non-segwit inputs
}

// TxOutput creates a new spendable output.
type TxOutput struct {
	Value  int64
	Script []byte // scriptPubKey, opaque
}

// IsCoinbase reports whether this is the chain's one coinbase input per
// block: a single input with a null prevout.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].PrevOut.TxID.IsZero() && tx.Inputs[0].PrevOut.Index == 0xffffffff
}

// HasWitness reports whether any input carries witness data.
func (tx *Transaction) HasWitness() bool {
	for _, in := range tx.Inputs {
		if len(in.Witness) > 0 {
			return true
		}
	}
	return false
}

// Txid computes the legacy (witness-stripped) transaction id, the
// identifier used throughout the row schema and upstream RPC.
func (tx *Transaction) Txid() types.Hash {
	return DoubleSHA256(tx.serialize(false))
}

// Wtxid computes the witness transaction id (includes witness data).
// Equal to Txid() when the transaction carries no witness data.
func (tx *Transaction) Wtxid() types.Hash {
	return DoubleSHA256(tx.serialize(true))
}

// Bytes returns the full wire serialization, including witness data when
// present — the form persisted in Transaction rows and returned by
// get_block_raw / lookup_raw_tx.
func (tx *Transaction) Bytes() []byte {
	return tx.serialize(true)
}

func (tx *Transaction) serialize(withWitness bool) []byte {
	useWitness := withWitness && tx.HasWitness()

	buf := make([]byte, 0, 256)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(tx.Version))

	if useWitness {
		buf = append(buf, segwitMarker, segwitFlag)
	}

	buf = writeVarInt(buf, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
		buf = writeVarInt(buf, uint64(len(in.Script)))
		buf = append(buf, in.Script...)
		buf = binary.LittleEndian.AppendUint32(buf, in.Sequence)
	}

	buf = writeVarInt(buf, uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(out.Value))
		buf = writeVarInt(buf, uint64(len(out.Script)))
		buf = append(buf, out.Script...)
	}

	if useWitness {
		for _, in := range tx.Inputs {
			buf = writeVarInt(buf, uint64(len(in.Witness)))
			for _, item := range in.Witness {
				buf = writeVarInt(buf, uint64(len(item)))
				buf = append(buf, item...)
			}
		}
	}

	buf = binary.LittleEndian.AppendUint32(buf, tx.LockTime)
	return buf
}

// Weight returns the transaction weight per BIP141: (3 * legacy_size) +
// total_size, where total_size includes witness data.
func (tx *Transaction) Weight() int {
	legacy := len(tx.serialize(false))
	if !tx.HasWitness() {
		return legacy * 4
	}
	total := len(tx.serialize(true))
	return legacy*3 + total
}

// VSize returns the virtual size: ceil(weight / 4).
func (tx *Transaction) VSize() int {
	w := tx.Weight()
	return (w + 3) / 4
}

// ParseTransaction decodes a wire-format transaction, auto-detecting the
// segwit marker/flag pair. The input must contain exactly one transaction.
func ParseTransaction(b []byte) (*Transaction, error) {
	tx, n, err := parseTransactionPrefix(b)
	if err != nil {
		return nil, fmt.Errorf("chainmodel: %w", err)
	}
	if n != len(b) {
		return nil, fmt.Errorf("chainmodel: %d trailing bytes after transaction", len(b)-n)
	}
	return tx, nil
}
