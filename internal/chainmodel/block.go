package chainmodel

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingindex/pkg/types"
)

// Block is a full decoded block: header plus ordered transactions.
type Block struct {
	Header Header
	Txs    []*Transaction
}

// BlockMeta is the value of a Block row (tag B): header plus the
// aggregate metadata a client needs without re-reading every transaction.
type BlockMeta struct {
	Header  Header
	TxCount uint32
	Size    uint32
	Weight  uint32
}

// Encode serializes a BlockMeta: header(80) | tx_count(4 LE) | size(4 LE) | weight(4 LE).
func (m BlockMeta) Encode() []byte {
	buf := make([]byte, 0, HeaderSize+12)
	buf = append(buf, m.Header.Bytes()...)
	buf = binary.LittleEndian.AppendUint32(buf, m.TxCount)
	buf = binary.LittleEndian.AppendUint32(buf, m.Size)
	buf = binary.LittleEndian.AppendUint32(buf, m.Weight)
	return buf
}

// DecodeBlockMeta parses the value written by Encode.
func DecodeBlockMeta(b []byte) (BlockMeta, error) {
	if len(b) != HeaderSize+12 {
		return BlockMeta{}, fmt.Errorf("chainmodel: block meta must be %d bytes, got %d", HeaderSize+12, len(b))
	}
	header, err := ParseHeader(b[:HeaderSize])
	if err != nil {
		return BlockMeta{}, err
	}
	rest := b[HeaderSize:]
	return BlockMeta{
		Header:  header,
		TxCount: binary.LittleEndian.Uint32(rest[0:4]),
		Size:    binary.LittleEndian.Uint32(rest[4:8]),
		Weight:  binary.LittleEndian.Uint32(rest[8:12]),
	}, nil
}

// Hash returns the block's double-SHA256 identity, same as Header.Hash.
func (b *Block) Hash() types.Hash {
	return b.Header.Hash()
}

// Txids returns the ordered list of transaction ids, the value stored in
// a Block-txids row (tag X).
func (b *Block) Txids() []types.Hash {
	ids := make([]types.Hash, len(b.Txs))
	for i, tx := range b.Txs {
		ids[i] = tx.Txid()
	}
	return ids
}

// EncodeTxids serializes an ordered txid list for a Block-txids row:
// count(4 LE) | txid(32)...
func EncodeTxids(txids []types.Hash) []byte {
	buf := make([]byte, 4, 4+len(txids)*32)
	binary.LittleEndian.PutUint32(buf, uint32(len(txids)))
	for _, id := range txids {
		buf = append(buf, id[:]...)
	}
	return buf
}

// DecodeTxids parses the value written by EncodeTxids.
func DecodeTxids(b []byte) ([]types.Hash, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("chainmodel: txids value too short (%d bytes)", len(b))
	}
	count := binary.LittleEndian.Uint32(b[0:4])
	if len(b) != 4+int(count)*32 {
		return nil, fmt.Errorf("chainmodel: txids value length mismatch for count %d", count)
	}
	ids := make([]types.Hash, count)
	for i := range ids {
		copy(ids[i][:], b[4+i*32:4+i*32+32])
	}
	return ids, nil
}

// Meta summarizes the block for the Block row.
func (b *Block) Meta() BlockMeta {
	var size, weight int
	for _, tx := range b.Txs {
		size += len(tx.Bytes())
		weight += tx.Weight()
	}
	return BlockMeta{
		Header:  b.Header,
		TxCount: uint32(len(b.Txs)),
		Size:    uint32(HeaderSize + size),
		Weight:  uint32(HeaderSize*4 + weight),
	}
}

// ParseBlock decodes a full wire-format block: header followed by a
// varint transaction count and the transactions themselves.
func ParseBlock(b []byte) (*Block, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("chainmodel: block shorter than header (%d bytes)", len(b))
	}
	header, err := ParseHeader(b[:HeaderSize])
	if err != nil {
		return nil, err
	}

	r := newReader(b[HeaderSize:])
	txCount, err := r.readVarInt()
	if err != nil {
		return nil, fmt.Errorf("chainmodel: tx count: %w", err)
	}

	txs := make([]*Transaction, 0, txCount)
	for i := uint64(0); i < txCount; i++ {
		tx, n, err := parseTransactionPrefix(r.b[r.pos:])
		if err != nil {
			return nil, fmt.Errorf("chainmodel: tx %d: %w", i, err)
		}
		txs = append(txs, tx)
		r.pos += n
	}

	return &Block{Header: header, Txs: txs}, nil
}

// Bytes re-serializes the block to its wire form.
func (b *Block) Bytes() []byte {
	buf := make([]byte, 0, HeaderSize+len(b.Txs)*256)
	buf = append(buf, b.Header.Bytes()...)
	buf = writeVarInt(buf, uint64(len(b.Txs)))
	for _, tx := range b.Txs {
		buf = append(buf, tx.Bytes()...)
	}
	return buf
}

// ReconstructRaw rebuilds the raw block bytes from a header and its
// already-deserialized transaction rows, without needing the original
// block bytes on hand. Used by ChainQuery.get_block_raw in light mode,
// where the txstore keeps transaction rows but not whole-block rows.
func ReconstructRaw(header Header, txs []*Transaction) []byte {
	blk := &Block{Header: header, Txs: txs}
	return blk.Bytes()
}

// parseTransactionPrefix parses one transaction starting at offset 0 of
// buf and reports how many bytes it consumed, since ParseTransaction
// itself requires the slice to contain exactly one transaction.
func parseTransactionPrefix(buf []byte) (*Transaction, int, error) {
	r := newReader(buf)
	tx := &Transaction{}

	version, err := r.readInt32()
	if err != nil {
		return nil, 0, err
	}
	tx.Version = version

	witnessPresent := false
	inputCount, err := r.readVarInt()
	if err != nil {
		return nil, 0, err
	}
	if inputCount == segwitMarker {
		flag, err := r.readByte()
		if err != nil {
			return nil, 0, err
		}
		if flag != segwitFlag {
			return nil, 0, fmt.Errorf("unsupported segwit flag %#x", flag)
		}
		witnessPresent = true
		inputCount, err = r.readVarInt()
		if err != nil {
			return nil, 0, err
		}
	}

	tx.Inputs = make([]TxInput, inputCount)
	for i := range tx.Inputs {
		var txid types.Hash
		raw, err := r.readBytes(32)
		if err != nil {
			return nil, 0, err
		}
		copy(txid[:], raw)
		index, err := r.readUint32()
		if err != nil {
			return nil, 0, err
		}
		script, err := r.readVarBytes()
		if err != nil {
			return nil, 0, err
		}
		sequence, err := r.readUint32()
		if err != nil {
			return nil, 0, err
		}
		tx.Inputs[i] = TxInput{
			PrevOut:  types.Outpoint{TxID: txid, Index: index},
			Script:   append([]byte(nil), script...),
			Sequence: sequence,
		}
	}

	outputCount, err := r.readVarInt()
	if err != nil {
		return nil, 0, err
	}
	tx.Outputs = make([]TxOutput, outputCount)
	for i := range tx.Outputs {
		value, err := r.readUint64()
		if err != nil {
			return nil, 0, err
		}
		script, err := r.readVarBytes()
		if err != nil {
			return nil, 0, err
		}
		tx.Outputs[i] = TxOutput{Value: int64(value), Script: append([]byte(nil), script...)}
	}

	if witnessPresent {
		for i := range tx.Inputs {
			itemCount, err := r.readVarInt()
			if err != nil {
				return nil, 0, err
			}
			items := make([][]byte, itemCount)
			for j := range items {
				item, err := r.readVarBytes()
				if err != nil {
					return nil, 0, err
				}
				items[j] = append([]byte(nil), item...)
			}
			tx.Inputs[i].Witness = items
		}
	}

	lockTime, err := r.readUint32()
	if err != nil {
		return nil, 0, err
	}
	tx.LockTime = lockTime

	return tx, r.pos, nil
}
