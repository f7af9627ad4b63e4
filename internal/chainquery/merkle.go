package chainquery

import (
	"fmt"

	"github.com/Klingon-tech/klingindex/internal/errkind"
	"github.com/Klingon-tech/klingindex/internal/merkleproof"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// GetMerkleProof builds a transaction's merkle branch within its
// confirming block, per spec.md §4.7: resolve the canonical confirming
// block via TxConfirmingBlock, load its block-txids row, find the
// target's position, and hand off to merkleproof.ProofForTx.
func (q *ChainQuery) GetMerkleProof(txid types.Hash) (merkleproof.TxProof, types.Hash, uint32, error) {
	blockHash, height, found, err := q.TxConfirmingBlock(txid)
	if err != nil {
		return merkleproof.TxProof{}, types.Hash{}, 0, err
	}
	if !found {
		return merkleproof.TxProof{}, types.Hash{}, 0, fmt.Errorf("chainquery: merkle proof for %s: %w", txid, errkind.NotFound)
	}

	txids, err := q.GetBlockTxids(blockHash)
	if err != nil {
		return merkleproof.TxProof{}, types.Hash{}, 0, err
	}
	idx := -1
	for i, id := range txids {
		if id == txid {
			idx = i
			break
		}
	}
	if idx < 0 {
		return merkleproof.TxProof{}, types.Hash{}, 0, fmt.Errorf("%w: txid %s missing from its own confirming block's txids row", errkind.Internal, txid)
	}

	proof, err := merkleproof.ProofForTx(txids, idx)
	if err != nil {
		return merkleproof.TxProof{}, types.Hash{}, 0, fmt.Errorf("chainquery: merkle proof for %s: %w", txid, err)
	}
	return proof, blockHash, height, nil
}

// GetHeaderCheckpointProof builds a merkle proof that the canonical
// header at height is included in the root computed over canonical
// headers 0..=cpHeight, per spec.md §4.7. Requires cpHeight >= height
// and cpHeight <= the current best height.
func (q *ChainQuery) GetHeaderCheckpointProof(height, cpHeight uint32) (merkleproof.CheckpointProof, error) {
	_, bestHeight, ok := q.headers.Tip()
	if !ok || cpHeight > uint32(bestHeight) {
		return merkleproof.CheckpointProof{}, fmt.Errorf("chainquery: checkpoint proof: cp_height %d exceeds best height", cpHeight)
	}

	hashes := make([]types.Hash, cpHeight+1)
	for h := uint32(0); h <= cpHeight; h++ {
		header, ok := q.headers.At(h)
		if !ok {
			return merkleproof.CheckpointProof{}, fmt.Errorf("%w: missing canonical header at height %d", errkind.Internal, h)
		}
		hashes[h] = header.Hash()
	}

	proof, err := merkleproof.ProofForCheckpoint(hashes, height, cpHeight)
	if err != nil {
		return merkleproof.CheckpointProof{}, fmt.Errorf("chainquery: %w", err)
	}
	return proof, nil
}

// GetIDFromPos returns the txid at pos in the block at height, and
// optionally its merkle branch, per spec.md §4.7's get_id_from_pos.
func (q *ChainQuery) GetIDFromPos(height uint32, pos int, wantBranch bool) (types.Hash, merkleproof.Branch, error) {
	header, ok := q.headers.At(height)
	if !ok {
		return types.Hash{}, nil, fmt.Errorf("chainquery: get_id_from_pos: %w", errkind.NotFound)
	}
	txids, err := q.GetBlockTxids(header.Hash())
	if err != nil {
		return types.Hash{}, nil, err
	}
	return merkleproof.GetIDFromPos(txids, pos, wantBranch)
}
