// Package merkleproof builds and verifies merkle branches over both
// transaction hashes within a block and canonical header hashes up to a
// checkpoint. Unlike internal/rowkey's script hashing, every hash pairing
// here is double-SHA256 — the upstream protocol's own merkle tree
// construction, not a choice klingindex gets to make.
package merkleproof

import (
	"fmt"

	"github.com/Klingon-tech/klingindex/internal/chainmodel"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// ComputeRoot hashes a list of leaves into a single merkle root.
//
//   - 0 leaves: zero hash
//   - 1 leaf: that leaf
//   - otherwise: pairwise hash, duplicating the last element of an odd
//     level, repeating until one hash remains
func ComputeRoot(leaves []types.Hash) types.Hash {
	if len(leaves) == 0 {
		return types.Hash{}
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := make([]types.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = chainmodel.HashConcat(level[i], level[i+1])
		}
		level = next
	}
	return level[0]
}

// Branch is an ordered list of sibling hashes from leaf to root.
type Branch []types.Hash

// ProofForIndex builds the merkle branch and returns the root for the leaf
// at position idx among leaves. Used both for a tx's position within a
// block's txids and for a height's position within the checkpointed
// header-hash list — the pairing algorithm is identical either way.
func ProofForIndex(leaves []types.Hash, idx int) (Branch, types.Hash, error) {
	if idx < 0 || idx >= len(leaves) {
		return nil, types.Hash{}, fmt.Errorf("merkleproof: index %d out of range for %d leaves", idx, len(leaves))
	}

	level := make([]types.Hash, len(leaves))
	copy(level, leaves)
	pos := idx

	var branch Branch
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		sibling := pos ^ 1
		branch = append(branch, level[sibling])

		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = chainmodel.HashConcat(level[i], level[i+1])
		}
		level = next
		pos /= 2
	}
	return branch, level[0], nil
}

// VerifyIndex recomputes the root from leaf, branch, and the leaf's
// original position, and reports whether it matches root.
func VerifyIndex(leaf types.Hash, branch Branch, pos int, root types.Hash) bool {
	cur := leaf
	for _, sibling := range branch {
		if pos%2 == 0 {
			cur = chainmodel.HashConcat(cur, sibling)
		} else {
			cur = chainmodel.HashConcat(sibling, cur)
		}
		pos /= 2
	}
	return cur == root
}

// TxProof is the merkle branch for one transaction within its block's
// txids list, plus the transaction's position (0 = coinbase).
type TxProof struct {
	Branch   Branch
	Position int
}

// ProofForTx builds the branch for the transaction at position idx among
// a block's txids, per spec.md §4.7: load the block-txids row, find the
// target's position, pair neighbors (duplicating the last on odd levels),
// hash pairs with double-SHA256.
func ProofForTx(txids []types.Hash, idx int) (TxProof, error) {
	branch, _, err := ProofForIndex(txids, idx)
	if err != nil {
		return TxProof{}, fmt.Errorf("merkleproof: tx proof: %w", err)
	}
	return TxProof{Branch: branch, Position: idx}, nil
}

// CheckpointProof is the merkle branch proving a header hash at a given
// height is included in the root computed over hashes 0..=cpHeight.
type CheckpointProof struct {
	Branch   Branch
	Root     types.Hash
	CPHeight uint32
}

// ProofForCheckpoint builds a header merkle proof for height, keyed on
// the canonical hashes for 0..=cpHeight. Callers must ensure
// cpHeight >= height and cpHeight <= the current best height.
func ProofForCheckpoint(hashes []types.Hash, height, cpHeight uint32) (CheckpointProof, error) {
	if cpHeight < height {
		return CheckpointProof{}, fmt.Errorf("merkleproof: checkpoint height %d below target height %d", cpHeight, height)
	}
	if int(cpHeight)+1 != len(hashes) {
		return CheckpointProof{}, fmt.Errorf("merkleproof: expected %d canonical hashes for checkpoint %d, got %d", cpHeight+1, cpHeight, len(hashes))
	}

	branch, root, err := ProofForIndex(hashes, int(height))
	if err != nil {
		return CheckpointProof{}, fmt.Errorf("merkleproof: checkpoint proof: %w", err)
	}
	return CheckpointProof{Branch: branch, Root: root, CPHeight: cpHeight}, nil
}

// GetIDFromPos returns the txid at pos among txids, and optionally its
// merkle branch against the block's txid root when wantBranch is true.
func GetIDFromPos(txids []types.Hash, pos int, wantBranch bool) (types.Hash, Branch, error) {
	if pos < 0 || pos >= len(txids) {
		return types.Hash{}, nil, fmt.Errorf("merkleproof: position %d out of range for %d txids", pos, len(txids))
	}
	if !wantBranch {
		return txids[pos], nil, nil
	}
	branch, _, err := ProofForIndex(txids, pos)
	if err != nil {
		return types.Hash{}, nil, err
	}
	return txids[pos], branch, nil
}
