package merkleproof

import (
	"testing"

	"github.com/Klingon-tech/klingindex/internal/chainmodel"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

func leaf(b byte) types.Hash {
	return chainmodel.DoubleSHA256([]byte{b})
}

func TestComputeRoot_Empty(t *testing.T) {
	if !ComputeRoot(nil).IsZero() {
		t.Error("empty input should return zero hash")
	}
}

func TestComputeRoot_Single(t *testing.T) {
	h := leaf(1)
	if got := ComputeRoot([]types.Hash{h}); got != h {
		t.Errorf("single leaf should return itself: got %s, want %s", got, h)
	}
}

func TestComputeRoot_OddLevelDuplicatesLast(t *testing.T) {
	h1, h2, h3 := leaf(1), leaf(2), leaf(3)
	root := ComputeRoot([]types.Hash{h1, h2, h3})

	left := chainmodel.HashConcat(h1, h2)
	right := chainmodel.HashConcat(h3, h3)
	want := chainmodel.HashConcat(left, right)

	if root != want {
		t.Errorf("three leaves: got %s, want %s", root, want)
	}
}

// TestProofForTx_TwoTxBlock mirrors spec.md's worked example: a block of
// two txs {coinbase_C, T} has branch=[C], position=1 for T, and the root
// equals dSHA256(C||T).
func TestProofForTx_TwoTxBlock(t *testing.T) {
	c := leaf(0xC0)
	tx := leaf(0x7A)
	txids := []types.Hash{c, tx}

	proof, err := ProofForTx(txids, 1)
	if err != nil {
		t.Fatalf("ProofForTx() error: %v", err)
	}
	if proof.Position != 1 {
		t.Errorf("position = %d, want 1", proof.Position)
	}
	if len(proof.Branch) != 1 || proof.Branch[0] != c {
		t.Fatalf("branch = %v, want [%s]", proof.Branch, c)
	}

	root := chainmodel.HashConcat(c, tx)
	if !VerifyIndex(tx, proof.Branch, proof.Position, root) {
		t.Error("VerifyIndex() failed to re-derive the root")
	}
}

func TestProofForIndex_RoundTrips(t *testing.T) {
	leaves := make([]types.Hash, 7)
	for i := range leaves {
		leaves[i] = leaf(byte(i))
	}

	for idx := range leaves {
		branch, root, err := ProofForIndex(leaves, idx)
		if err != nil {
			t.Fatalf("ProofForIndex(%d) error: %v", idx, err)
		}
		if !VerifyIndex(leaves[idx], branch, idx, root) {
			t.Errorf("VerifyIndex() failed for leaf %d", idx)
		}
	}
}

func TestProofForIndex_OutOfRange(t *testing.T) {
	leaves := []types.Hash{leaf(1)}
	if _, _, err := ProofForIndex(leaves, 5); err == nil {
		t.Error("expected error for out-of-range index")
	}
}

func TestProofForCheckpoint(t *testing.T) {
	hashes := make([]types.Hash, 10)
	for i := range hashes {
		hashes[i] = leaf(byte(i))
	}

	proof, err := ProofForCheckpoint(hashes, 3, 9)
	if err != nil {
		t.Fatalf("ProofForCheckpoint() error: %v", err)
	}
	if proof.CPHeight != 9 {
		t.Errorf("CPHeight = %d, want 9", proof.CPHeight)
	}
	if !VerifyIndex(hashes[3], proof.Branch, 3, proof.Root) {
		t.Error("VerifyIndex() failed to re-derive the checkpoint root")
	}
}

func TestProofForCheckpoint_RejectsCPBelowTarget(t *testing.T) {
	hashes := make([]types.Hash, 5)
	for i := range hashes {
		hashes[i] = leaf(byte(i))
	}
	if _, err := ProofForCheckpoint(hashes, 4, 2); err == nil {
		t.Error("expected error when cpHeight < height")
	}
}

func TestGetIDFromPos(t *testing.T) {
	txids := []types.Hash{leaf(1), leaf(2), leaf(3)}

	id, branch, err := GetIDFromPos(txids, 1, false)
	if err != nil {
		t.Fatalf("GetIDFromPos() error: %v", err)
	}
	if id != txids[1] {
		t.Errorf("id = %s, want %s", id, txids[1])
	}
	if branch != nil {
		t.Error("expected nil branch when wantBranch is false")
	}

	id, branch, err = GetIDFromPos(txids, 1, true)
	if err != nil {
		t.Fatalf("GetIDFromPos() with branch error: %v", err)
	}
	if id != txids[1] {
		t.Errorf("id = %s, want %s", id, txids[1])
	}
	if branch == nil {
		t.Error("expected a non-nil branch when wantBranch is true")
	}
}
