package chainquery

import (
	"fmt"

	"github.com/Klingon-tech/klingindex/internal/errkind"
	"github.com/Klingon-tech/klingindex/internal/rowkey"
	"github.com/Klingon-tech/klingindex/internal/store"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// TxConfirmingBlock scans every TxConf row for txid — one per block that
// has ever contained it, across forks — and returns the unique one still
// on the canonical chain. A tx orphaned by a reorg keeps its stale TxConf
// rows (spec.md §3 invariant 1); this is exactly what filters them back
// out without needing to delete anything.
func (q *ChainQuery) TxConfirmingBlock(txid types.Hash) (hash types.Hash, height uint32, found bool, err error) {
	var candidates []types.Hash
	prefix := rowkey.TxConfPrefix(txid)
	scanErr := q.store.Scan(store.TxStore, prefix, func(key, _ []byte) error {
		if len(key) != len(prefix)+32 {
			return fmt.Errorf("chainquery: malformed TxConf key (len=%d)", len(key))
		}
		var blockHash types.Hash
		copy(blockHash[:], key[len(prefix):])
		candidates = append(candidates, blockHash)
		return nil
	})
	if scanErr != nil {
		return types.Hash{}, 0, false, fmt.Errorf("chainquery: scan TxConf rows for %s: %w", txid, scanErr)
	}

	for _, candidate := range candidates {
		if h, ok := q.headers.HeightOf(candidate); ok {
			return candidate, h, true, nil
		}
	}
	return types.Hash{}, 0, false, nil
}

// ErrNoConfirmation reports that a transaction row exists but no block on
// the canonical chain currently confirms it — a fully-reorged-out tx.
var ErrNoConfirmation = fmt.Errorf("chainquery: no canonical confirming block: %w", errkind.NotFound)
