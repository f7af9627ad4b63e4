package chainquery

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingindex/internal/chainmodel"
	"github.com/Klingon-tech/klingindex/internal/errkind"
	"github.com/Klingon-tech/klingindex/internal/rowkey"
	"github.com/Klingon-tech/klingindex/internal/store"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// errTooPopularHistory aborts an in-progress history scan once the count
// of entries past lastSeen would exceed the caller's cap; it never
// escapes this file.
var errTooPopularHistory = errors.New("chainquery: too popular")

// HistoryEntry pairs a confirmed transaction with the canonical block
// that confirms it.
type HistoryEntry struct {
	Txid      types.Hash
	Height    uint32
	BlockHash types.Hash
}

// HistoryTx is a HistoryEntry with its transaction dereferenced.
type HistoryTx struct {
	HistoryEntry
	Tx *chainmodel.Transaction
}

// HistoryTxids implements spec.md §4.4's history_txids: a forward prefix
// scan over H|script_hash| grouping consecutive history rows that share a
// (height, txid) pair, filtered to only those still confirmed on the
// canonical chain (tx_confirming_block's own filter, inlined here so a
// reorg-orphaned script-history row never surfaces). lastSeen, when
// non-nil, resumes strictly after that txid's position in the ordered
// result; the txs_limit cap (q.cfg.TxsLimit, used when limit <= 0) bounds
// how many entries may be returned in one call.
func (q *ChainQuery) HistoryTxids(scriptHash types.Hash, lastSeen *types.Hash, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = q.cfg.TxsLimit
	}

	entries, err := q.collectCanonicalHistory(scriptHash, lastSeen, limit)
	if err != nil {
		if errors.Is(err, errTooPopularHistory) {
			return nil, fmt.Errorf("chainquery: history_txids for script: %w", errkind.TooPopular)
		}
		return nil, err
	}
	return entries, nil
}

// History is HistoryTxids with each entry's transaction dereferenced.
func (q *ChainQuery) History(scriptHash types.Hash, lastSeen *types.Hash, limit int) ([]HistoryTx, error) {
	entries, err := q.HistoryTxids(scriptHash, lastSeen, limit)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryTx, len(entries))
	for i, e := range entries {
		tx, err := q.LookupTx(e.Txid)
		if err != nil {
			return nil, err
		}
		out[i] = HistoryTx{HistoryEntry: e, Tx: tx}
	}
	return out, nil
}

// collectCanonicalHistory scans every history row for scriptHash in key
// order (so already grouped by ascending height, then txid), collapsing
// consecutive rows that share a (height, txid) into one HistoryEntry, and
// dropping entries whose height's canonical block doesn't actually
// confirm that txid — the branch the reorg left behind.
//
// Only entries strictly after lastSeen's canonical position are retained
// (lastSeen nil retains everything from genesis; a lastSeen that never
// turns up among the canonical entries yields none, since the cursor no
// longer resolves against the current chain). limit, when positive,
// bounds how many such entries may accumulate: the moment a caller who
// has already resumed past lastSeen would receive more than limit
// entries, the scan aborts via errTooPopularHistory instead of
// materializing the rest of a possibly very long history, mirroring
// cache.go's UTXO() early-exit.
func (q *ChainQuery) collectCanonicalHistory(scriptHash types.Hash, lastSeen *types.Hash, limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	var curHeight uint32
	var curTxid types.Hash
	haveCur := false
	counting := lastSeen == nil

	err := q.store.Scan(store.History, rowkey.HistoryScriptPrefix(scriptHash), func(key, _ []byte) error {
		_, height, txid, _, _, err := rowkey.ParseHistoryKey(key)
		if err != nil {
			return fmt.Errorf("chainquery: parse history key: %w", err)
		}
		if haveCur && height == curHeight && txid == curTxid {
			return nil
		}
		haveCur = true
		curHeight, curTxid = height, txid

		canonical, ok := q.headers.At(height)
		if !ok {
			return nil
		}
		blockHash := canonical.Hash()
		if _, err := q.store.Get(store.TxStore, rowkey.TxConfKey(txid, blockHash)); err == store.ErrNotFound {
			return nil
		} else if err != nil {
			return fmt.Errorf("chainquery: check tx confirmation: %w", err)
		}

		if !counting {
			if txid == *lastSeen {
				counting = true
			}
			return nil
		}

		entries = append(entries, HistoryEntry{Txid: txid, Height: height, BlockHash: blockHash})
		if limit > 0 && len(entries) > limit {
			return errTooPopularHistory
		}
		return nil
	})
	if errors.Is(err, errTooPopularHistory) {
		return nil, errTooPopularHistory
	}
	if err != nil {
		return nil, fmt.Errorf("chainquery: scan history for script: %w", err)
	}
	return entries, nil
}
