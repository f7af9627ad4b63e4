package chainquery

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingindex/internal/errkind"
	"github.com/Klingon-tech/klingindex/internal/rowkey"
	"github.com/Klingon-tech/klingindex/internal/store"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// errTooPopularScan aborts an in-progress Scan callback once a live
// accumulator would exceed its cap; it never escapes this file.
var errTooPopularScan = errors.New("chainquery: too popular")

// UTXO returns the current unspent outpoints owned by scriptHash, per
// spec.md §4.4's cache-deltify algorithm: load the cached utxo-set row if
// it's not stale (cache.last <= current tip), scan forward from
// last+1 applying Funding/Spending history rows, then write back an
// updated cache row once the number of newly-processed rows exceeds
// cfg.MinToCache. limit bounds the live UTXO count at any point during
// the scan; exceeding it aborts with errkind.TooPopular before the whole
// set is materialized.
func (q *ChainQuery) UTXO(scriptHash types.Hash, limit int) (map[types.Outpoint]rowkey.UTXOCacheEntry, error) {
	tipHeight := q.headers.TipHeight()
	if tipHeight < 0 {
		return map[types.Outpoint]rowkey.UTXOCacheEntry{}, nil
	}

	utxos := map[types.Outpoint]rowkey.UTXOCacheEntry{}
	startHeight := uint32(0)

	cacheRaw, err := q.store.Get(store.Cache, rowkey.ScriptUTXOKey(scriptHash))
	switch {
	case err == nil:
		cached, decErr := rowkey.DecodeScriptUTXOCacheValue(cacheRaw)
		if decErr != nil {
			return nil, fmt.Errorf("chainquery: decode utxo cache for script: %w", decErr)
		}
		if cached.LastIndexed <= uint32(tipHeight) {
			for op, entry := range cached.UTXOs {
				utxos[op] = entry
			}
			startHeight = cached.LastIndexed + 1
		}
		// else: cached.LastIndexed > tipHeight, a stale row from before a
		// reorg rolled the tip back — discard and recompute from genesis.
	case err == store.ErrNotFound:
		// no cache yet, recompute from genesis.
	default:
		return nil, fmt.Errorf("chainquery: get utxo cache for script: %w", err)
	}

	processed := 0
	scanErr := q.store.Scan(store.History, rowkey.HistoryScriptPrefix(scriptHash), func(key, value []byte) error {
		_, height, txid, marker, _, err := rowkey.ParseHistoryKey(key)
		if err != nil {
			return fmt.Errorf("chainquery: parse history key: %w", err)
		}
		if height < startHeight {
			return nil
		}
		canonical, ok := q.headers.At(height)
		if !ok {
			return nil
		}
		if _, err := q.store.Get(store.TxStore, rowkey.TxConfKey(txid, canonical.Hash())); err == store.ErrNotFound {
			return nil // stale row from a branch the reorg orphaned
		} else if err != nil {
			return fmt.Errorf("chainquery: check tx confirmation: %w", err)
		}
		processed++

		switch marker {
		case rowkey.MarkerFunding:
			fv, err := rowkey.DecodeFundingHistoryValue(value)
			if err != nil {
				return fmt.Errorf("chainquery: decode funding history value: %w", err)
			}
			utxos[types.Outpoint{TxID: txid, Index: fv.Vout}] = rowkey.UTXOCacheEntry{BlockHeight: height, Amount: fv.Amount}
		case rowkey.MarkerSpending:
			sv, err := rowkey.DecodeSpendingHistoryValue(value)
			if err != nil {
				return fmt.Errorf("chainquery: decode spending history value: %w", err)
			}
			delete(utxos, types.Outpoint{TxID: sv.PrevTxid, Index: sv.PrevVout})
		}

		if limit > 0 && len(utxos) > limit {
			return errTooPopularScan
		}
		return nil
	})
	if errors.Is(scanErr, errTooPopularScan) {
		return nil, fmt.Errorf("chainquery: utxo set for script: %w", errkind.TooPopular)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("chainquery: scan history for utxo: %w", scanErr)
	}

	if processed > q.cfg.MinToCache {
		val := rowkey.ScriptUTXOCacheValue{UTXOs: utxos, LastIndexed: uint32(tipHeight)}
		row := store.Row{Store: store.Cache, Key: rowkey.ScriptUTXOKey(scriptHash), Value: val.Encode()}
		if err := q.store.Write([]store.Row{row}, store.FlushAsync); err != nil {
			return nil, fmt.Errorf("chainquery: write utxo cache for script: %w", err)
		}
	}
	return utxos, nil
}

// Stats accumulates ScriptStats for scriptHash using the same
// cache-deltify algorithm as UTXO, keyed on the Script-stats cache row
// instead of the Script-UTXO one.
func (q *ChainQuery) Stats(scriptHash types.Hash) (rowkey.ScriptStats, error) {
	tipHeight := q.headers.TipHeight()
	if tipHeight < 0 {
		return rowkey.ScriptStats{}, nil
	}

	var stats rowkey.ScriptStats
	startHeight := uint32(0)

	cacheRaw, err := q.store.Get(store.Cache, rowkey.ScriptStatsKey(scriptHash))
	switch {
	case err == nil:
		cached, decErr := rowkey.DecodeScriptStatsCacheValue(cacheRaw)
		if decErr != nil {
			return rowkey.ScriptStats{}, fmt.Errorf("chainquery: decode stats cache for script: %w", decErr)
		}
		if cached.LastIndexed <= uint32(tipHeight) {
			stats = cached.Stats
			startHeight = cached.LastIndexed + 1
		}
	case err == store.ErrNotFound:
	default:
		return rowkey.ScriptStats{}, fmt.Errorf("chainquery: get stats cache for script: %w", err)
	}

	processed := 0
	seenTx := make(map[types.Hash]struct{})
	scanErr := q.store.Scan(store.History, rowkey.HistoryScriptPrefix(scriptHash), func(key, value []byte) error {
		_, height, txid, marker, _, err := rowkey.ParseHistoryKey(key)
		if err != nil {
			return fmt.Errorf("chainquery: parse history key: %w", err)
		}
		if height < startHeight {
			return nil
		}
		canonical, ok := q.headers.At(height)
		if !ok {
			return nil
		}
		if _, err := q.store.Get(store.TxStore, rowkey.TxConfKey(txid, canonical.Hash())); err == store.ErrNotFound {
			return nil
		} else if err != nil {
			return fmt.Errorf("chainquery: check tx confirmation: %w", err)
		}
		processed++

		if _, seen := seenTx[txid]; !seen {
			seenTx[txid] = struct{}{}
			stats.TxCount++
		}
		switch marker {
		case rowkey.MarkerFunding:
			fv, err := rowkey.DecodeFundingHistoryValue(value)
			if err != nil {
				return fmt.Errorf("chainquery: decode funding history value: %w", err)
			}
			stats.FundedTxoCount++
			stats.FundedTxoSum += fv.Amount
		case rowkey.MarkerSpending:
			sv, err := rowkey.DecodeSpendingHistoryValue(value)
			if err != nil {
				return fmt.Errorf("chainquery: decode spending history value: %w", err)
			}
			stats.SpentTxoCount++
			stats.SpentTxoSum += sv.Amount
		}
		return nil
	})
	if scanErr != nil {
		return rowkey.ScriptStats{}, fmt.Errorf("chainquery: scan history for stats: %w", scanErr)
	}

	if processed > q.cfg.MinToCache {
		val := rowkey.ScriptStatsCacheValue{Stats: stats, LastIndexed: uint32(tipHeight)}
		row := store.Row{Store: store.Cache, Key: rowkey.ScriptStatsKey(scriptHash), Value: val.Encode()}
		if err := q.store.Write([]store.Row{row}, store.FlushAsync); err != nil {
			return rowkey.ScriptStats{}, fmt.Errorf("chainquery: write stats cache for script: %w", err)
		}
	}
	return stats, nil
}
