package indexer

import (
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingindex/internal/chainmodel"
	"github.com/Klingon-tech/klingindex/internal/fetcher"
	"github.com/Klingon-tech/klingindex/internal/rowkey"
	"github.com/Klingon-tech/klingindex/internal/store"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// runPhaseA is the Add phase: for every block in the batch whose Block
// row is not yet present (crash recovery skips it), write the block row,
// block-txids row, each transaction row, and each funding-out row.
// Per-block row construction is parallelized across idx.workers(); the
// resulting rows are committed in one Async-flushed batch.
func (idx *Indexer) runPhaseA(blocks []fetcher.FetchedBlock) error {
	type outcome struct {
		rows []store.Row
		err  error
	}
	outcomes := make([]outcome, len(blocks))

	var wg sync.WaitGroup
	sem := make(chan struct{}, idx.workers())
	for i, fb := range blocks {
		wg.Add(1)
		go func(i int, fb fetcher.FetchedBlock) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			hash := fb.Block.Hash()
			present, err := idx.blockAdded(hash)
			if err != nil {
				outcomes[i] = outcome{err: fmt.Errorf("check block row %s: %w", hash, err)}
				return
			}
			if present {
				return
			}
			outcomes[i] = outcome{rows: buildPhaseARows(fb.Block, idx.cfg.IndexUnspendables)}
		}(i, fb)
	}
	wg.Wait()

	var rows []store.Row
	for _, o := range outcomes {
		if o.err != nil {
			return o.err
		}
		rows = append(rows, o.rows...)
	}
	if len(rows) == 0 {
		return nil
	}
	return idx.store.Write(rows, store.FlushAsync)
}

// blockAdded reports whether a Block row already exists for hash.
func (idx *Indexer) blockAdded(hash types.Hash) (bool, error) {
	_, err := idx.store.Get(store.TxStore, rowkey.BlockKey(hash))
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func buildPhaseARows(blk *chainmodel.Block, indexUnspendables bool) []store.Row {
	hash := blk.Hash()
	rows := make([]store.Row, 0, 2+len(blk.Txs)*3)
	rows = append(rows,
		store.Row{Store: store.TxStore, Key: rowkey.BlockKey(hash), Value: blk.Meta().Encode()},
		store.Row{Store: store.TxStore, Key: rowkey.BlockTxidsKey(hash), Value: chainmodel.EncodeTxids(blk.Txids())},
	)
	for _, tx := range blk.Txs {
		txid := tx.Txid()
		rows = append(rows, store.Row{Store: store.TxStore, Key: rowkey.TxKey(txid), Value: tx.Bytes()})
		for vout, out := range tx.Outputs {
			if isUnspendable(out.Script) && !indexUnspendables {
				continue
			}
			val := rowkey.FundingOutValue{ScriptPubKey: out.Script, Amount: out.Value}
			rows = append(rows, store.Row{Store: store.TxStore, Key: rowkey.FundingOutKey(txid, uint32(vout)), Value: val.Encode()})
		}
	}
	return rows
}
