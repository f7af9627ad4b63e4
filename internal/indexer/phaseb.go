package indexer

import (
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingindex/internal/chainmodel"
	"github.com/Klingon-tech/klingindex/internal/errkind"
	"github.com/Klingon-tech/klingindex/internal/fetcher"
	"github.com/Klingon-tech/klingindex/internal/rowkey"
	"github.com/Klingon-tech/klingindex/internal/store"
	"github.com/Klingon-tech/klingindex/pkg/address"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// runPhaseB is the Index phase: for every block in the batch whose
// Indexed marker is not yet set (crash recovery skips it), emit a
// Spending history row per prevout-carrying input, a Funding history row
// per spendable output, and a TxConf row per transaction, then set the
// Indexed marker. Per-block row construction is parallelized across
// idx.workers(), reading prevout funding rows the batch's own phase A
// pass (or an earlier pass) already made resolvable.
func (idx *Indexer) runPhaseB(blocks []fetcher.FetchedBlock) error {
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
			indexed, err := idx.blockIndexed(hash)
			if err != nil {
				outcomes[i] = outcome{err: fmt.Errorf("check indexed marker %s: %w", hash, err)}
				return
			}
			if indexed {
				return
			}
			rows, err := idx.buildPhaseBRows(fb.Block, fb.Header.Height)
			if err != nil {
				outcomes[i] = outcome{err: err}
				return
			}
			outcomes[i] = outcome{rows: rows}
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

// blockIndexed reports whether the Indexed-marker row already exists for
// hash.
func (idx *Indexer) blockIndexed(hash types.Hash) (bool, error) {
	_, err := idx.store.Get(store.TxStore, rowkey.IndexedKey(hash))
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (idx *Indexer) buildPhaseBRows(blk *chainmodel.Block, height uint32) ([]store.Row, error) {
	hash := blk.Hash()
	rows := make([]store.Row, 0, len(blk.Txs)*3+1)

	for _, tx := range blk.Txs {
		txid := tx.Txid()
		rows = append(rows, store.Row{Store: store.TxStore, Key: rowkey.TxConfKey(txid, hash), Value: []byte{}})

		if !tx.IsCoinbase() {
			for vin, in := range tx.Inputs {
				fundingRaw, err := idx.store.Get(store.TxStore, rowkey.FundingOutKey(in.PrevOut.TxID, in.PrevOut.Index))
				if err != nil {
					if err == store.ErrNotFound {
						return nil, fmt.Errorf("%w: prevout %s not found for input %d of tx %s", errkind.Internal, in.PrevOut, vin, txid)
					}
					return nil, fmt.Errorf("resolve prevout %s: %w", in.PrevOut, err)
				}
				fundingVal, err := rowkey.DecodeFundingOutValue(fundingRaw)
				if err != nil {
					return nil, fmt.Errorf("decode funding-out value for %s: %w", in.PrevOut, err)
				}
				scriptHash := rowkey.ScriptHash(fundingVal.ScriptPubKey)
				spendVal := rowkey.SpendingHistoryValue{
					Amount:   fundingVal.Amount,
					PrevTxid: in.PrevOut.TxID,
					PrevVout: in.PrevOut.Index,
					Vin:      uint32(vin),
				}
				key := rowkey.HistoryKey(scriptHash, height, txid, rowkey.MarkerSpending, uint32(vin))
				rows = append(rows, store.Row{Store: store.History, Key: key, Value: spendVal.Encode()})
			}
		}

		for vout, out := range tx.Outputs {
			if isUnspendable(out.Script) && !idx.cfg.IndexUnspendables {
				continue
			}
			scriptHash := rowkey.ScriptHash(out.Script)
			fundingVal := rowkey.FundingHistoryValue{Amount: out.Value, Vout: uint32(vout)}
			key := rowkey.HistoryKey(scriptHash, height, txid, rowkey.MarkerFunding, uint32(vout))
			rows = append(rows, store.Row{Store: store.History, Key: key, Value: fundingVal.Encode()})

			if idx.cfg.AddressSearch {
				if addr, ok := address.ScriptToAddress(out.Script, idx.cfg.AddressHRP); ok {
					addrKey := rowkey.AddressKey(rowkey.AddressHash(addr))
					rows = append(rows, store.Row{Store: store.Cache, Key: addrKey, Value: scriptHash[:]})
				}
			}
		}
	}

	rows = append(rows, store.Row{Store: store.TxStore, Key: rowkey.IndexedKey(hash), Value: []byte{}})
	return rows, nil
}
