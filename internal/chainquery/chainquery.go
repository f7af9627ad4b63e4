// Package chainquery implements ChainQuery: read-only queries against
// confirmed chain state. Grounded on the teacher's internal/chain.Chain —
// a header/tip accessor wrapping a mutex-guarded in-memory structure — but
// narrowed to a pure reader: no block application, no consensus
// validation, just the confirmed-state read surface a client or REST
// handler needs.
package chainquery

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Klingon-tech/klingindex/internal/chainmodel"
	"github.com/Klingon-tech/klingindex/internal/errkind"
	"github.com/Klingon-tech/klingindex/internal/headerlist"
	"github.com/Klingon-tech/klingindex/internal/rowkey"
	"github.com/Klingon-tech/klingindex/internal/store"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// blockDecodeCacheSize bounds the LRU fronting BlockMeta/txids decodes;
// sized for a hot working set of recently-queried blocks, not the whole
// chain.
const blockDecodeCacheSize = 4096

// Config holds ChainQuery's configurable knobs, sourced from the
// recognized options in spec.md §6.
type Config struct {
	// TxsLimit caps how many txids history_txids/history will return in
	// one call before erroring with errkind.TooPopular. Default 500.
	TxsLimit int

	// MinToCache is the threshold a utxo()/stats() call's count of
	// processed history rows must exceed before it writes back an updated
	// cache row. Default 100.
	MinToCache int

	// LightMode mirrors spec.md §4.4: when true, callers are expected to
	// rely on GetBlockRaw's txstore-reconstruction path rather than a
	// stored whole-block row — which is the only path this module ever
	// implements, since phase A never persists one. Kept for parity with
	// the option's presence in config.
	LightMode bool
}

func (c *Config) setDefaults() {
	if c.TxsLimit <= 0 {
		c.TxsLimit = 500
	}
	if c.MinToCache <= 0 {
		c.MinToCache = 100
	}
}

// ChainQuery serves read-only queries against confirmed chain state: the
// header list plus the txstore/history/cache logical stores behind it.
type ChainQuery struct {
	store   *store.Store
	headers *headerlist.List
	cfg     Config

	blockMetaCache *lru.Cache[types.Hash, chainmodel.BlockMeta]
	txidsCache     *lru.Cache[types.Hash, []types.Hash]
}

// New builds a ChainQuery over an already-populated Store and the live
// header list the Indexer maintains.
func New(st *store.Store, headers *headerlist.List, cfg Config) (*ChainQuery, error) {
	cfg.setDefaults()

	blockMetaCache, err := lru.New[types.Hash, chainmodel.BlockMeta](blockDecodeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("chainquery: new block meta cache: %w", err)
	}
	txidsCache, err := lru.New[types.Hash, []types.Hash](blockDecodeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("chainquery: new txids cache: %w", err)
	}

	return &ChainQuery{
		store:          st,
		headers:        headers,
		cfg:            cfg,
		blockMetaCache: blockMetaCache,
		txidsCache:     txidsCache,
	}, nil
}

// BestHeader returns the current tip header and its height. ok is false
// if no block has ever been indexed.
func (q *ChainQuery) BestHeader() (header chainmodel.Header, height uint32, ok bool) {
	return q.headers.Tip()
}

// HeaderByHash returns the header and height for hash, if it's on the
// canonical chain.
func (q *ChainQuery) HeaderByHash(hash types.Hash) (chainmodel.Header, uint32, bool) {
	height, ok := q.headers.HeightOf(hash)
	if !ok {
		return chainmodel.Header{}, 0, false
	}
	header, _ := q.headers.At(height)
	return header, height, true
}

// HeaderByHeight returns the canonical header at height.
func (q *ChainQuery) HeaderByHeight(height uint32) (chainmodel.Header, bool) {
	return q.headers.At(height)
}

// HashByHeight returns the canonical block hash at height.
func (q *ChainQuery) HashByHeight(height uint32) (types.Hash, bool) {
	header, ok := q.headers.At(height)
	if !ok {
		return types.Hash{}, false
	}
	return header.Hash(), true
}

// GetBlockMeta returns the header plus tx_count/size/weight for hash.
func (q *ChainQuery) GetBlockMeta(hash types.Hash) (chainmodel.BlockMeta, error) {
	if meta, ok := q.blockMetaCache.Get(hash); ok {
		return meta, nil
	}
	raw, err := q.store.Get(store.TxStore, rowkey.BlockKey(hash))
	if err == store.ErrNotFound {
		return chainmodel.BlockMeta{}, fmt.Errorf("chainquery: block %s: %w", hash, errkind.NotFound)
	}
	if err != nil {
		return chainmodel.BlockMeta{}, fmt.Errorf("chainquery: get block meta %s: %w", hash, err)
	}
	meta, err := chainmodel.DecodeBlockMeta(raw)
	if err != nil {
		return chainmodel.BlockMeta{}, fmt.Errorf("chainquery: decode block meta %s: %w", hash, err)
	}
	q.blockMetaCache.Add(hash, meta)
	return meta, nil
}

// GetBlockTxids returns the ordered txids of the block, without reading
// the individual transaction rows.
func (q *ChainQuery) GetBlockTxids(hash types.Hash) ([]types.Hash, error) {
	if txids, ok := q.txidsCache.Get(hash); ok {
		return txids, nil
	}
	raw, err := q.store.Get(store.TxStore, rowkey.BlockTxidsKey(hash))
	if err == store.ErrNotFound {
		return nil, fmt.Errorf("chainquery: block txids %s: %w", hash, errkind.NotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("chainquery: get block txids %s: %w", hash, err)
	}
	txids, err := chainmodel.DecodeTxids(raw)
	if err != nil {
		return nil, fmt.Errorf("chainquery: decode block txids %s: %w", hash, err)
	}
	q.txidsCache.Add(hash, txids)
	return txids, nil
}

// GetBlockRaw reconstructs the raw wire-format block bytes for hash. No
// whole-block row is ever persisted (phase A only writes header/meta,
// ordered txids, and individual transaction rows), so this always
// rebuilds via chainmodel.ReconstructRaw — the "light mode" path spec.md
// §4.4 describes is the only path there is.
func (q *ChainQuery) GetBlockRaw(hash types.Hash) ([]byte, error) {
	meta, err := q.GetBlockMeta(hash)
	if err != nil {
		return nil, err
	}
	txids, err := q.GetBlockTxids(hash)
	if err != nil {
		return nil, err
	}

	keys := make([][]byte, len(txids))
	for i, txid := range txids {
		keys[i] = rowkey.TxKey(txid)
	}
	raws, err := q.store.MultiGet(store.TxStore, keys)
	if err != nil {
		return nil, fmt.Errorf("chainquery: multi-get block %s transactions: %w", hash, err)
	}

	txs := make([]*chainmodel.Transaction, len(txids))
	for i, raw := range raws {
		if raw == nil {
			return nil, fmt.Errorf("%w: tx row missing for %s in block %s", errkind.Internal, txids[i], hash)
		}
		tx, err := chainmodel.ParseTransaction(raw)
		if err != nil {
			return nil, fmt.Errorf("chainquery: parse tx %s in block %s: %w", txids[i], hash, err)
		}
		txs[i] = tx
	}
	return chainmodel.ReconstructRaw(meta.Header, txs), nil
}

// LookupTx returns the decoded transaction for txid.
func (q *ChainQuery) LookupTx(txid types.Hash) (*chainmodel.Transaction, error) {
	raw, err := q.LookupRawTx(txid)
	if err != nil {
		return nil, err
	}
	tx, err := chainmodel.ParseTransaction(raw)
	if err != nil {
		return nil, fmt.Errorf("chainquery: parse tx %s: %w", txid, err)
	}
	return tx, nil
}

// LookupRawTx returns the raw serialized bytes of a transaction row.
func (q *ChainQuery) LookupRawTx(txid types.Hash) ([]byte, error) {
	raw, err := q.store.Get(store.TxStore, rowkey.TxKey(txid))
	if err == store.ErrNotFound {
		return nil, fmt.Errorf("chainquery: tx %s: %w", txid, errkind.NotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("chainquery: get tx %s: %w", txid, err)
	}
	return raw, nil
}

// LookupTXO resolves a single outpoint to its funding script hash and
// amount, satisfying mempool.PrevoutResolver: the Mempool falls back to
// this when an input's prevout isn't itself unconfirmed.
func (q *ChainQuery) LookupTXO(op types.Outpoint) (scriptHash types.Hash, amount int64, found bool, err error) {
	raw, err := q.store.Get(store.TxStore, rowkey.FundingOutKey(op.TxID, op.Index))
	if err == store.ErrNotFound {
		return types.Hash{}, 0, false, nil
	}
	if err != nil {
		return types.Hash{}, 0, false, fmt.Errorf("chainquery: get funding-out value for %s: %w", op, err)
	}
	val, err := rowkey.DecodeFundingOutValue(raw)
	if err != nil {
		return types.Hash{}, 0, false, fmt.Errorf("chainquery: decode funding-out value for %s: %w", op, err)
	}
	return rowkey.ScriptHash(val.ScriptPubKey), val.Amount, true, nil
}

// LookupTxos resolves a set of outpoints to their funding-out rows with
// one Store.MultiGet, returning a map that omits any outpoint with no row (spent
// outpoints whose funding tx was itself pruned are never written in this
// schema, so absence always means "never a spendable output here").
func (q *ChainQuery) LookupTxos(outpoints []types.Outpoint) (map[types.Outpoint]rowkey.FundingOutValue, error) {
	keys := make([][]byte, len(outpoints))
	for i, op := range outpoints {
		keys[i] = rowkey.FundingOutKey(op.TxID, op.Index)
	}
	raws, err := q.store.MultiGet(store.TxStore, keys)
	if err != nil {
		return nil, fmt.Errorf("chainquery: multi-get txos: %w", err)
	}

	out := make(map[types.Outpoint]rowkey.FundingOutValue, len(outpoints))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		val, err := rowkey.DecodeFundingOutValue(raw)
		if err != nil {
			return nil, fmt.Errorf("chainquery: decode funding-out value for %s: %w", outpoints[i], err)
		}
		out[outpoints[i]] = val
	}
	return out, nil
}
