// Package query implements the unified client-facing facade spec.md
// §4.6 describes: every external interface (thin client, REST) answers
// through this package rather than touching ChainQuery or Mempool
// directly, so confirmed/unconfirmed state is always merged the same
// way. Grounded on the teacher's internal/chain.Chain for the
// composition-over-a-mutex shape, and on internal/mempool.Pool's own
// TTL-cached refresh-on-read pattern for estimate_fee/get_relayfee.
package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/klingindex/internal/chainquery"
	"github.com/Klingon-tech/klingindex/internal/mempool"
	"github.com/Klingon-tech/klingindex/internal/rowkey"
	"github.com/Klingon-tech/klingindex/internal/upstream"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// FeeCacheTTL is the default refresh interval for estimate_fee and
// get_relayfee, per spec.md §4.6.
const FeeCacheTTL = 60 * time.Second

// FeeTargets lists the 28 fixed confirmation targets estimate_fee
// refreshes in one batch upstream call: 1-25, then the three coarser
// long-horizon buckets 144, 504 and 1008.
var FeeTargets = func() []int {
	targets := make([]int, 0, 28)
	for t := 1; t <= 25; t++ {
		targets = append(targets, t)
	}
	return append(targets, 144, 504, 1008)
}()

// Upstream is the subset of upstream.Client the Query facade needs
// beyond what Mempool already wraps.
type Upstream interface {
	SendRawTransaction(ctx context.Context, raw []byte) (types.Hash, error)
	EstimateSmartFee(ctx context.Context, target int) (upstream.FeeEstimate, error)
	GetRelayFee(ctx context.Context) (float64, error)
}

// Query composes ChainQuery and Mempool into the read/write surface a
// client-facing protocol handler calls directly.
type Query struct {
	chain    *chainquery.ChainQuery
	mempool  *mempool.Pool
	upstream Upstream
	scriptOf func([]byte) types.Hash

	feeMu      sync.Mutex
	feeCache   map[int]float64
	feeCacheAt time.Time

	relayMu      sync.Mutex
	relayFee     float64
	relayFeeAt   time.Time
	relayFeeKnow bool

	addressHRP string
}

// New builds a Query facade over an already-running ChainQuery and
// Mempool. scriptOf hashes a scriptPubKey the same way the indexer and
// mempool do (normally rowkey.ScriptHash).
func New(chain *chainquery.ChainQuery, mp *mempool.Pool, up Upstream, scriptOf func([]byte) types.Hash) *Query {
	return &Query{
		chain:    chain,
		mempool:  mp,
		upstream: up,
		scriptOf: scriptOf,
		feeCache: make(map[int]float64),
	}
}

// EnableAddressSearch turns on address-keyed lookups (AddressUtxo,
// AddressHistoryTxids), rendering/parsing addresses under hrp. Call this
// only when the indexer itself was configured with address_search, since
// an address resolves to a scripthash only if phase B wrote the
// corresponding address_search row.
func (q *Query) EnableAddressSearch(hrp string) {
	q.addressHRP = hrp
}

// ErrAddressSearchDisabled reports that an address-keyed lookup was
// called without EnableAddressSearch, so it could never find anything.
var ErrAddressSearchDisabled = fmt.Errorf("query: address_search is not enabled")

// resolveAddress hashes addr the same way phase B's address_search index
// was written and looks up the scripthash it maps to.
func (q *Query) resolveAddress(addr string) (types.Hash, error) {
	if q.addressHRP == "" {
		return types.Hash{}, ErrAddressSearchDisabled
	}
	return q.chain.ResolveAddress(addr)
}

// AddressUtxo is Utxo keyed by a rendered address instead of a
// pre-hashed scripthash, per address_search's whole purpose.
func (q *Query) AddressUtxo(addr string, limit int) ([]UTXOEntry, error) {
	scriptHash, err := q.resolveAddress(addr)
	if err != nil {
		return nil, fmt.Errorf("query: address utxo: %w", err)
	}
	return q.Utxo(scriptHash, limit)
}

// AddressHistoryTxids is HistoryTxids keyed by a rendered address.
func (q *Query) AddressHistoryTxids(addr string, lastSeen *types.Hash, limit int) ([]HistoryEntry, error) {
	scriptHash, err := q.resolveAddress(addr)
	if err != nil {
		return nil, fmt.Errorf("query: address history: %w", err)
	}
	return q.HistoryTxids(scriptHash, lastSeen, limit)
}

// UTXOEntry is one unspent outpoint in a merged utxo() result, tagged
// with its confirmation state.
type UTXOEntry struct {
	Outpoint types.Outpoint
	Amount   int64
	// Height is the confirming block height, or 0 if Confirmed is false.
	Height    uint32
	Confirmed bool
}

// Utxo merges ChainQuery's confirmed UTXO set with the mempool's view:
// outpoints the mempool has since spent are dropped, and outpoints the
// mempool has newly funded for scriptHash are added unconfirmed.
func (q *Query) Utxo(scriptHash types.Hash, limit int) ([]UTXOEntry, error) {
	confirmed, err := q.chain.UTXO(scriptHash, limit)
	if err != nil {
		return nil, fmt.Errorf("query: utxo: %w", err)
	}

	out := make([]UTXOEntry, 0, len(confirmed))
	for op, entry := range confirmed {
		if _, spent := q.mempool.LookupSpend(op); spent {
			continue
		}
		out = append(out, UTXOEntry{Outpoint: op, Amount: entry.Amount, Height: entry.BlockHeight, Confirmed: true})
	}

	for _, e := range q.mempool.History(scriptHash) {
		if e.Marker != rowkey.MarkerFunding {
			continue
		}
		if _, spent := q.mempool.LookupSpend(e.Outpoint); spent {
			continue
		}
		out = append(out, UTXOEntry{Outpoint: e.Outpoint, Amount: e.Value, Confirmed: false})
	}
	return out, nil
}

// HistoryEntry is one history_txids result row: a txid plus its
// confirming block, or unconfirmed if BlockHash is the zero hash.
type HistoryEntry struct {
	Txid      types.Hash
	Height    uint32
	BlockHash types.Hash
	Confirmed bool
}

// HistoryTxids returns scriptHash's mempool entries first (deduplicated
// by txid, since a tx can appear as both a funding and spending event),
// followed by its confirmed history, each tagged with its block-id or
// none.
func (q *Query) HistoryTxids(scriptHash types.Hash, lastSeen *types.Hash, limit int) ([]HistoryEntry, error) {
	seen := make(map[types.Hash]bool)
	var out []HistoryEntry
	for _, e := range q.mempool.History(scriptHash) {
		var txid types.Hash
		if e.Marker == rowkey.MarkerFunding {
			txid = e.Outpoint.TxID
		} else {
			txid = e.SpenderTxid
		}
		if seen[txid] {
			continue
		}
		seen[txid] = true
		out = append(out, HistoryEntry{Txid: txid, Confirmed: false})
	}

	confirmed, err := q.chain.HistoryTxids(scriptHash, lastSeen, limit)
	if err != nil {
		return nil, fmt.Errorf("query: history_txids: %w", err)
	}
	for _, c := range confirmed {
		out = append(out, HistoryEntry{Txid: c.Txid, Height: c.Height, BlockHash: c.BlockHash, Confirmed: true})
	}
	return out, nil
}

// LookupTx returns the raw transaction bytes for txid, checking the
// mempool before confirmed state.
func (q *Query) LookupTx(txid types.Hash) ([]byte, error) {
	if tx, _, ok := q.mempool.Lookup(txid); ok {
		return tx.Bytes(), nil
	}
	return q.chain.LookupRawTx(txid)
}

// TxStatus is the answer to "is txid confirmed, and if so where" — the
// cheap counterpart to a merkle proof for a caller that only needs
// confirmation state, not a branch.
type TxStatus struct {
	Confirmed bool
	Height    uint32
	BlockHash types.Hash
}

// GetTxStatus reports txid's confirmation state without building a
// merkle branch: unconfirmed if the mempool still holds it, confirmed at
// TxConfirmingBlock's canonical block otherwise. Returns an error wrapping
// errkind.NotFound (chainquery.ErrNoConfirmation) if TxConfirmingBlock
// finds no canonical block for txid.
func (q *Query) GetTxStatus(txid types.Hash) (TxStatus, error) {
	if _, _, ok := q.mempool.Lookup(txid); ok {
		return TxStatus{}, nil
	}
	blockHash, height, found, err := q.chain.TxConfirmingBlock(txid)
	if err != nil {
		return TxStatus{}, fmt.Errorf("query: tx_status: %w", err)
	}
	if !found {
		return TxStatus{}, fmt.Errorf("query: tx_status: %w", chainquery.ErrNoConfirmation)
	}
	return TxStatus{Confirmed: true, Height: height, BlockHash: blockHash}, nil
}

// BroadcastRaw relays raw transaction bytes to upstream and, on
// success, immediately mirrors it into the mempool so a client polling
// right after broadcast_raw sees it without waiting for the next sync
// pass.
func (q *Query) BroadcastRaw(ctx context.Context, raw []byte) (types.Hash, error) {
	txid, err := q.upstream.SendRawTransaction(ctx, raw)
	if err != nil {
		return types.Hash{}, fmt.Errorf("query: broadcast_raw: %w", err)
	}
	if err := q.mempool.AddSingle(ctx, txid); err != nil {
		return txid, fmt.Errorf("query: broadcast_raw: mirror %s into mempool: %w", txid, err)
	}
	return txid, nil
}

// EstimateFee returns the cached sat/vB estimate for confTarget,
// refreshing the whole FeeTargets batch first if the cache's TTL has
// elapsed. ok is false if the node has no estimate for that target.
func (q *Query) EstimateFee(ctx context.Context, confTarget int) (satPerVByte float64, ok bool, err error) {
	q.feeMu.Lock()
	defer q.feeMu.Unlock()

	if time.Since(q.feeCacheAt) > FeeCacheTTL {
		if err := q.refreshFeeCacheLocked(ctx); err != nil {
			return 0, false, err
		}
	}
	rate, found := q.feeCache[confTarget]
	return rate, found, nil
}

func (q *Query) refreshFeeCacheLocked(ctx context.Context) error {
	fresh := make(map[int]float64, len(FeeTargets))
	for _, target := range FeeTargets {
		est, err := q.upstream.EstimateSmartFee(ctx, target)
		if err != nil {
			return fmt.Errorf("query: estimate_fee: target %d: %w", target, err)
		}
		if est.FeeRate <= 0 {
			continue
		}
		// feerate is BTC/kvB upstream; convert to sat/vB.
		fresh[target] = est.FeeRate * 1e8 / 1000
	}
	q.feeCache = fresh
	q.feeCacheAt = time.Now()
	return nil
}

// GetRelayFee returns the node's minimum relay fee rate in sat/vB,
// refreshing from getnetworkinfo if the cache's TTL has elapsed.
func (q *Query) GetRelayFee(ctx context.Context) (float64, error) {
	q.relayMu.Lock()
	defer q.relayMu.Unlock()

	if !q.relayFeeKnow || time.Since(q.relayFeeAt) > FeeCacheTTL {
		btcPerKvB, err := q.upstream.GetRelayFee(ctx)
		if err != nil {
			return 0, fmt.Errorf("query: get_relayfee: %w", err)
		}
		q.relayFee = btcPerKvB * 1e8 / 1000
		q.relayFeeAt = time.Now()
		q.relayFeeKnow = true
	}
	return q.relayFee, nil
}
