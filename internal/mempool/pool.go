// Package mempool mirrors the upstream node's unconfirmed transaction
// set rather than validating or relaying transactions itself: a single
// readers-writer lock guards a snapshot that a sync pass replaces in
// bulk. Grounded on the teacher's internal/mempool for the
// sync.RWMutex-guarded map-of-entries shape, restructured from
// validate-and-admit semantics to mirror-and-evict semantics per
// spec.md §4.5.
package mempool

import (
	"container/ring"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/klingindex/internal/chainmodel"
	"github.com/Klingon-tech/klingindex/internal/errkind"
	"github.com/Klingon-tech/klingindex/internal/feehistogram"
	"github.com/Klingon-tech/klingindex/internal/log"
	"github.com/Klingon-tech/klingindex/internal/rowkey"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// RecentCapacity bounds the "recent" ring spec.md §4.5 describes.
const RecentCapacity = 10_000

// BacklogStatsTTL is the default refresh interval for backlog_stats.
const BacklogStatsTTL = 60 * time.Second

// FeeInfo is a mempool transaction's fee summary.
type FeeInfo struct {
	Fee         int64
	VSize       int64
	FeePerVByte float64
}

// HistoryEntry is one script-keyed mempool history row: either a funding
// (new output) or spending (consumed outpoint) event.
type HistoryEntry struct {
	Marker      rowkey.HistoryMarker
	Outpoint    types.Outpoint // the outpoint created (Funding) or consumed (Spending)
	Value       int64
	SpenderTxid types.Hash // set for Spending: the tx that consumes Outpoint
	SpenderVin  uint32
}

// SpendEdge records which mempool transaction/input consumes an
// outpoint, for lookup_spend over unconfirmed inputs.
type SpendEdge struct {
	SpendingTxid types.Hash
	Vin          uint32
}

// Overview is a compact recent-transaction summary.
type Overview struct {
	Txid types.Hash
	Fee  int64
	VSize int64
}

// BacklogStats is the cached mempool-wide summary.
type BacklogStats struct {
	Count     int
	VSizeSum  int64
	FeeSum    int64
	Histogram []feehistogram.Bucket
}

// PrevoutResolver resolves an outpoint to its funding script hash and
// amount against confirmed state. ChainQuery implements this; the
// Mempool also checks its own in-flight batch first for intra-mempool
// chains, per spec.md §4.5 step 5.
type PrevoutResolver interface {
	LookupTXO(op types.Outpoint) (scriptHash types.Hash, amount int64, found bool, err error)
}

// Upstream is the subset of internal/upstream.Client the Mempool needs.
type Upstream interface {
	GetRawMempool(ctx context.Context) ([]types.Hash, error)
	GetRawTransaction(ctx context.Context, txid types.Hash) (*chainmodel.Transaction, error)
	GetBestBlockHash(ctx context.Context) (types.Hash, error)
}

// Pool mirrors the upstream mempool.
type Pool struct {
	mu sync.RWMutex

	upstream Upstream
	prevouts PrevoutResolver
	scriptOf func(script []byte) types.Hash

	txs        map[types.Hash]*chainmodel.Transaction
	feeInfo    map[types.Hash]FeeInfo
	history    map[types.Hash][]HistoryEntry
	spendEdges map[types.Outpoint]SpendEdge

	recent *ring.Ring

	backlog    BacklogStats
	backlogAt  time.Time
	backlogTTL time.Duration
}

// New builds an empty Pool. scriptOf hashes a scriptPubKey into the
// script-hash key space (normally rowkey.ScriptHash).
func New(upstream Upstream, prevouts PrevoutResolver, scriptOf func([]byte) types.Hash) *Pool {
	return &Pool{
		upstream:   upstream,
		prevouts:   prevouts,
		scriptOf:   scriptOf,
		txs:        make(map[types.Hash]*chainmodel.Transaction),
		feeInfo:    make(map[types.Hash]FeeInfo),
		history:    make(map[types.Hash][]HistoryEntry),
		spendEdges: make(map[types.Outpoint]SpendEdge),
		recent:     ring.New(RecentCapacity),
		backlogTTL: BacklogStatsTTL,
	}
}

// Size returns the current number of mirrored transactions.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// Has reports whether txid is currently mirrored.
func (p *Pool) Has(txid types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.txs[txid]
	return ok
}

// Lookup returns the mirrored transaction and its fee info, if present.
func (p *Pool) Lookup(txid types.Hash) (*chainmodel.Transaction, FeeInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tx, ok := p.txs[txid]
	if !ok {
		return nil, FeeInfo{}, false
	}
	return tx, p.feeInfo[txid], true
}

// LookupSpend reports which mempool transaction/input consumes op.
func (p *Pool) LookupSpend(op types.Outpoint) (SpendEdge, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.spendEdges[op]
	return e, ok
}

// History returns the recorded history entries for a script hash, in
// insertion order.
func (p *Pool) History(scriptHash types.Hash) []HistoryEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	src := p.history[scriptHash]
	out := make([]HistoryEntry, len(src))
	copy(out, src)
	return out
}

// BacklogStats returns the cached mempool-wide summary, refreshing it
// first if its TTL has elapsed.
func (p *Pool) BacklogStats() BacklogStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.backlogAt) > p.backlogTTL {
		p.refreshBacklogLocked()
	}
	return p.backlog
}

func (p *Pool) refreshBacklogLocked() {
	var entries []feehistogram.Entry
	var feeSum, vsizeSum int64
	for _, fi := range p.feeInfo {
		entries = append(entries, feehistogram.Entry{FeePerVByte: fi.FeePerVByte, VSize: fi.VSize})
		feeSum += fi.Fee
		vsizeSum += fi.VSize
	}
	p.backlog = BacklogStats{
		Count:     len(p.txs),
		VSizeSum:  vsizeSum,
		FeeSum:    feeSum,
		Histogram: feehistogram.Build(entries),
	}
	p.backlogAt = time.Now()
}

// Sync runs one mirror pass against upstream, per spec.md §4.5's
// 7-step algorithm. Returns the number of transactions added.
func (p *Pool) Sync(ctx context.Context) (added int, err error) {
	upstreamTxids, err := p.upstream.GetRawMempool(ctx)
	if err != nil {
		return 0, fmt.Errorf("mempool: sync: fetch mempool set: %w", err)
	}
	wanted := make(map[types.Hash]bool, len(upstreamTxids))
	for _, id := range upstreamTxids {
		wanted[id] = true
	}

	p.mu.Lock()
	var toEvict []types.Hash
	for id := range p.txs {
		if !wanted[id] {
			toEvict = append(toEvict, id)
		}
	}
	for _, id := range toEvict {
		p.evictLocked(id)
	}
	var missing []types.Hash
	for id := range wanted {
		if _, ok := p.txs[id]; !ok {
			missing = append(missing, id)
		}
	}
	p.mu.Unlock()

	if len(missing) == 0 {
		return 0, nil
	}

	tipBefore, err := p.upstream.GetBestBlockHash(ctx)
	if err != nil {
		return 0, fmt.Errorf("mempool: sync: best block hash: %w", err)
	}

	fetched := make(map[types.Hash]*chainmodel.Transaction, len(missing))
	for _, id := range missing {
		tx, err := p.upstream.GetRawTransaction(ctx, id)
		if err != nil {
			if isNotFound(err) {
				// Evicted mid-flight; tolerated per spec.md §4.5 step 3.
				continue
			}
			return 0, fmt.Errorf("mempool: sync: fetch tx %s: %w", id, err)
		}
		fetched[id] = tx
	}

	tipAfter, err := p.upstream.GetBestBlockHash(ctx)
	if err != nil {
		return 0, fmt.Errorf("mempool: sync: best block hash recheck: %w", err)
	}
	if tipAfter != tipBefore {
		log.Mempool.Warn().Msg("chain tip moved mid-sync, discarding pass")
		return 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, tx := range fetched {
		if err := p.insertLocked(id, tx, fetched); err != nil {
			return added, fmt.Errorf("mempool: sync: insert tx %s: %w", id, err)
		}
		added++
	}
	if len(fetched) > 0 {
		p.refreshBacklogLocked()
	}
	return added, nil
}

func isNotFound(err error) bool {
	var rpcErr *errkind.RPCError
	if e, ok := err.(*errkind.RPCError); ok {
		rpcErr = e
	}
	return rpcErr != nil
}

// insertLocked resolves prevouts (consulting batch first, then the
// PrevoutResolver) and inserts tx into every index. Caller holds mu.
func (p *Pool) insertLocked(txid types.Hash, tx *chainmodel.Transaction, batch map[types.Hash]*chainmodel.Transaction) error {
	var prevoutSum int64
	type resolved struct {
		scriptHash types.Hash
		amount     int64
	}
	resolvedIns := make([]resolved, len(tx.Inputs))

	if !tx.IsCoinbase() {
		for i, in := range tx.Inputs {
			if batchTx, ok := batch[in.PrevOut.TxID]; ok && int(in.PrevOut.Index) < len(batchTx.Outputs) {
				out := batchTx.Outputs[in.PrevOut.Index]
				resolvedIns[i] = resolved{scriptHash: p.scriptOf(out.Script), amount: out.Value}
				prevoutSum += out.Value
				continue
			}
			scriptHash, amount, found, err := p.prevouts.LookupTXO(in.PrevOut)
			if err != nil {
				return fmt.Errorf("resolve prevout %s: %w", in.PrevOut, err)
			}
			if !found {
				return fmt.Errorf("%w: prevout %s not found", errkind.Internal, in.PrevOut)
			}
			resolvedIns[i] = resolved{scriptHash: scriptHash, amount: amount}
			prevoutSum += amount
		}
	}

	var outputSum int64
	for _, out := range tx.Outputs {
		outputSum += out.Value
	}

	fee, vsize, feePerVByte := feehistogram.ComputeFee(prevoutSum, outputSum, uint32(tx.Weight()), tx.IsCoinbase())

	p.txs[txid] = tx
	p.feeInfo[txid] = FeeInfo{Fee: fee, VSize: vsize, FeePerVByte: feePerVByte}

	if !tx.IsCoinbase() {
		for i, in := range tx.Inputs {
			sh := resolvedIns[i].scriptHash
			p.history[sh] = append(p.history[sh], HistoryEntry{
				Marker:      rowkey.MarkerSpending,
				Outpoint:    in.PrevOut,
				Value:       resolvedIns[i].amount,
				SpenderTxid: txid,
				SpenderVin:  uint32(i),
			})
			p.spendEdges[in.PrevOut] = SpendEdge{SpendingTxid: txid, Vin: uint32(i)}
		}
	}
	for i, out := range tx.Outputs {
		sh := p.scriptOf(out.Script)
		p.history[sh] = append(p.history[sh], HistoryEntry{
			Marker:   rowkey.MarkerFunding,
			Outpoint: types.Outpoint{TxID: txid, Index: uint32(i)},
			Value:    out.Value,
		})
	}

	p.recent.Value = Overview{Txid: txid, Fee: fee, VSize: vsize}
	p.recent = p.recent.Next()

	return nil
}

// evictLocked removes txid and undoes every index entry it created.
// Caller holds mu.
func (p *Pool) evictLocked(txid types.Hash) {
	tx, ok := p.txs[txid]
	if !ok {
		return
	}
	delete(p.txs, txid)
	delete(p.feeInfo, txid)

	if !tx.IsCoinbase() {
		for _, in := range tx.Inputs {
			delete(p.spendEdges, in.PrevOut)
		}
	}
	for sh, entries := range p.history {
		filtered := entries[:0]
		for _, e := range entries {
			keep := !(e.Marker == rowkey.MarkerFunding && e.Outpoint.TxID == txid) &&
				!(e.Marker == rowkey.MarkerSpending && e.SpenderTxid == txid)
			if keep {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(p.history, sh)
		} else {
			p.history[sh] = filtered
		}
	}
}

// Recent returns up to n of the most recently inserted transaction
// overviews, most recent first.
func (p *Pool) Recent(n int) []Overview {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []Overview
	r := p.recent
	for i := 0; i < RecentCapacity && len(out) < n; i++ {
		r = r.Prev()
		if r.Value == nil {
			continue
		}
		out = append(out, r.Value.(Overview))
	}
	return out
}

// AddSingle fetches and inserts one transaction immediately, used after
// a successful broadcast_raw per spec.md §4.6's Query facade.
func (p *Pool) AddSingle(ctx context.Context, txid types.Hash) error {
	tx, err := p.upstream.GetRawTransaction(ctx, txid)
	if err != nil {
		return fmt.Errorf("mempool: add single %s: %w", txid, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.txs[txid]; ok {
		return nil
	}
	return p.insertLocked(txid, tx, map[types.Hash]*chainmodel.Transaction{txid: tx})
}
