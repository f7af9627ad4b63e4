// Package indexer implements the Indexer component: it advances the
// on-disk indexes from the current tip to the upstream best hash,
// detecting and applying reorgs along the way. Grounded on the teacher's
// internal/chain's Reorg/collectBranch walk-back-to-common-ancestor shape
// (internal/chain/reorg.go), restructured around a read-only two-phase
// Add/Index pipeline instead of applying a validated UTXO diff.
package indexer

import (
	"context"
	"fmt"
	"runtime"

	"github.com/Klingon-tech/klingindex/internal/chainmodel"
	"github.com/Klingon-tech/klingindex/internal/errkind"
	"github.com/Klingon-tech/klingindex/internal/fetcher"
	"github.com/Klingon-tech/klingindex/internal/headerlist"
	"github.com/Klingon-tech/klingindex/internal/log"
	"github.com/Klingon-tech/klingindex/internal/rowkey"
	"github.com/Klingon-tech/klingindex/internal/store"
	"github.com/Klingon-tech/klingindex/internal/upstream"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// MaxReorgDepth bounds the backward getblockheader walk findDivergence
// performs; a walk exceeding it signals a header-chain inconsistency
// rather than a plausible reorg.
const MaxReorgDepth = 1000

// HeaderSource is the subset of upstream.Client the divergence walk needs.
type HeaderSource interface {
	GetBestBlockHash(ctx context.Context) (types.Hash, error)
	GetBlockHeader(ctx context.Context, hash types.Hash) (upstream.HeaderInfo, error)
}

// FetchFunc starts a Fetcher stream for the given headers — either
// fetcher.StartRPC or fetcher.StartBlockFile bound to a concrete source,
// chosen by whoever wires the Indexer together.
type FetchFunc func(ctx context.Context, headers []fetcher.HeaderEntry) <-chan fetcher.Result

// Config holds the Indexer's configurable knobs.
type Config struct {
	// IndexUnspendables, when true, writes funding-out and Funding
	// history rows for provably unspendable (OP_RETURN) outputs too.
	// Coinbase outputs are always indexed regardless.
	IndexUnspendables bool

	// AddressSearch, when true, additionally writes an address_search
	// row for every recognized scriptPubKey (rendered under AddressHRP),
	// letting ChainQuery resolve an address straight to its scripthash.
	AddressSearch bool

	// AddressHRP is the bech32 human-readable part addresses are
	// rendered under when AddressSearch is enabled.
	AddressHRP string

	// Workers bounds the per-phase row-construction worker pool size.
	// Defaults to runtime.NumCPU() when <= 0.
	Workers int
}

// Indexer advances the Store from its current tip to upstream's best
// hash, one RunPass at a time.
type Indexer struct {
	store   *store.Store
	headers *headerlist.List
	source  HeaderSource
	fetch   FetchFunc
	cfg     Config
}

// New builds an Indexer. headers should already reflect the Store's
// current persisted tip — see Bootstrap.
func New(st *store.Store, headers *headerlist.List, source HeaderSource, fetch FetchFunc, cfg Config) *Indexer {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Indexer{store: st, headers: headers, source: source, fetch: fetch, cfg: cfg}
}

func (idx *Indexer) workers() int { return idx.cfg.Workers }

// RunPass performs one update pass per spec.md §4.3: find the divergence
// point against upstream's current best hash, truncate the header list if
// that revealed a reorg, then run phase A (Add) and phase B (Index) over
// every newly-fetched batch before appending the new headers and writing
// the tip marker.
func (idx *Indexer) RunPass(ctx context.Context) (added int, err error) {
	best, err := idx.source.GetBestBlockHash(ctx)
	if err != nil {
		return 0, fmt.Errorf("indexer: get best block hash: %w", err)
	}

	if tip, _, ok := idx.headers.Tip(); ok && tip.Hash() == best {
		return 0, nil
	}

	newHeaders, divergenceHeight, err := idx.findDivergence(ctx, best)
	if err != nil {
		return 0, err
	}
	if len(newHeaders) == 0 {
		return 0, nil
	}

	reorg := false
	if currentTip := idx.headers.TipHeight(); divergenceHeight < currentTip {
		reorg = true
		log.Indexer.Warn().
			Int("divergence_height", divergenceHeight).
			Int("previous_tip_height", currentTip).
			Msg("reorg detected, truncating header list")
		if err := idx.store.SetReorgCheckpoint(int32(divergenceHeight)); err != nil {
			return 0, fmt.Errorf("indexer: set reorg checkpoint: %w", err)
		}
		idx.headers.Truncate(divergenceHeight)
	}

	entries := make([]fetcher.HeaderEntry, len(newHeaders))
	for i, h := range newHeaders {
		entries[i] = fetcher.HeaderEntry{Header: h, Height: uint32(divergenceHeight + 1 + i)}
	}

	for res := range idx.fetch(ctx, entries) {
		if res.Err != nil {
			return added, fmt.Errorf("indexer: fetch: %w", res.Err)
		}
		// Phase A completes for the whole batch before phase B of that
		// batch begins, per spec.md §4.3, so every prevout phase B might
		// need from this batch is already resolvable in the Store.
		if err := idx.runPhaseA(res.Batch.Blocks); err != nil {
			return added, fmt.Errorf("indexer: phase a: %w", err)
		}
		if err := idx.runPhaseB(res.Batch.Blocks); err != nil {
			return added, fmt.Errorf("indexer: phase b: %w", err)
		}
		added += len(res.Batch.Blocks)
	}

	for _, h := range newHeaders {
		if err := idx.headers.Append(h); err != nil {
			return added, fmt.Errorf("%w: append header to list: %v", errkind.Internal, err)
		}
	}
	if err := idx.store.SetTip(best); err != nil {
		return added, fmt.Errorf("indexer: set tip: %w", err)
	}
	done, err := idx.store.InitialSyncDone()
	if err != nil {
		return added, fmt.Errorf("indexer: check initial sync marker: %w", err)
	}
	if !done {
		if err := idx.store.MarkInitialSyncDone(); err != nil {
			return added, fmt.Errorf("indexer: mark initial sync done: %w", err)
		}
	}
	if reorg {
		if err := idx.store.ClearReorgCheckpoint(); err != nil {
			return added, fmt.Errorf("indexer: clear reorg checkpoint: %w", err)
		}
	}
	return added, nil
}

// findDivergence walks backwards from best via getblockheader, collecting
// headers until it reaches one already present in the header list (or
// genesis, for a from-scratch sync). Returned headers are oldest-first.
func (idx *Indexer) findDivergence(ctx context.Context, best types.Hash) (newHeaders []chainmodel.Header, divergenceHeight int, err error) {
	var collected []chainmodel.Header
	hash := best

	for depth := 0; ; depth++ {
		if depth > MaxReorgDepth {
			return nil, 0, fmt.Errorf("%w: reorg walk exceeded %d blocks without finding a common ancestor", errkind.Internal, MaxReorgDepth)
		}
		if height, ok := idx.headers.HeightOf(hash); ok {
			divergenceHeight = int(height)
			break
		}

		info, err := idx.source.GetBlockHeader(ctx, hash)
		if err != nil {
			return nil, 0, fmt.Errorf("indexer: get block header %s: %w", hash, err)
		}
		header, err := info.ToHeader()
		if err != nil {
			return nil, 0, fmt.Errorf("indexer: decode header %s: %w", hash, err)
		}
		collected = append(collected, header)

		if info.PreviousHash == "" {
			divergenceHeight = -1
			break
		}
		prevHash, err := types.HexToHash(info.PreviousHash)
		if err != nil {
			return nil, 0, fmt.Errorf("indexer: decode previousblockhash: %w", err)
		}
		hash = prevHash
	}

	newHeaders = make([]chainmodel.Header, len(collected))
	for i, h := range collected {
		newHeaders[len(collected)-1-i] = h
	}
	return newHeaders, divergenceHeight, nil
}

// isUnspendable reports whether a scriptPubKey can never become a
// prevout: an OP_RETURN output, per spec.md's index_unspendables option.
func isUnspendable(script []byte) bool {
	return len(script) > 0 && script[0] == 0x6a
}

// Bootstrap reconstructs the in-memory header list from the Store's
// persisted tip by walking Block rows backwards through each header's
// PrevHash until reaching the zero hash (genesis), restoring the exact
// state a freshly-started process needs before its first RunPass. The
// header list itself is never persisted — only block rows are — so this
// runs once at startup.
//
// A lingering reorg checkpoint means the previous process crashed between
// truncating the header list and completing re-indexing of the new
// branch. No explicit cache sweep is needed to restore correctness: every
// cache row's own `last-indexed-height` is validated against the
// reconstructed tip on next read (`cache.last > current_tip` discards it),
// so staleness is self-healing by invariant. The checkpoint is cleared
// here once observed, after logging it for operational visibility.
func Bootstrap(st *store.Store, genesisHash types.Hash) (*headerlist.List, error) {
	if height, ok, err := st.ReorgCheckpoint(); err != nil {
		return nil, fmt.Errorf("indexer: read reorg checkpoint: %w", err)
	} else if ok {
		log.Indexer.Warn().Int32("checkpoint_height", height).Msg("resuming after a crash mid-reorg; cache staleness is self-healing")
		if err := st.ClearReorgCheckpoint(); err != nil {
			return nil, fmt.Errorf("indexer: clear reorg checkpoint: %w", err)
		}
	}

	tip, err := st.Tip()
	if err != nil {
		return nil, fmt.Errorf("indexer: read tip: %w", err)
	}
	list := headerlist.NewWithGenesis(genesisHash)
	if tip.IsZero() {
		return list, nil
	}

	var chain []chainmodel.Header
	hash := tip
	for {
		raw, err := st.Get(store.TxStore, rowkey.BlockKey(hash))
		if err != nil {
			return nil, fmt.Errorf("indexer: bootstrap block row %s: %w", hash, err)
		}
		meta, err := chainmodel.DecodeBlockMeta(raw)
		if err != nil {
			return nil, fmt.Errorf("indexer: bootstrap decode block meta %s: %w", hash, err)
		}
		chain = append(chain, meta.Header)
		if meta.Header.PrevHash.IsZero() {
			break
		}
		hash = meta.Header.PrevHash
	}

	for i := len(chain) - 1; i >= 0; i-- {
		if err := list.Append(chain[i]); err != nil {
			return nil, fmt.Errorf("indexer: bootstrap append header: %w", err)
		}
	}
	return list, nil
}
