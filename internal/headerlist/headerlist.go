// Package headerlist keeps the in-memory, contiguous best-chain header
// list the Indexer advances block by block and truncates on reorg.
// Grounded on internal/chain's sync.Mutex-guarded State/collectBranch
// shape, narrowed to just the header list itself — the rest of that
// state machine (UTXO application, undo data, supply accounting) has
// no analog in a read-only indexer and lives in internal/indexer and
// internal/store instead.
package headerlist

import (
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingindex/internal/chainmodel"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// List is a contiguous run of headers, indexed by height starting at 0
// (genesis). It is safe for concurrent use.
type List struct {
	mu          sync.RWMutex
	headers     []chainmodel.Header
	index       map[types.Hash]uint32
	genesisHash types.Hash
}

// New returns an empty header list with no genesis check: the first
// header Append'd becomes height 0 unconditionally. Used by tests that
// build synthetic chains.
func New() *List {
	return &List{index: make(map[types.Hash]uint32)}
}

// NewWithGenesis returns an empty header list that refuses to accept any
// height-0 header whose hash doesn't equal genesisHash, anchoring the
// list's contiguity invariant to the network it's configured for.
func NewWithGenesis(genesisHash types.Hash) *List {
	return &List{index: make(map[types.Hash]uint32), genesisHash: genesisHash}
}

// Len returns the number of headers held (one past the tip height, or
// 0 if empty).
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.headers)
}

// TipHeight returns the height of the last header, or -1 if empty.
func (l *List) TipHeight() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.headers) - 1
}

// Tip returns the last header and its height. ok is false if the list
// is empty.
func (l *List) Tip() (h chainmodel.Header, height uint32, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.headers) == 0 {
		return chainmodel.Header{}, 0, false
	}
	height = uint32(len(l.headers) - 1)
	return l.headers[height], height, true
}

// At returns the header at height, if present.
func (l *List) At(height uint32) (chainmodel.Header, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if int(height) >= len(l.headers) {
		return chainmodel.Header{}, false
	}
	return l.headers[height], true
}

// HeightOf returns the height of the header with the given hash, if it
// is on the list.
func (l *List) HeightOf(hash types.Hash) (uint32, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.index[hash]
	return h, ok
}

// Contains reports whether hash is on the current best chain.
func (l *List) Contains(hash types.Hash) bool {
	_, ok := l.HeightOf(hash)
	return ok
}

// Append adds a header as the new tip. It must link to the current tip
// (header.PrevHash must equal the current tip's hash), unless the list
// is empty and height 0 is being set (genesis), in which case it must
// equal the list's configured genesis hash, if any.
func (l *List) Append(header chainmodel.Header) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.headers) > 0 {
		tip := l.headers[len(l.headers)-1]
		if header.PrevHash != tip.Hash() {
			return fmt.Errorf("headerlist: append: header prev_hash %s does not link to tip %s", header.PrevHash, tip.Hash())
		}
	} else if !l.genesisHash.IsZero() && header.Hash() != l.genesisHash {
		return fmt.Errorf("headerlist: append: genesis header %s does not match configured genesis %s", header.Hash(), l.genesisHash)
	}

	height := uint32(len(l.headers))
	l.headers = append(l.headers, header)
	l.index[header.Hash()] = height
	return nil
}

// Truncate drops every header above newTipHeight, leaving newTipHeight
// as the new tip. Used to unwind a stale branch before the Indexer
// replays the winning one. Passing -1 empties the list entirely.
func (l *List) Truncate(newTipHeight int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	keep := newTipHeight + 1
	if keep < 0 {
		keep = 0
	}
	if keep >= len(l.headers) {
		return
	}
	for h := keep; h < len(l.headers); h++ {
		delete(l.index, l.headers[h].Hash())
	}
	l.headers = l.headers[:keep]
}

// FindFork walks back from a candidate chain's headers (given newest
// first, as returned by an upstream header-locator response) until it
// finds one already on this list, returning that header's height. It
// returns (0, false) if none of the candidate headers are known, which
// means the fork predates this list's earliest height.
func (l *List) FindFork(candidates []chainmodel.Header) (uint32, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, h := range candidates {
		if height, ok := l.index[h.Hash()]; ok {
			return height, true
		}
	}
	return 0, false
}

// Snapshot returns a copy of every header currently on the list, in
// ascending height order.
func (l *List) Snapshot() []chainmodel.Header {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]chainmodel.Header, len(l.headers))
	copy(out, l.headers)
	return out
}
