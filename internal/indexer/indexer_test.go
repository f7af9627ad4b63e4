package indexer

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/Klingon-tech/klingindex/internal/chainmodel"
	"github.com/Klingon-tech/klingindex/internal/fetcher"
	"github.com/Klingon-tech/klingindex/internal/headerlist"
	"github.com/Klingon-tech/klingindex/internal/rowkey"
	"github.com/Klingon-tech/klingindex/internal/storage"
	"github.com/Klingon-tech/klingindex/internal/store"
	"github.com/Klingon-tech/klingindex/internal/upstream"
	"github.com/Klingon-tech/klingindex/pkg/address"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

func newTestStore() *store.Store {
	return store.New(storage.NewMemory(), storage.NewMemory(), storage.NewMemory())
}

func headerInfoFor(h chainmodel.Header, height uint32) upstream.HeaderInfo {
	var prev string
	if !h.PrevHash.IsZero() {
		prev = h.PrevHash.String()
	}
	return upstream.HeaderInfo{
		Hash:         h.Hash().String(),
		PreviousHash: prev,
		Height:       height,
		Version:      h.Version,
		MerkleRoot:   h.MerkleRoot.String(),
		Time:         h.Timestamp,
		Bits:         fmt.Sprintf("%08x", h.Bits),
		Nonce:        h.Nonce,
	}
}

type fakeHeaderSource struct {
	best  types.Hash
	infos map[types.Hash]upstream.HeaderInfo
}

func (f *fakeHeaderSource) GetBestBlockHash(ctx context.Context) (types.Hash, error) {
	return f.best, nil
}

func (f *fakeHeaderSource) GetBlockHeader(ctx context.Context, hash types.Hash) (upstream.HeaderInfo, error) {
	info, ok := f.infos[hash]
	if !ok {
		return upstream.HeaderInfo{}, fmt.Errorf("fake source: unknown header %s", hash)
	}
	return info, nil
}

// fetchFromMap builds a FetchFunc that serves blocks out of an in-memory
// map, delivering every requested header in one batch.
func fetchFromMap(blocks map[types.Hash]*chainmodel.Block) FetchFunc {
	return func(ctx context.Context, headers []fetcher.HeaderEntry) <-chan fetcher.Result {
		out := make(chan fetcher.Result, 1)
		fbs := make([]fetcher.FetchedBlock, len(headers))
		for i, h := range headers {
			blk := blocks[h.Hash()]
			fbs[i] = fetcher.FetchedBlock{Block: blk, Header: h, Size: len(blk.Bytes())}
		}
		out <- fetcher.Result{Batch: fetcher.BlockBatch{Blocks: fbs}}
		close(out)
		return out
	}
}

var (
	scriptA = []byte{0x51}
	scriptB = []byte{0x52}
	scriptC = []byte{0x53}
)

func coinbaseTx(value int64, script []byte, nonceByte byte) *chainmodel.Transaction {
	return &chainmodel.Transaction{
		Version: 1,
		Inputs:  []chainmodel.TxInput{{PrevOut: types.Outpoint{Index: 0xffffffff}, Script: []byte{nonceByte}}},
		Outputs: []chainmodel.TxOutput{{Value: value, Script: script}},
	}
}

func spendTx(prevTxid types.Hash, prevVout uint32, value int64, script []byte) *chainmodel.Transaction {
	return &chainmodel.Transaction{
		Version: 1,
		Inputs:  []chainmodel.TxInput{{PrevOut: types.Outpoint{TxID: prevTxid, Index: prevVout}}},
		Outputs: []chainmodel.TxOutput{{Value: value, Script: script}},
	}
}

// buildChain returns a 2-block test chain: genesis (one coinbase funding
// scriptA) and block1 (a coinbase plus a tx spending genesis's coinbase
// output into scriptB).
func buildChain() (genesis, block1 *chainmodel.Block) {
	genesis = &chainmodel.Block{
		Header: chainmodel.Header{Version: 1, Timestamp: 1, Bits: 0x1d00ffff, Nonce: 1},
		Txs:    []*chainmodel.Transaction{coinbaseTx(5000, scriptA, 0x00)},
	}
	genesisCoinbaseTxid := genesis.Txs[0].Txid()

	block1 = &chainmodel.Block{
		Header: chainmodel.Header{Version: 1, PrevHash: genesis.Hash(), Timestamp: 2, Bits: 0x1d00ffff, Nonce: 1},
		Txs: []*chainmodel.Transaction{
			coinbaseTx(25, scriptA, 0x01),
			spendTx(genesisCoinbaseTxid, 0, 4000, scriptB),
		},
	}
	return genesis, block1
}

func newIndexerOver(st *store.Store, source HeaderSource, fetch FetchFunc) (*Indexer, *headerlist.List) {
	headers := headerlist.New()
	return New(st, headers, source, fetch, Config{}), headers
}

func TestIndexer_RunPass_AddsAndIndexesBlocks(t *testing.T) {
	st := newTestStore()
	genesis, block1 := buildChain()

	source := &fakeHeaderSource{
		best: block1.Hash(),
		infos: map[types.Hash]upstream.HeaderInfo{
			genesis.Hash(): headerInfoFor(genesis.Header, 0),
			block1.Hash():  headerInfoFor(block1.Header, 1),
		},
	}
	fetch := fetchFromMap(map[types.Hash]*chainmodel.Block{
		genesis.Hash(): genesis,
		block1.Hash():  block1,
	})
	idx, headers := newIndexerOver(st, source, fetch)

	added, err := idx.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}

	if headers.TipHeight() != 1 {
		t.Fatalf("TipHeight = %d, want 1", headers.TipHeight())
	}
	tip, _, ok := headers.Tip()
	if !ok || tip.Hash() != block1.Hash() {
		t.Fatalf("header list tip mismatch")
	}

	tipHash, err := st.Tip()
	if err != nil || tipHash != block1.Hash() {
		t.Fatalf("store tip = %v, err = %v, want %s", tipHash, err, block1.Hash())
	}
	done, err := st.InitialSyncDone()
	if err != nil || !done {
		t.Fatalf("InitialSyncDone = %v, err = %v", done, err)
	}

	for _, h := range []types.Hash{genesis.Hash(), block1.Hash()} {
		if _, err := st.Get(store.TxStore, rowkey.BlockKey(h)); err != nil {
			t.Errorf("missing block row for %s: %v", h, err)
		}
		if _, err := st.Get(store.TxStore, rowkey.IndexedKey(h)); err != nil {
			t.Errorf("missing indexed marker for %s: %v", h, err)
		}
	}

	scriptAHash := rowkey.ScriptHash(scriptA)
	var fundingCount int
	if err := st.Scan(store.History, rowkey.HistoryScriptPrefix(scriptAHash), func(key, value []byte) error {
		fundingCount++
		return nil
	}); err != nil {
		t.Fatalf("scan scriptA history: %v", err)
	}
	if fundingCount != 3 { // genesis coinbase funding, block1 coinbase funding, genesis output spent
		t.Errorf("scriptA history rows = %d, want 3", fundingCount)
	}

	scriptBHash := rowkey.ScriptHash(scriptB)
	var scriptBCount int
	if err := st.Scan(store.History, rowkey.HistoryScriptPrefix(scriptBHash), func(key, value []byte) error {
		scriptBCount++
		return nil
	}); err != nil {
		t.Fatalf("scan scriptB history: %v", err)
	}
	if scriptBCount != 1 {
		t.Errorf("scriptB history rows = %d, want 1", scriptBCount)
	}
}

func TestIndexer_RunPass_NoOpAtTip(t *testing.T) {
	st := newTestStore()
	genesis, block1 := buildChain()
	source := &fakeHeaderSource{
		best: block1.Hash(),
		infos: map[types.Hash]upstream.HeaderInfo{
			genesis.Hash(): headerInfoFor(genesis.Header, 0),
			block1.Hash():  headerInfoFor(block1.Header, 1),
		},
	}
	fetch := fetchFromMap(map[types.Hash]*chainmodel.Block{
		genesis.Hash(): genesis,
		block1.Hash():  block1,
	})
	idx, _ := newIndexerOver(st, source, fetch)

	if _, err := idx.RunPass(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	added, err := idx.RunPass(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if added != 0 {
		t.Fatalf("second pass added = %d, want 0", added)
	}
}

func TestIndexer_RunPass_ResumesAfterCrashBetweenPhases(t *testing.T) {
	st := newTestStore()
	genesis, block1 := buildChain()

	// Simulate a crash after phase A of block1 but before phase B: write
	// only the rows phase A would have written.
	rows := buildPhaseARows(genesis, false)
	rows = append(rows, buildPhaseARows(block1, false)...)
	if err := st.Write(rows, store.FlushAsync); err != nil {
		t.Fatalf("seed phase-A rows: %v", err)
	}

	source := &fakeHeaderSource{
		best: block1.Hash(),
		infos: map[types.Hash]upstream.HeaderInfo{
			genesis.Hash(): headerInfoFor(genesis.Header, 0),
			block1.Hash():  headerInfoFor(block1.Header, 1),
		},
	}
	fetch := fetchFromMap(map[types.Hash]*chainmodel.Block{
		genesis.Hash(): genesis,
		block1.Hash():  block1,
	})
	idx, headers := newIndexerOver(st, source, fetch)

	added, err := idx.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if added != 2 {
		t.Fatalf("added = %d, want 2 (phase B still runs for both blocks)", added)
	}
	if headers.TipHeight() != 1 {
		t.Fatalf("TipHeight = %d, want 1", headers.TipHeight())
	}
	if _, err := st.Get(store.TxStore, rowkey.IndexedKey(block1.Hash())); err != nil {
		t.Errorf("block1 should be indexed after resumed pass: %v", err)
	}
}

func TestIndexer_RunPass_Reorg(t *testing.T) {
	st := newTestStore()
	genesis, block1 := buildChain()

	source := &fakeHeaderSource{
		best: block1.Hash(),
		infos: map[types.Hash]upstream.HeaderInfo{
			genesis.Hash(): headerInfoFor(genesis.Header, 0),
			block1.Hash():  headerInfoFor(block1.Header, 1),
		},
	}
	fetch := fetchFromMap(map[types.Hash]*chainmodel.Block{
		genesis.Hash(): genesis,
		block1.Hash():  block1,
	})
	idx, headers := newIndexerOver(st, source, fetch)
	if _, err := idx.RunPass(context.Background()); err != nil {
		t.Fatalf("initial pass: %v", err)
	}

	// Present an alternative block1 at the same height, spending the same
	// genesis output into a different script.
	genesisCoinbaseTxid := genesis.Txs[0].Txid()
	block1Alt := &chainmodel.Block{
		Header: chainmodel.Header{Version: 1, PrevHash: genesis.Hash(), Timestamp: 3, Bits: 0x1d00ffff, Nonce: 99},
		Txs: []*chainmodel.Transaction{
			coinbaseTx(25, scriptA, 0x02),
			spendTx(genesisCoinbaseTxid, 0, 3000, scriptC),
		},
	}

	source.best = block1Alt.Hash()
	source.infos[block1Alt.Hash()] = headerInfoFor(block1Alt.Header, 1)
	idx.fetch = fetchFromMap(map[types.Hash]*chainmodel.Block{
		genesis.Hash():   genesis,
		block1Alt.Hash(): block1Alt,
	})

	added, err := idx.RunPass(context.Background())
	if err != nil {
		t.Fatalf("reorg pass: %v", err)
	}
	if added != 1 {
		t.Fatalf("reorg pass added = %d, want 1 (only the new block)", added)
	}

	if headers.TipHeight() != 1 {
		t.Fatalf("TipHeight = %d, want 1", headers.TipHeight())
	}
	tip, _, _ := headers.Tip()
	if tip.Hash() != block1Alt.Hash() {
		t.Fatalf("tip after reorg = %s, want %s", tip.Hash(), block1Alt.Hash())
	}

	// The orphaned block1's rows are left in place, not deleted.
	if _, err := st.Get(store.TxStore, rowkey.BlockKey(block1.Hash())); err != nil {
		t.Errorf("orphaned block1 row should remain: %v", err)
	}

	scriptCHash := rowkey.ScriptHash(scriptC)
	var scriptCCount int
	if err := st.Scan(store.History, rowkey.HistoryScriptPrefix(scriptCHash), func(key, value []byte) error {
		scriptCCount++
		return nil
	}); err != nil {
		t.Fatalf("scan scriptC history: %v", err)
	}
	if scriptCCount != 1 {
		t.Errorf("scriptC history rows = %d, want 1", scriptCCount)
	}
}

func TestBootstrap_ReconstructsHeaderListFromStore(t *testing.T) {
	st := newTestStore()
	genesis, block1 := buildChain()

	source := &fakeHeaderSource{
		best: block1.Hash(),
		infos: map[types.Hash]upstream.HeaderInfo{
			genesis.Hash(): headerInfoFor(genesis.Header, 0),
			block1.Hash():  headerInfoFor(block1.Header, 1),
		},
	}
	fetch := fetchFromMap(map[types.Hash]*chainmodel.Block{
		genesis.Hash(): genesis,
		block1.Hash():  block1,
	})
	idx, _ := newIndexerOver(st, source, fetch)
	if _, err := idx.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	rebuilt, err := Bootstrap(st, types.Hash{})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if rebuilt.TipHeight() != 1 {
		t.Fatalf("bootstrapped TipHeight = %d, want 1", rebuilt.TipHeight())
	}
	tip, _, ok := rebuilt.Tip()
	if !ok || tip.Hash() != block1.Hash() {
		t.Fatalf("bootstrapped tip mismatch")
	}
	if !rebuilt.Contains(genesis.Hash()) {
		t.Errorf("bootstrapped list should contain genesis")
	}
}

func TestBootstrap_EmptyStore(t *testing.T) {
	st := newTestStore()
	list, err := Bootstrap(st, types.Hash{})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if list.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", list.Len())
	}
}

func TestIndexer_RunPass_AddressSearch(t *testing.T) {
	st := newTestStore()

	witnessScript := append([]byte{0x00, 0x14}, bytes.Repeat([]byte{0xab}, 20)...)
	addr, ok := address.ScriptToAddress(witnessScript, "kgx")
	if !ok {
		t.Fatalf("test fixture script should classify as P2WPKH")
	}

	genesis := &chainmodel.Block{
		Header: chainmodel.Header{Version: 1, Timestamp: 1, Bits: 0x1d00ffff, Nonce: 1},
		Txs:    []*chainmodel.Transaction{coinbaseTx(5000, witnessScript, 0x00)},
	}

	source := &fakeHeaderSource{
		best: genesis.Hash(),
		infos: map[types.Hash]upstream.HeaderInfo{
			genesis.Hash(): headerInfoFor(genesis.Header, 0),
		},
	}
	fetch := fetchFromMap(map[types.Hash]*chainmodel.Block{genesis.Hash(): genesis})
	headers := headerlist.New()
	idx := New(st, headers, source, fetch, Config{AddressSearch: true, AddressHRP: "kgx"})

	if _, err := idx.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	raw, err := st.Get(store.Cache, rowkey.AddressKey(rowkey.AddressHash(addr)))
	if err != nil {
		t.Fatalf("address index row missing for %s: %v", addr, err)
	}
	want := rowkey.ScriptHash(witnessScript)
	if !bytes.Equal(raw, want[:]) {
		t.Errorf("address index value = %x, want %x", raw, want)
	}
}

func TestIndexer_RunPass_AddressSearchDisabled(t *testing.T) {
	st := newTestStore()

	witnessScript := append([]byte{0x00, 0x14}, bytes.Repeat([]byte{0xcd}, 20)...)
	addr, ok := address.ScriptToAddress(witnessScript, "kgx")
	if !ok {
		t.Fatalf("test fixture script should classify as P2WPKH")
	}

	genesis := &chainmodel.Block{
		Header: chainmodel.Header{Version: 1, Timestamp: 1, Bits: 0x1d00ffff, Nonce: 1},
		Txs:    []*chainmodel.Transaction{coinbaseTx(5000, witnessScript, 0x00)},
	}

	source := &fakeHeaderSource{
		best: genesis.Hash(),
		infos: map[types.Hash]upstream.HeaderInfo{
			genesis.Hash(): headerInfoFor(genesis.Header, 0),
		},
	}
	fetch := fetchFromMap(map[types.Hash]*chainmodel.Block{genesis.Hash(): genesis})
	idx, _ := newIndexerOver(st, source, fetch)

	if _, err := idx.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if _, err := st.Get(store.Cache, rowkey.AddressKey(rowkey.AddressHash(addr))); err != store.ErrNotFound {
		t.Errorf("address index row should be absent when AddressSearch is off, got err=%v", err)
	}
}
