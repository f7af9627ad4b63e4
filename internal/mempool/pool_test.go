package mempool

import (
	"context"
	"testing"

	"github.com/Klingon-tech/klingindex/internal/chainmodel"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

type fakeUpstream struct {
	mempool   []types.Hash
	txs       map[types.Hash]*chainmodel.Transaction
	tip       types.Hash
	tipChange bool // flip tip on second GetBestBlockHash call
	tipCalls  int
}

func (f *fakeUpstream) GetRawMempool(ctx context.Context) ([]types.Hash, error) {
	return f.mempool, nil
}

func (f *fakeUpstream) GetRawTransaction(ctx context.Context, txid types.Hash) (*chainmodel.Transaction, error) {
	tx, ok := f.txs[txid]
	if !ok {
		return nil, errNotFoundTest{}
	}
	return tx, nil
}

func (f *fakeUpstream) GetBestBlockHash(ctx context.Context) (types.Hash, error) {
	f.tipCalls++
	if f.tipChange && f.tipCalls == 2 {
		return types.Hash{0x99}, nil
	}
	return f.tip, nil
}

type errNotFoundTest struct{}

func (errNotFoundTest) Error() string { return "not found" }

type fakeResolver struct {
	utxos map[types.Outpoint]struct {
		scriptHash types.Hash
		amount     int64
	}
}

func (r *fakeResolver) LookupTXO(op types.Outpoint) (types.Hash, int64, bool, error) {
	e, ok := r.utxos[op]
	if !ok {
		return types.Hash{}, 0, false, nil
	}
	return e.scriptHash, e.amount, true, nil
}

func hashByte(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func scriptOf(script []byte) types.Hash {
	var h types.Hash
	if len(script) > 0 {
		h[0] = script[0]
	}
	return h
}

func TestPool_Sync_InsertsNewTransaction(t *testing.T) {
	txid := hashByte(1)
	fundingOutpoint := types.Outpoint{TxID: hashByte(2), Index: 0}

	tx := &chainmodel.Transaction{
		Version: 1,
		Inputs:  []chainmodel.TxInput{{PrevOut: fundingOutpoint, Sequence: 0xffffffff}},
		Outputs: []chainmodel.TxOutput{{Value: 90, Script: []byte{0x51}}},
	}

	up := &fakeUpstream{
		mempool: []types.Hash{txid},
		txs:     map[types.Hash]*chainmodel.Transaction{txid: tx},
		tip:     hashByte(0xaa),
	}
	resolver := &fakeResolver{utxos: map[types.Outpoint]struct {
		scriptHash types.Hash
		amount     int64
	}{
		fundingOutpoint: {scriptHash: hashByte(0x10), amount: 100},
	}}

	p := New(up, resolver, scriptOf)
	added, err := p.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1", added)
	}
	if p.Size() != 1 {
		t.Fatalf("Size = %d, want 1", p.Size())
	}

	gotTx, fee, ok := p.Lookup(txid)
	if !ok {
		t.Fatal("Lookup: not found")
	}
	if gotTx != tx {
		t.Error("Lookup returned different tx pointer")
	}
	if fee.Fee != 10 {
		t.Errorf("fee = %d, want 10", fee.Fee)
	}

	edge, ok := p.LookupSpend(fundingOutpoint)
	if !ok || edge.SpendingTxid != txid {
		t.Error("LookupSpend did not record the spend edge")
	}

	fundedOutpoint := types.Outpoint{TxID: txid, Index: 0}
	hist := p.History(scriptOf([]byte{0x51}))
	found := false
	for _, e := range hist {
		if e.Outpoint == fundedOutpoint {
			found = true
		}
	}
	if !found {
		t.Error("History did not record the new output")
	}

	stats := p.BacklogStats()
	if stats.Count != 1 {
		t.Errorf("BacklogStats.Count = %d, want 1", stats.Count)
	}
}

func TestPool_Sync_EvictsMissing(t *testing.T) {
	txid := hashByte(1)
	tx := &chainmodel.Transaction{
		Version: 1,
		Inputs:  []chainmodel.TxInput{{PrevOut: types.Outpoint{TxID: hashByte(5), Index: 0}}},
		Outputs: []chainmodel.TxOutput{{Value: 100, Script: []byte{0x51}}},
	}
	resolver := &fakeResolver{utxos: map[types.Outpoint]struct {
		scriptHash types.Hash
		amount     int64
	}{
		{TxID: hashByte(5), Index: 0}: {scriptHash: hashByte(9), amount: 100},
	}}

	up := &fakeUpstream{
		mempool: []types.Hash{txid},
		txs:     map[types.Hash]*chainmodel.Transaction{txid: tx},
		tip:     hashByte(0xaa),
	}
	p := New(up, resolver, scriptOf)
	if _, err := p.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !p.Has(txid) {
		t.Fatal("expected tx to be present after first sync")
	}

	up.mempool = nil
	if _, err := p.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if p.Has(txid) {
		t.Error("expected tx to be evicted once absent from upstream mempool")
	}
	if p.Size() != 0 {
		t.Errorf("Size = %d, want 0 after eviction", p.Size())
	}
}

func TestPool_Sync_AbortsOnTipChange(t *testing.T) {
	txid := hashByte(1)
	tx := &chainmodel.Transaction{
		Version: 1,
		Inputs:  []chainmodel.TxInput{{PrevOut: types.Outpoint{TxID: hashByte(5), Index: 0}}},
		Outputs: []chainmodel.TxOutput{{Value: 100, Script: []byte{0x51}}},
	}
	resolver := &fakeResolver{utxos: map[types.Outpoint]struct {
		scriptHash types.Hash
		amount     int64
	}{
		{TxID: hashByte(5), Index: 0}: {scriptHash: hashByte(9), amount: 100},
	}}
	up := &fakeUpstream{
		mempool:   []types.Hash{txid},
		txs:       map[types.Hash]*chainmodel.Transaction{txid: tx},
		tip:       hashByte(0xaa),
		tipChange: true,
	}
	p := New(up, resolver, scriptOf)
	added, err := p.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if added != 0 {
		t.Errorf("added = %d, want 0 when tip moved mid-sync", added)
	}
	if p.Has(txid) {
		t.Error("tx should not be committed when tip moved mid-sync")
	}
}

func TestPool_AddSingle(t *testing.T) {
	txid := hashByte(1)
	tx := &chainmodel.Transaction{
		Version: 1,
		Inputs:  []chainmodel.TxInput{{PrevOut: types.Outpoint{TxID: hashByte(5), Index: 0}}},
		Outputs: []chainmodel.TxOutput{{Value: 100, Script: []byte{0x51}}},
	}
	resolver := &fakeResolver{utxos: map[types.Outpoint]struct {
		scriptHash types.Hash
		amount     int64
	}{
		{TxID: hashByte(5), Index: 0}: {scriptHash: hashByte(9), amount: 150},
	}}
	up := &fakeUpstream{txs: map[types.Hash]*chainmodel.Transaction{txid: tx}}
	p := New(up, resolver, scriptOf)

	if err := p.AddSingle(context.Background(), txid); err != nil {
		t.Fatalf("AddSingle: %v", err)
	}
	if !p.Has(txid) {
		t.Fatal("expected tx to be present after AddSingle")
	}
	_, fee, _ := p.Lookup(txid)
	if fee.Fee != 50 {
		t.Errorf("fee = %d, want 50", fee.Fee)
	}
}

func TestPool_Recent_MostRecentFirst(t *testing.T) {
	resolver := &fakeResolver{utxos: map[types.Outpoint]struct {
		scriptHash types.Hash
		amount     int64
	}{}}
	up := &fakeUpstream{txs: map[types.Hash]*chainmodel.Transaction{}}
	p := New(up, resolver, scriptOf)

	for i := byte(1); i <= 3; i++ {
		txid := hashByte(i)
		tx := &chainmodel.Transaction{
			Version: 1,
			Inputs:  []chainmodel.TxInput{{PrevOut: types.Outpoint{TxID: types.Hash{}, Index: 0xffffffff}}},
			Outputs: []chainmodel.TxOutput{{Value: 1, Script: []byte{i}}},
		}
		up.txs[txid] = tx
		if err := p.AddSingle(context.Background(), txid); err != nil {
			t.Fatalf("AddSingle(%d): %v", i, err)
		}
	}

	recent := p.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
	if recent[0].Txid != hashByte(3) {
		t.Errorf("recent[0] = %v, want tx 3 (most recent first)", recent[0].Txid)
	}
}
