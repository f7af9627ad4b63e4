package headerlist

import (
	"testing"

	"github.com/Klingon-tech/klingindex/internal/chainmodel"
)

func chainOf(n int) []chainmodel.Header {
	headers := make([]chainmodel.Header, n)
	var prev chainmodel.Header
	for i := 0; i < n; i++ {
		h := chainmodel.Header{Version: 1, Timestamp: uint32(1000 + i), Bits: 0x1d00ffff, Nonce: uint32(i)}
		if i > 0 {
			h.PrevHash = prev.Hash()
		}
		headers[i] = h
		prev = h
	}
	return headers
}

func TestList_AppendAndTip(t *testing.T) {
	l := New()
	for _, h := range chainOf(3) {
		if err := l.Append(h); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if l.Len() != 3 {
		t.Fatalf("Len = %d, want 3", l.Len())
	}
	tip, height, ok := l.Tip()
	if !ok || height != 2 {
		t.Fatalf("Tip height = %d, want 2", height)
	}
	want := chainOf(3)[2]
	if tip.Hash() != want.Hash() {
		t.Error("Tip returned wrong header")
	}
}

func TestList_Append_RejectsNonLinking(t *testing.T) {
	l := New()
	headers := chainOf(2)
	if err := l.Append(headers[0]); err != nil {
		t.Fatalf("Append genesis: %v", err)
	}
	bad := chainmodel.Header{Version: 2, Timestamp: 5000}
	if err := l.Append(bad); err == nil {
		t.Fatal("expected error appending a header that does not link to tip")
	}
}

func TestList_NewWithGenesis_RejectsWrongGenesis(t *testing.T) {
	headers := chainOf(1)
	wrongGenesis := chainmodel.Header{Version: 9, Timestamp: 1}
	l := NewWithGenesis(wrongGenesis.Hash())
	if err := l.Append(headers[0]); err == nil {
		t.Fatal("expected error appending a genesis header that doesn't match the configured genesis hash")
	}
}

func TestList_NewWithGenesis_AcceptsMatchingGenesis(t *testing.T) {
	headers := chainOf(1)
	l := NewWithGenesis(headers[0].Hash())
	if err := l.Append(headers[0]); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
}

func TestList_At_HeightOf_Contains(t *testing.T) {
	l := New()
	headers := chainOf(5)
	for _, h := range headers {
		if err := l.Append(h); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, ok := l.At(2)
	if !ok || got.Hash() != headers[2].Hash() {
		t.Fatal("At(2) mismatch")
	}
	height, ok := l.HeightOf(headers[3].Hash())
	if !ok || height != 3 {
		t.Fatalf("HeightOf = %d, want 3", height)
	}
	if !l.Contains(headers[0].Hash()) {
		t.Error("Contains should report true for genesis")
	}
	var unknown chainmodel.Header
	unknown.Nonce = 999999
	if l.Contains(unknown.Hash()) {
		t.Error("Contains should report false for unknown header")
	}
}

func TestList_Truncate(t *testing.T) {
	l := New()
	headers := chainOf(5)
	for _, h := range headers {
		if err := l.Append(h); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	l.Truncate(2)
	if l.Len() != 3 {
		t.Fatalf("Len after truncate = %d, want 3", l.Len())
	}
	if l.Contains(headers[3].Hash()) {
		t.Error("header above truncation point should no longer be tracked")
	}
	if !l.Contains(headers[2].Hash()) {
		t.Error("header at truncation point should still be tracked")
	}

	l.Truncate(-1)
	if l.Len() != 0 {
		t.Fatalf("Len after full truncate = %d, want 0", l.Len())
	}
}

func TestList_FindFork(t *testing.T) {
	l := New()
	headers := chainOf(4)
	for _, h := range headers {
		if err := l.Append(h); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	candidates := []chainmodel.Header{
		{Version: 9, Timestamp: 12345}, // unknown
		headers[2],
		headers[1],
	}
	height, ok := l.FindFork(candidates)
	if !ok || height != 2 {
		t.Fatalf("FindFork = (%d, %v), want (2, true)", height, ok)
	}

	_, ok = l.FindFork([]chainmodel.Header{{Version: 9, Timestamp: 12345}})
	if ok {
		t.Fatal("FindFork should fail when no candidate is known")
	}
}

func TestList_Snapshot(t *testing.T) {
	l := New()
	headers := chainOf(3)
	for _, h := range headers {
		if err := l.Append(h); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	snap := l.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len(snap) = %d, want 3", len(snap))
	}
	snap[0].Nonce = 111
	if h, _ := l.At(0); h.Nonce == 111 {
		t.Error("Snapshot should return a copy, not share storage")
	}
}
