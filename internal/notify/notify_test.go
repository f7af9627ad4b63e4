package notify

import (
	"testing"

	"github.com/Klingon-tech/klingindex/pkg/types"
)

func TestDecodeHashblock_WrongLength(t *testing.T) {
	if _, ok := decodeHashblock([]byte{1, 2, 3}); ok {
		t.Fatalf("expected a non-32-byte frame to be rejected")
	}
}

func TestDecodeHashblock_ReversesByteOrder(t *testing.T) {
	frame := make([]byte, types.HashSize)
	for i := range frame {
		frame[i] = byte(i)
	}
	hash, ok := decodeHashblock(frame)
	if !ok {
		t.Fatalf("expected a 32-byte frame to decode")
	}
	for i := 0; i < types.HashSize; i++ {
		if hash[i] != frame[types.HashSize-1-i] {
			t.Fatalf("byte %d: got %d, want %d (reversed)", i, hash[i], frame[types.HashSize-1-i])
		}
	}
}
