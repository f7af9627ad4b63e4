package thinclient

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/Klingon-tech/klingindex/internal/query"
)

// scriptHashStatus reduces a script hash's full history to a single
// status hash: clients compare statuses across subscribe notifications
// instead of re-fetching and diffing the whole history each time.
// Unconfirmed entries are height 0; mempool entries still lacking a
// fee (not expected here, Query always resolves one) would use -1, but
// Query never reports those so every entry has a concrete height.
func scriptHashStatus(entries []query.HistoryEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range entries {
		height := int64(e.Height)
		if !e.Confirmed {
			height = 0
		}
		fmt.Fprintf(&b, "%s:%d:", e.Txid, height)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum)
}
