package chainquery

import (
	"fmt"

	"github.com/Klingon-tech/klingindex/internal/errkind"
	"github.com/Klingon-tech/klingindex/internal/rowkey"
	"github.com/Klingon-tech/klingindex/internal/store"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// ResolveAddress looks up the scripthash a rendered address maps to, via
// the address_search index phase B writes when indexer.Config.AddressSearch
// is enabled. Returns errkind.NotFound if no funding output ever rendered
// to this address (or address_search was never enabled).
func (q *ChainQuery) ResolveAddress(addr string) (types.Hash, error) {
	raw, err := q.store.Get(store.Cache, rowkey.AddressKey(rowkey.AddressHash(addr)))
	if err == store.ErrNotFound {
		return types.Hash{}, fmt.Errorf("chainquery: resolve address %s: %w", addr, errkind.NotFound)
	}
	if err != nil {
		return types.Hash{}, fmt.Errorf("chainquery: resolve address %s: %w", addr, err)
	}
	if len(raw) != len(types.Hash{}) {
		return types.Hash{}, fmt.Errorf("%w: malformed address index value for %s (len=%d)", errkind.Internal, addr, len(raw))
	}
	var scriptHash types.Hash
	copy(scriptHash[:], raw)
	return scriptHash, nil
}
