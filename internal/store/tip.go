package store

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingindex/internal/rowkey"
	"github.com/Klingon-tech/klingindex/internal/storage"
	"github.com/Klingon-tech/klingindex/pkg/types"
)

// Tip returns the currently indexed tip hash, or the zero hash if no
// block has ever been indexed (a fresh store).
func (s *Store) Tip() (types.Hash, error) {
	v, err := s.txstore.Get(rowkey.KeyTip)
	if err == storage.ErrNotFound {
		return types.Hash{}, nil
	}
	if err != nil {
		return types.Hash{}, err
	}
	var h types.Hash
	copy(h[:], v)
	return h, nil
}

// SetTip writes the tip marker. Per spec.md §3/§4.3 this must be the last
// write of a successful Indexer pass and uses FlushSync.
func (s *Store) SetTip(hash types.Hash) error {
	return s.Write([]Row{{Store: TxStore, Key: rowkey.KeyTip, Value: hash[:]}}, FlushSync)
}

// InitialSyncDone reports whether history indexing has ever caught up to
// the upstream tip once.
func (s *Store) InitialSyncDone() (bool, error) {
	v, err := s.txstore.Get(rowkey.KeyInitialSync)
	if err == storage.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(v) > 0 && v[0] != 0, nil
}

// MarkInitialSyncDone sets the done-initial-sync marker. Idempotent.
func (s *Store) MarkInitialSyncDone() error {
	return s.Write([]Row{{Store: TxStore, Key: rowkey.KeyInitialSync, Value: []byte{1}}}, FlushAsync)
}

// SetReorgCheckpoint records the height the header list is about to be
// truncated to, written with Sync flush before a reorg pass mutates the
// header list, so a crash mid-reorg is detectable on restart.
func (s *Store) SetReorgCheckpoint(height int32) error {
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], uint32(height))
	return s.Write([]Row{{Store: TxStore, Key: rowkey.KeyReorgCheckpoint, Value: v[:]}}, FlushSync)
}

// ReorgCheckpoint returns the pending checkpoint height and whether one is
// set. Its presence after a restart means the previous process crashed
// between truncating the header list and completing re-indexing.
func (s *Store) ReorgCheckpoint() (height int32, ok bool, err error) {
	v, err := s.txstore.Get(rowkey.KeyReorgCheckpoint)
	if err == storage.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return int32(binary.BigEndian.Uint32(v)), true, nil
}

// ClearReorgCheckpoint removes the checkpoint marker once the reorg pass
// (truncation, re-indexing, new tip write) has completed successfully.
func (s *Store) ClearReorgCheckpoint() error {
	return s.Write([]Row{{Store: TxStore, Key: rowkey.KeyReorgCheckpoint, Value: nil}}, FlushSync)
}
