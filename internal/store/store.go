// Package store implements the Store component: three logical, ordered
// key-value stores (txstore, history, cache) fronting a single durable
// engine each, with atomic batch writes and the scan shapes ChainQuery
// and the Indexer need.
package store

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingindex/internal/log"
	"github.com/Klingon-tech/klingindex/internal/rowkey"
	"github.com/Klingon-tech/klingindex/internal/storage"
)

// SchemaVersion is bumped whenever the on-disk row encoding changes in an
// incompatible way. VerifyCompatibility refuses to open a store written
// by a different version.
const SchemaVersion = 1

// FlushMode controls durability semantics for a Write call.
type FlushMode int

const (
	// FlushAsync commits the batch without forcing an fsync; used for the
	// bulk of indexing writes, where throughput matters more than
	// immediate durability and the tip marker is the durability boundary.
	FlushAsync FlushMode = iota
	// FlushSync forces a durable commit; used for the tip marker write
	// that ends a successful Indexer pass.
	FlushSync
)

// Row is one key-value pair destined for a specific logical store.
type Row struct {
	Store Logical
	Key   []byte
	Value []byte
}

// Logical identifies which of the three backing stores a Row belongs to.
type Logical int

const (
	TxStore Logical = iota
	History
	Cache
)

// ErrNotFound is returned by Get/MultiGet when a key is absent.
var ErrNotFound = storage.ErrNotFound

// ErrSchemaVersion is returned by VerifyCompatibility on a version mismatch.
var ErrSchemaVersion = fmt.Errorf("store: schema version mismatch")

// Store composes the three logical databases spec.md §4.1 describes.
type Store struct {
	txstore storage.DB
	history storage.DB
	cache   storage.DB
}

// New wraps three already-open storage.DB instances as a Store. Tests use
// this with storage.MemoryDB; production wiring uses storage.BadgerDB,
// one instance per `<db_path>/newindex/{txstore,history,cache}` directory.
func New(txstore, history, cache storage.DB) *Store {
	return &Store{txstore: txstore, history: history, cache: cache}
}

func (s *Store) dbFor(l Logical) storage.DB {
	switch l {
	case TxStore:
		return s.txstore
	case History:
		return s.history
	case Cache:
		return s.cache
	default:
		panic(fmt.Sprintf("store: unknown logical store %d", l))
	}
}

// Write commits rows atomically per logical store, sorting each store's
// rows by key first for on-disk locality as spec.md §4.1 requires.
// Rows spanning multiple logical stores are not cross-atomic with each
// other — each logical store gets its own batch — matching the
// "single logical writer during Indexer passes" concurrency model, where
// the tip marker write (txstore) is always the last batch of a pass.
func (s *Store) Write(rows []Row, mode FlushMode) error {
	byStore := map[Logical][]Row{}
	for _, r := range rows {
		byStore[r.Store] = append(byStore[r.Store], r)
	}

	sync := mode == FlushSync
	for logical, group := range byStore {
		sort.Slice(group, func(i, j int) bool {
			return bytes.Compare(group[i].Key, group[j].Key) < 0
		})
		db := s.dbFor(logical)
		batch := db.NewBatch()
		for _, r := range group {
			if r.Value == nil {
				batch.Delete(r.Key)
			} else {
				batch.Put(r.Key, r.Value)
			}
		}
		if err := batch.Commit(sync); err != nil {
			return fmt.Errorf("store: write to store %d: %w", logical, err)
		}
	}
	return nil
}

// Get performs a point read against one logical store.
func (s *Store) Get(l Logical, key []byte) ([]byte, error) {
	return s.dbFor(l).Get(key)
}

// MultiGet reads several keys from the same logical store, tolerating
// individual misses (returned as a nil entry) rather than failing the
// whole call — the shape lookup_txos needs for parallel prevout resolution.
func (s *Store) MultiGet(l Logical, keys [][]byte) ([][]byte, error) {
	db := s.dbFor(l)
	out := make([][]byte, len(keys))
	for i, k := range keys {
		v, err := db.Get(k)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("store: multi-get key %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Scan performs a forward prefix scan, stopping when a key no longer
// starts with prefix.
func (s *Store) Scan(l Logical, prefix []byte, fn func(key, value []byte) error) error {
	return s.dbFor(l).ForEach(prefix, fn)
}

// ScanReverse performs a reverse prefix scan over [prefix, upperExclusive).
func (s *Store) ScanReverse(l Logical, prefix, upperExclusive []byte, fn func(key, value []byte) error) error {
	return s.dbFor(l).ForEachReverse(prefix, upperExclusive, fn)
}

// Flush persists in-memory memtables for all three logical stores.
func (s *Store) Flush() error {
	for _, db := range []storage.DB{s.txstore, s.history, s.cache} {
		if err := db.Sync(); err != nil {
			return fmt.Errorf("store: flush: %w", err)
		}
	}
	return nil
}

// Sizes reports the approximate on-disk byte size of each logical
// store, keyed by name ("txstore", "history", "cache"), for
// store_size_bytes metrics.
func (s *Store) Sizes() map[string]int64 {
	return map[string]int64{
		"txstore": s.txstore.Size(),
		"history": s.history.Size(),
		"cache":   s.cache.Size(),
	}
}

// Compact is a placeholder hook for triggering a major compaction pass;
// Badger compacts automatically via NumCompactors, so this currently only
// flushes. It exists so callers (e.g. an admin command) have a single
// entry point if a future engine needs an explicit trigger.
func (s *Store) Compact() error {
	return s.Flush()
}

// VerifyCompatibility checks the schema-version row and writes it if
// absent (a brand-new store). Returns ErrSchemaVersion on mismatch.
func (s *Store) VerifyCompatibility() error {
	v, err := s.txstore.Get(rowkey.KeySchemaVersion)
	if err == storage.ErrNotFound {
		return s.txstore.Put(rowkey.KeySchemaVersion, encodeVersion(SchemaVersion))
	}
	if err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}
	got := decodeVersion(v)
	if got != SchemaVersion {
		log.Store.Error().Int("on_disk_version", got).Int("expected_version", SchemaVersion).Msg("schema version mismatch")
		return fmt.Errorf("%w: on-disk version %d, expected %d", ErrSchemaVersion, got, SchemaVersion)
	}
	return nil
}

func encodeVersion(v int) []byte {
	return []byte{byte(v)}
}

func decodeVersion(b []byte) int {
	if len(b) == 0 {
		return -1
	}
	return int(b[0])
}
