// Package storage provides low-level ordered key-value database
// abstractions: a common DB interface, a Badger-backed implementation,
// and an in-memory fake for tests.
package storage

import "errors"

// ErrNotFound is returned by Get when the key is absent. Callers that
// treat absence as a distinguished result (spec.md's NotFound error
// kind) should compare against this value with errors.Is.
var ErrNotFound = errors.New("storage: key not found")

// DB is the interface for ordered key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates in key order over all keys with the given prefix.
	// The callback receives a copy of the key; the value slice is not a
	// copy and must not be kept or modified after fn returns. Return a
	// non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	// ForEachReverse iterates in reverse key order, starting at the
	// largest key less than upperExclusive that still matches prefix.
	ForEachReverse(prefix, upperExclusive []byte, fn func(key, value []byte) error) error
	// NewBatch returns an atomic write batch.
	NewBatch() Batch
	// Sync flushes in-memory memtables to stable storage.
	Sync() error
	// Size reports the approximate on-disk size of the store in bytes,
	// for store_size_bytes metrics.
	Size() int64
	Close() error
}

// Batch accumulates writes for atomic application, the unit spec.md's
// Store.write(rows, flush_mode) commits.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	// Commit applies the batch. sync requests a durability guarantee
	// (FlushSync); without it the batch may only be guaranteed durable
	// after a later Sync() call (FlushAsync).
	Commit(sync bool) error
}
