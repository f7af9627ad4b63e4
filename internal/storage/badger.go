package storage

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Compression selects the block-compression algorithm for a BadgerDB.
type Compression int

const (
	CompressionOff Compression = iota
	CompressionFast
)

// Config mirrors spec.md §4.1's recognized Store configuration knobs,
// mapped onto the nearest Badger Options field.
type Config struct {
	CreateIfMissing  bool
	WriteBufferBytes int64 // -> Options.MemTableSize
	TargetSSTBytes   int64 // -> Options.BaseTableSize
	Compression      Compression
	Parallelism      int // -> Options.NumCompactors

	// DisableAutoCompactionsDuringSync, when true, starts the database
	// with compaction paused (NumCompactors=0); call
	// BadgerDB.ResumeCompactions once initial sync completes. Badger has
	// no direct "pause/resume auto-compaction" toggle like the RocksDB
	// knob this config option is modeled on, so this is approximated by
	// swinging NumCompactors between 0 and Parallelism (see DESIGN.md).
	DisableAutoCompactionsDuringSync bool
}

// DefaultConfig returns reasonable defaults for production use.
func DefaultConfig() Config {
	return Config{
		CreateIfMissing:  true,
		WriteBufferBytes: 64 << 20,
		TargetSSTBytes:   64 << 20,
		Compression:      CompressionFast,
		Parallelism:      4,
	}
}

// BadgerDB implements DB using Badger.
type BadgerDB struct {
	db  *badger.DB
	cfg Config
}

// NewBadger opens a Badger database at path with the given configuration.
func NewBadger(path string, cfg Config) (*BadgerDB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable badger's built-in logging; klingindex logs via internal/log instead.

	if cfg.WriteBufferBytes > 0 {
		opts = opts.WithMemTableSize(cfg.WriteBufferBytes)
	}
	if cfg.TargetSSTBytes > 0 {
		opts = opts.WithBaseTableSize(cfg.TargetSSTBytes)
	}
	switch cfg.Compression {
	case CompressionFast:
		opts = opts.WithCompression(options.Snappy)
	default:
		opts = opts.WithCompression(options.None)
	}

	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	if cfg.DisableAutoCompactionsDuringSync {
		opts = opts.WithNumCompactors(0)
	} else {
		opts = opts.WithNumCompactors(parallelism)
	}

	db, err := badger.Open(opts)
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "Cannot acquire directory lock") ||
			strings.Contains(errMsg, "resource temporarily unavailable") {
			return nil, fmt.Errorf("database at %s is locked by another process (is another klingindexd instance running?): %w", path, err)
		}
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
	return &BadgerDB{db: db, cfg: cfg}, nil
}

// ResumeCompactions re-enables auto-compaction after an initial-sync pass
// started with DisableAutoCompactionsDuringSync. Badger fixes NumCompactors
// at Open time and exposes no live toggle, so this closes and reopens the
// database with the configured parallelism restored; callers must not hold
// any outstanding batches or iterators across the call.
func (b *BadgerDB) ResumeCompactions(path string) error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("badger resume-compactions close: %w", err)
	}
	cfg := b.cfg
	cfg.DisableAutoCompactionsDuringSync = false
	reopened, err := NewBadger(path, cfg)
	if err != nil {
		return fmt.Errorf("badger resume-compactions reopen: %w", err)
	}
	b.db = reopened.db
	b.cfg = cfg
	return nil
}

// Get retrieves a value by key. Returns ErrNotFound if the key is absent.
func (b *BadgerDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return val, nil
}

// Put stores a key-value pair.
func (b *BadgerDB) Put(key, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (b *BadgerDB) Delete(key []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (b *BadgerDB) Has(key []byte) (bool, error) {
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badger has: %w", err)
	}
	return exists, nil
}

// ForEach iterates in ascending key order over all keys with the given prefix.
func (b *BadgerDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			err := item.Value(func(val []byte) error {
				return fn(key, val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ForEachReverse iterates in descending key order, starting below
// upperExclusive, over all keys with the given prefix.
func (b *BadgerDB) ForEachReverse(prefix, upperExclusive []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := upperExclusive
		if len(seek) == 0 {
			// Badger's reverse seek expects a key past the range end;
			// 0xff-pad the prefix so we start at the last matching key.
			seek = append(append([]byte(nil), prefix...), 0xff)
		}
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			if len(upperExclusive) > 0 && string(key) >= string(upperExclusive) {
				continue
			}
			err := item.Value(func(val []byte) error {
				return fn(key, val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// NewBatch returns an atomic Badger write batch.
func (b *BadgerDB) NewBatch() Batch {
	return &badgerBatch{db: b.db, wb: b.db.NewWriteBatch()}
}

// Sync flushes Badger's value log and LSM tree to stable storage.
func (b *BadgerDB) Sync() error {
	return b.db.Sync()
}

// Size reports the combined LSM-tree and value-log size on disk.
func (b *BadgerDB) Size() int64 {
	lsm, vlog := b.db.Size()
	return lsm + vlog
}

// Close closes the database.
func (b *BadgerDB) Close() error {
	return b.db.Close()
}

type badgerBatch struct {
	db *badger.DB
	wb *badger.WriteBatch
}

func (b *badgerBatch) Put(key, value []byte) {
	_ = b.wb.Set(key, value)
}

func (b *badgerBatch) Delete(key []byte) {
	_ = b.wb.Delete(key)
}

func (b *badgerBatch) Commit(sync bool) error {
	if err := b.wb.Flush(); err != nil {
		return fmt.Errorf("badger batch commit: %w", err)
	}
	if sync {
		return b.db.Sync()
	}
	return nil
}
