package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemoryDB implements DB with an in-memory map, kept in sorted order on
// each scan so it can stand in for BadgerDB in unit tests without pulling
// in the real engine.
type MemoryDB struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put stores a key-value pair.
func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

// Delete removes a key.
func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

// Has checks if a key exists.
func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

// Size sums the byte length of every stored key and value. Approximate
// by construction (no compression, no write amplification) but enough
// to exercise store_size_bytes in tests without a real engine.
func (m *MemoryDB) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for k, v := range m.data {
		total += int64(len(k) + len(v))
	}
	return total
}

// ForEach iterates in ascending key order over all keys with the given prefix.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.Lock()
	keys := m.sortedKeys(string(prefix))
	m.mu.Unlock()

	for _, k := range keys {
		m.mu.Lock()
		v, ok := m.data[k]
		m.mu.Unlock()
		if !ok {
			continue // deleted between snapshot and visit
		}
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

// ForEachReverse iterates in descending key order, starting below
// upperExclusive, over all keys with the given prefix.
func (m *MemoryDB) ForEachReverse(prefix, upperExclusive []byte, fn func(key, value []byte) error) error {
	m.mu.Lock()
	keys := m.sortedKeys(string(prefix))
	m.mu.Unlock()

	upper := string(upperExclusive)
	for i := len(keys) - 1; i >= 0; i-- {
		k := keys[i]
		if upper != "" && k >= upper {
			continue
		}
		m.mu.Lock()
		v, ok := m.data[k]
		m.mu.Unlock()
		if !ok {
			continue
		}
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryDB) sortedKeys(prefix string) []string {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// NewBatch returns a batch that buffers writes and applies them to the
// map atomically (under the single mutex) on Commit.
func (m *MemoryDB) NewBatch() Batch {
	return &memoryBatch{db: m}
}

// Sync is a no-op: MemoryDB has no durability to flush.
func (m *MemoryDB) Sync() error {
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	return nil
}

type memoryOp struct {
	key     []byte
	value   []byte
	deleted bool
}

type memoryBatch struct {
	db  *MemoryDB
	ops []memoryOp
}

func (b *memoryBatch) Put(key, value []byte) {
	b.ops = append(b.ops, memoryOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *memoryBatch) Delete(key []byte) {
	b.ops = append(b.ops, memoryOp{key: append([]byte(nil), key...), deleted: true})
}

func (b *memoryBatch) Commit(sync bool) error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		if op.deleted {
			delete(b.db.data, string(op.key))
			continue
		}
		b.db.data[string(op.key)] = op.value
	}
	return nil
}
