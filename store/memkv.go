package store

import "sync"

// MemKV is an in-memory KV backed by a plain map guarded by a mutex — the
// same pattern the teacher uses for its own in-memory state
// (internal/store/store.go's Store.data, internal/cluster/ring.go's
// Ring.ring). It satisfies the Design Notes' observation that "a pure
// in-memory implementation ... trivially satisfies [the KV contract] and is
// suitable for tests"; it never touches disk and Close is a no-op.
type MemKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemKV returns an empty in-memory KV.
func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

func (m *MemKV) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *MemKV) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *MemKV) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemKV) NewBatch() Batch {
	return &memBatch{kv: m}
}

func (m *MemKV) Close() error { return nil }

type memOp struct {
	del   bool
	key   []byte
	value []byte
}

// memBatch stages ops and applies them under a single lock acquisition in
// Commit, which is what makes the batch atomic from a reader's perspective:
// no reader can observe the map between two ops of the same batch.
type memBatch struct {
	kv  *MemKV
	ops []memOp
}

func (b *memBatch) Put(key, value []byte) {
	b.ops = append(b.ops, memOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *memBatch) Delete(key []byte) {
	b.ops = append(b.ops, memOp{del: true, key: append([]byte(nil), key...)})
}

func (b *memBatch) Commit() error {
	b.kv.mu.Lock()
	defer b.kv.mu.Unlock()
	for _, op := range b.ops {
		if op.del {
			delete(b.kv.data, string(op.key))
			continue
		}
		b.kv.data[string(op.key)] = op.value
	}
	return nil
}
