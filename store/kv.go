// Package store provides the abstract ordered key-value primitive the ring
// package's Durable Store Adapter is built on: point get/put/delete, atomic
// multi-key batches, and open/close. spec.md §4.4 treats the real engine
// (a LevelDB-class store) as an external collaborator; this package supplies
// two implementations of the same small interface — MemKV for tests and
// in-process rings, FileKV for a genuinely durable single-file store — so
// the ring package never has to know which one it's talking to.
package store

// KV is the storage contract the ring package's Durable Store Adapter
// requires: point reads/writes/deletes plus atomic batches. Any engine with
// these semantics — LevelDB, a sorted in-memory map, or FileKV below — can
// back a Ring.
type KV interface {
	// Get returns the value stored at key, or ok=false if it is absent.
	Get(key []byte) (value []byte, ok bool, err error)
	// Put writes key=value, visible to subsequent Get calls immediately.
	Put(key, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key []byte) error
	// NewBatch starts a new atomic batch. Nothing in the batch is visible
	// until Commit succeeds.
	NewBatch() Batch
	// Close releases the underlying resource (file handle, connection).
	Close() error
}

// Batch accumulates a set of writes/deletes that commit atomically: either
// every operation becomes visible, or (on a Commit error) none do.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Commit() error
}
