package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileKV is a durable, single-file KV store: every write is appended as a
// newline-delimited JSON record and fsync'd before Put/Commit returns, and
// the full key space is rebuilt in memory by replaying the file on Open.
//
// This is the teacher's internal/store/wal.go mechanism (NDJSON records,
// fsync-per-write, replay-on-open) generalized from its original
// walEntry{Op, Key, Value store.Value} record — one fixed value type for one
// user-facing KV store — to a generic byte-key/byte-value kvRecord, which is
// what the ring package's Durable Store Adapter needs to persist arbitrary
// schema keys (VNODE_COUNT, /PNODE/%s, /VNODE/%d, ...).
type FileKV struct {
	mu    sync.Mutex
	file  *os.File
	index map[string][]byte
}

const (
	opPut    = "PUT"
	opDelete = "DEL"
)

type kvRecord struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// OpenFileKV opens (creating if necessary) the log file at path and replays
// it to reconstruct the in-memory index, exactly as
// internal/store/store.go's New does for its WAL.
func OpenFileKV(path string) (*FileKV, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open kv log %s: %w", path, err)
	}
	kv := &FileKV{file: f, index: make(map[string][]byte)}
	if err := kv.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return kv, nil
}

func (kv *FileKV) replay() error {
	if _, err := kv.file.Seek(0, 0); err != nil {
		return err
	}
	scanner := bufio.NewScanner(kv.file)
	// Keys can carry arbitrarily large per-pnode vnode arrays; grow past
	// bufio's 64KiB default line limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec kvRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// Corrupt trailing record from a torn write; stop replaying
			// rather than silently skip, so RingIncomplete surfaces upstream
			// instead of a partially-rebuilt ring.
			break
		}
		switch rec.Op {
		case opPut:
			kv.index[rec.Key] = rec.Value
		case opDelete:
			delete(kv.index, rec.Key)
		}
	}
	if _, err := kv.file.Seek(0, 2); err != nil {
		return err
	}
	return scanner.Err()
}

func (kv *FileKV) appendRecords(recs []kvRecord) error {
	var buf []byte
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	if _, err := kv.file.Write(buf); err != nil {
		return err
	}
	return kv.file.Sync()
}

func (kv *FileKV) Get(key []byte) ([]byte, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.index[string(key)]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (kv *FileKV) Put(key, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.appendRecords([]kvRecord{{Op: opPut, Key: string(key), Value: value}}); err != nil {
		return err
	}
	kv.index[string(key)] = append([]byte(nil), value...)
	return nil
}

func (kv *FileKV) Delete(key []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.appendRecords([]kvRecord{{Op: opDelete, Key: string(key)}}); err != nil {
		return err
	}
	delete(kv.index, string(key))
	return nil
}

func (kv *FileKV) NewBatch() Batch {
	return &fileBatch{kv: kv}
}

func (kv *FileKV) Close() error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return kv.file.Close()
}

// fileBatch stages records and appends them as one write followed by one
// fsync in Commit — the single fsync is the atomicity boundary: either all
// records made it to disk before the crash, or (because they share one
// underlying Write) none of them are readable back on replay.
type fileBatch struct {
	kv   *FileKV
	recs []kvRecord
}

func (b *fileBatch) Put(key, value []byte) {
	b.recs = append(b.recs, kvRecord{Op: opPut, Key: string(key), Value: append([]byte(nil), value...)})
}

func (b *fileBatch) Delete(key []byte) {
	b.recs = append(b.recs, kvRecord{Op: opDelete, Key: string(key)})
}

func (b *fileBatch) Commit() error {
	b.kv.mu.Lock()
	defer b.kv.mu.Unlock()
	if err := b.kv.appendRecords(b.recs); err != nil {
		return err
	}
	for _, rec := range b.recs {
		if rec.Op == opDelete {
			delete(b.kv.index, rec.Key)
			continue
		}
		b.kv.index[rec.Key] = rec.Value
	}
	return nil
}
