package store

import (
	"os"
	"path/filepath"
	"testing"
)

func appendRaw(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("appendRaw open: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(s); err != nil {
		t.Fatalf("appendRaw write: %v", err)
	}
}

func TestFileKVPutGetDeletePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.log")

	kv, err := OpenFileKV(path)
	if err != nil {
		t.Fatalf("OpenFileKV: %v", err)
	}
	if err := kv.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := kv.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := kv.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	kv2, err := OpenFileKV(path)
	if err != nil {
		t.Fatalf("re-OpenFileKV: %v", err)
	}
	defer kv2.Close()

	if _, ok, _ := kv2.Get([]byte("a")); ok {
		t.Fatalf("deleted key %q resurrected on replay", "a")
	}
	v, ok, err := kv2.Get([]byte("b"))
	if err != nil || !ok || string(v) != "2" {
		t.Fatalf("Get(b) after replay = (%q, %v, %v), want (2, true, nil)", v, ok, err)
	}
}

func TestFileKVBatchCommitAppliesAllRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.log")
	kv, err := OpenFileKV(path)
	if err != nil {
		t.Fatalf("OpenFileKV: %v", err)
	}
	defer kv.Close()

	b := kv.NewBatch()
	for i := 0; i < 50; i++ {
		b.Put([]byte{byte(i)}, []byte{byte(i * 2)})
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	for i := 0; i < 50; i++ {
		v, ok, err := kv.Get([]byte{byte(i)})
		if err != nil || !ok || len(v) != 1 || v[0] != byte(i*2) {
			t.Fatalf("Get(%d) = (%v, %v, %v), want (%d, true, nil)", i, v, ok, err, i*2)
		}
	}
}

func TestFileKVReplayStopsAtCorruptTrailingRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.log")
	kv, err := OpenFileKV(path)
	if err != nil {
		t.Fatalf("OpenFileKV: %v", err)
	}
	if err := kv.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	appendRaw(t, path, "{not valid json\n")

	kv2, err := OpenFileKV(path)
	if err != nil {
		t.Fatalf("re-OpenFileKV should tolerate a torn trailing record: %v", err)
	}
	defer kv2.Close()

	v, ok, err := kv2.Get([]byte("a"))
	if err != nil || !ok || string(v) != "1" {
		t.Fatalf("Get(a) after torn replay = (%q, %v, %v), want (1, true, nil)", v, ok, err)
	}
}
