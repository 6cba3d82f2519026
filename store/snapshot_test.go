package store

import (
	"path/filepath"
	"testing"
)

func TestSaveLoadSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	want := []byte(`{"vnodes":6}`)

	if err := SaveSnapshot(path, want); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	got, ok, err := LoadSnapshot(path)
	if err != nil || !ok || string(got) != string(want) {
		t.Fatalf("LoadSnapshot = (%q, %v, %v), want (%q, true, nil)", got, ok, err, want)
	}
}

func TestLoadSnapshotMissingFileIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	data, ok, err := LoadSnapshot(path)
	if err != nil || ok || data != nil {
		t.Fatalf("LoadSnapshot(missing) = (%v, %v, %v), want (nil, false, nil)", data, ok, err)
	}
}

func TestSaveSnapshotOverwriteLeavesNoTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	if err := SaveSnapshot(path, []byte("1")); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := SaveSnapshot(path, []byte("2")); err != nil {
		t.Fatalf("SaveSnapshot overwrite: %v", err)
	}
	got, ok, err := LoadSnapshot(path)
	if err != nil || !ok || string(got) != "2" {
		t.Fatalf("LoadSnapshot = (%q, %v, %v), want (2, true, nil)", got, ok, err)
	}
	if _, ok, _ := LoadSnapshot(path + ".tmp"); ok {
		t.Fatalf("temp file left behind after successful rename")
	}
}
