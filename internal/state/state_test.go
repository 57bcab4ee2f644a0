package state_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joe/dirsync/internal/state"
)

func TestPairKey(t *testing.T) {
	t.Parallel()

	key := state.PairKey("/home/joe/docs", "sftp://joe@nas/docs")

	if len(key) != 16 {
		t.Errorf("key %q should be 16 hex digits", key)
	}

	if again := state.PairKey("/home/joe/docs", "sftp://joe@nas/docs"); again != key {
		t.Error("the key must be stable for a pair")
	}

	if other := state.PairKey("/home/joe/music", "sftp://joe@nas/docs"); other == key {
		t.Error("different pairs must not collide on the obvious cases")
	}

	// Swapping the sides is a different pair.
	if swapped := state.PairKey("sftp://joe@nas/docs", "/home/joe/docs"); swapped == key {
		t.Error("direction of the pair is part of the key")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	path := filepath.Join(t.TempDir(), "doc.json")

	var missing doc

	found, err := state.ReadJSON(path, &missing)
	if err != nil {
		t.Fatalf("read missing: %v", err)
	}

	if found {
		t.Error("a missing file reads as not found, not an error")
	}

	if err := state.WriteJSON(path, doc{Name: "pair", Count: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var loaded doc

	found, err = state.ReadJSON(path, &loaded)
	if err != nil || !found {
		t.Fatalf("read: found=%v err=%v", found, err)
	}

	if loaded.Name != "pair" || loaded.Count != 2 {
		t.Errorf("loaded = %+v", loaded)
	}

	// No stray temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}

	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want just the document", len(entries))
	}
}

func TestDirHonorsOverride(t *testing.T) {
	override := t.TempDir()
	t.Setenv("DIRSYNC_STATE_DIR", override)

	dir, err := state.Dir()
	if err != nil {
		t.Fatalf("dir: %v", err)
	}

	if dir != override {
		t.Errorf("dir = %q, want the override %q", dir, override)
	}

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state dir should exist: %v", err)
	}
}
