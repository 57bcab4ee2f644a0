// Package index caches per-path metadata from the last successful
// sync of a pair. The comparator consults it to short-circuit
// unchanged paths and to detect both-sides-changed conflicts; the
// executor merges into it after every run.
package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joe/dirsync/internal/state"
)

// CurrentVersion is the on-disk schema version of an index file.
const CurrentVersion = 1

// Entry is the recorded state of one path at the last successful sync.
type Entry struct {
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified,omitempty"`
	IsDir    bool      `json:"is_dir"`
}

// Index holds the last-sync snapshot for one (local, remote) pair.
type Index struct {
	Version    int              `json:"version"`
	LastSync   time.Time        `json:"last_sync"`
	LocalPath  string           `json:"local_path"`
	RemotePath string           `json:"remote_path"`
	Files      map[string]Entry `json:"files"`
}

// New creates an empty index for a pair.
func New(localPath, remotePath string) *Index {
	return &Index{
		Version:    CurrentVersion,
		LocalPath:  localPath,
		RemotePath: remotePath,
		Files:      make(map[string]Entry),
	}
}

// Lookup returns the recorded size and modification time for relPath.
func (ix *Index) Lookup(relPath string) (int64, time.Time, bool) {
	entry, ok := ix.Files[relPath]
	if !ok {
		return 0, time.Time{}, false
	}

	return entry.Size, entry.Modified, ok
}

// Merge folds updates into the index, preserving entries for paths the
// current run did not touch, and stamps the last-sync time.
func (ix *Index) Merge(updates map[string]Entry, now time.Time) {
	if ix.Files == nil {
		ix.Files = make(map[string]Entry, len(updates))
	}

	for rel, entry := range updates {
		ix.Files[rel] = entry
	}

	ix.LastSync = now
}

// Store persists indexes as one JSON file per pair.
type Store struct {
	dir string
}

// NewStore creates a store rooted at the engine state directory.
func NewStore() (*Store, error) {
	dir, err := state.Dir()
	if err != nil {
		return nil, err
	}

	return &Store{dir: dir}, nil
}

// NewStoreAt creates a store rooted at an explicit directory.
func NewStoreAt(dir string) *Store {
	return &Store{dir: dir}
}

// Load returns the index for a pair, or nil when none has been saved.
func (s *Store) Load(localPath, remotePath string) (*Index, error) {
	var ix Index

	found, err := state.ReadJSON(s.path(localPath, remotePath), &ix)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync index: %w", err)
	}

	if !found {
		return nil, nil
	}

	if ix.Files == nil {
		ix.Files = make(map[string]Entry)
	}

	return &ix, nil
}

// Save writes the index atomically.
func (s *Store) Save(ix *Index) error {
	if err := state.WriteJSON(s.path(ix.LocalPath, ix.RemotePath), ix); err != nil {
		return fmt.Errorf("failed to save sync index: %w", err)
	}

	return nil
}

// Delete removes the persisted index for a pair, if any.
func (s *Store) Delete(localPath, remotePath string) error {
	err := os.Remove(s.path(localPath, remotePath))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete sync index: %w", err)
	}

	return nil
}

func (s *Store) path(localPath, remotePath string) string {
	return filepath.Join(s.dir, fmt.Sprintf("index-%s.json", state.PairKey(localPath, remotePath)))
}
