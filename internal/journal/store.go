package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joe/dirsync/internal/state"
)

// Store persists journals as one JSON file per run, named so that all
// runs of a pair can be found again for resume.
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

// Save writes the journal atomically. The executor calls this after
// every entry transition, so a crash loses at most one transition.
func (s *Store) Save(j *Journal) error {
	if err := state.WriteJSON(s.path(j), j); err != nil {
		return fmt.Errorf("failed to save journal: %w", err)
	}

	return nil
}

// Load returns the journal with the given run id.
func (s *Store) Load(id string) (*Journal, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "journal-*-"+id+".json"))
	if err != nil || len(matches) == 0 {
		return nil, fmt.Errorf("journal %s not found", id)
	}

	return s.read(matches[0])
}

// LoadLatest returns the most recent journal for a pair, or nil when
// none exists.
func (s *Store) LoadLatest(localPath, remotePath string) (*Journal, error) {
	journals, err := s.ListPair(localPath, remotePath)
	if err != nil {
		return nil, err
	}

	if len(journals) == 0 {
		return nil, nil
	}

	return journals[len(journals)-1], nil
}

// LoadResumable returns the latest incomplete journal for a pair, or
// nil when the pair has nothing to resume.
func (s *Store) LoadResumable(localPath, remotePath string) (*Journal, error) {
	latest, err := s.LoadLatest(localPath, remotePath)
	if err != nil {
		return nil, err
	}

	if latest == nil || latest.Completed {
		return nil, nil
	}

	return latest, nil
}

// ListPair returns all journals for a pair, oldest first.
func (s *Store) ListPair(localPath, remotePath string) ([]*Journal, error) {
	pattern := filepath.Join(s.dir, "journal-"+state.PairKey(localPath, remotePath)+"-*.json")

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list journals: %w", err)
	}

	journals := make([]*Journal, 0, len(matches))

	for _, path := range matches {
		j, err := s.read(path)
		if err != nil {
			// A corrupt journal should not block the others.
			continue
		}

		journals = append(journals, j)
	}

	sort.Slice(journals, func(i, k int) bool {
		return journals[i].UpdatedAt.Before(journals[k].UpdatedAt)
	})

	return journals, nil
}

// Delete removes the journal with the given run id.
func (s *Store) Delete(id string) error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "journal-*-"+id+".json"))
	if err != nil {
		return fmt.Errorf("failed to find journal %s: %w", id, err)
	}

	for _, path := range matches {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete journal %s: %w", id, err)
		}
	}

	return nil
}

// CleanupOlderThan removes completed journals whose last update is
// older than age. Incomplete journals are kept; they may still be
// resumed.
func (s *Store) CleanupOlderThan(age time.Duration) (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "journal-*.json"))
	if err != nil {
		return 0, fmt.Errorf("failed to list journals: %w", err)
	}

	cutoff := time.Now().Add(-age)
	removed := 0

	for _, path := range matches {
		j, err := s.read(path)
		if err != nil {
			continue
		}

		if j.Completed && j.UpdatedAt.Before(cutoff) {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}

	return removed, nil
}

func (s *Store) read(path string) (*Journal, error) {
	var j Journal

	found, err := state.ReadJSON(path, &j)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("journal file %s disappeared", filepath.Base(path))
	}

	j.ensureIndex()

	return &j, nil
}

func (s *Store) path(j *Journal) string {
	id := strings.ReplaceAll(j.ID, string(filepath.Separator), "_")

	return filepath.Join(s.dir, fmt.Sprintf("journal-%s-%s.json", state.PairKey(j.LocalPath, j.RemotePath), id))
}
