// Package multipath manages the set of path pairs a user syncs,
// capped at MaxPairs, with persistence that either commits or reverts.
package multipath

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/joe/dirsync/internal/state"
)

// MaxPairs bounds the pair list.
const MaxPairs = 50

// PathPair is one (local root, remote root) association.
type PathPair struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	LocalPath        string   `json:"local_path"`
	RemotePath       string   `json:"remote_path"`
	Enabled          bool     `json:"enabled"`
	ExcludeOverrides []string `json:"exclude_overrides,omitempty"`
}

// Config is the persisted multi-path configuration.
type Config struct {
	Pairs []PathPair `json:"pairs"`
	// ParallelPairs runs pairs concurrently instead of one at a time.
	ParallelPairs bool `json:"parallel_pairs"`
}

func (c Config) clone() Config {
	out := Config{ParallelPairs: c.ParallelPairs}
	out.Pairs = make([]PathPair, len(c.Pairs))
	copy(out.Pairs, c.Pairs)

	return out
}

// Manager owns the in-memory config and its persistence.
type Manager struct {
	mu   sync.Mutex
	dir  string
	conf Config
}

// NewManager loads the config from the engine state directory.
func NewManager() (*Manager, error) {
	dir, err := state.Dir()
	if err != nil {
		return nil, err
	}

	return NewManagerAt(dir)
}

// NewManagerAt loads the config from an explicit directory.
func NewManagerAt(dir string) (*Manager, error) {
	m := &Manager{dir: dir}

	if _, err := state.ReadJSON(m.path(), &m.conf); err != nil {
		return nil, fmt.Errorf("failed to load path pairs: %w", err)
	}

	return m, nil
}

// Pairs returns a copy of the pair list.
func (m *Manager) Pairs() []PathPair {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.conf.clone().Pairs
}

// Get returns the pair with the given id or name.
func (m *Manager) Get(idOrName string) (PathPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.conf.Pairs {
		if p.ID == idOrName || strings.EqualFold(p.Name, idOrName) {
			return p, nil
		}
	}

	return PathPair{}, fmt.Errorf("path pair %q not found", idOrName)
}

// Add creates a pair and persists the change. Fails when the list is
// at MaxPairs or the name is taken.
func (m *Manager) Add(name, localPath, remotePath string) (PathPair, error) {
	var added PathPair

	err := m.transact(func(c *Config) error {
		if len(c.Pairs) >= MaxPairs {
			return fmt.Errorf("cannot add path pair: limit of %d reached", MaxPairs)
		}

		for _, p := range c.Pairs {
			if strings.EqualFold(p.Name, name) {
				return fmt.Errorf("path pair %q already exists", name)
			}
		}

		added = PathPair{
			ID:         uuid.NewString(),
			Name:       name,
			LocalPath:  localPath,
			RemotePath: remotePath,
			Enabled:    true,
		}
		c.Pairs = append(c.Pairs, added)

		return nil
	})
	if err != nil {
		return PathPair{}, err
	}

	return added, nil
}

// Remove deletes a pair and persists the change.
func (m *Manager) Remove(idOrName string) error {
	return m.transact(func(c *Config) error {
		for i, p := range c.Pairs {
			if p.ID == idOrName || strings.EqualFold(p.Name, idOrName) {
				c.Pairs = append(c.Pairs[:i], c.Pairs[i+1:]...)

				return nil
			}
		}

		return fmt.Errorf("path pair %q not found", idOrName)
	})
}

// Edit updates a pair's name and roots in memory only. Empty arguments
// leave the corresponding field unchanged. Nothing reaches disk until
// Save, so edits can be batched or abandoned together.
func (m *Manager) Edit(idOrName, name, localPath, remotePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.conf.Pairs {
		p := &m.conf.Pairs[i]
		if p.ID != idOrName && !strings.EqualFold(p.Name, idOrName) {
			continue
		}

		if name != "" && !strings.EqualFold(p.Name, name) {
			for _, other := range m.conf.Pairs {
				if strings.EqualFold(other.Name, name) {
					return fmt.Errorf("path pair %q already exists", name)
				}
			}
		}

		if name != "" {
			p.Name = name
		}

		if localPath != "" {
			p.LocalPath = localPath
		}

		if remotePath != "" {
			p.RemotePath = remotePath
		}

		return nil
	}

	return fmt.Errorf("path pair %q not found", idOrName)
}

// Save flushes the in-memory configuration to disk, committing any
// pending edits.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := state.WriteJSON(m.path(), m.conf); err != nil {
		return fmt.Errorf("failed to save path pairs: %w", err)
	}

	return nil
}

// SetEnabled toggles a pair. The in-memory change is reverted when
// persistence fails, so the list never drifts from disk.
func (m *Manager) SetEnabled(idOrName string, enabled bool) error {
	return m.transact(func(c *Config) error {
		for i := range c.Pairs {
			if c.Pairs[i].ID == idOrName || strings.EqualFold(c.Pairs[i].Name, idOrName) {
				c.Pairs[i].Enabled = enabled

				return nil
			}
		}

		return fmt.Errorf("path pair %q not found", idOrName)
	})
}

// SetExcludeOverrides replaces a pair's exclude overrides.
func (m *Manager) SetExcludeOverrides(idOrName string, patterns []string) error {
	return m.transact(func(c *Config) error {
		for i := range c.Pairs {
			if c.Pairs[i].ID == idOrName || strings.EqualFold(c.Pairs[i].Name, idOrName) {
				c.Pairs[i].ExcludeOverrides = append([]string(nil), patterns...)

				return nil
			}
		}

		return fmt.Errorf("path pair %q not found", idOrName)
	})
}

// SetParallel sets whether pairs run concurrently.
func (m *Manager) SetParallel(parallel bool) error {
	return m.transact(func(c *Config) error {
		c.ParallelPairs = parallel

		return nil
	})
}

// transact is the commit-or-revert helper: mutate the in-memory
// config, attempt persistence, and restore the prior snapshot when
// either step fails.
func (m *Manager) transact(mutate func(*Config) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.conf.clone()

	if err := mutate(&m.conf); err != nil {
		m.conf = snapshot

		return err
	}

	if err := state.WriteJSON(m.path(), m.conf); err != nil {
		m.conf = snapshot

		return fmt.Errorf("failed to save path pairs: %w", err)
	}

	return nil
}

// RunAll syncs every enabled pair through runPair, sequentially or
// concurrently per ParallelPairs. Per-pair failures are collected, not
// fatal.
func (m *Manager) RunAll(ctx context.Context, runPair func(context.Context, PathPair) error) []error {
	m.mu.Lock()
	conf := m.conf.clone()
	m.mu.Unlock()

	var enabled []PathPair

	for _, p := range conf.Pairs {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}

	if !conf.ParallelPairs {
		var errs []error

		for _, p := range enabled {
			if err := runPair(ctx, p); err != nil {
				log.WithError(err).WithField("pair", p.Name).Error("pair sync failed")
				errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
			}
		}

		return errs
	}

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)

	for _, p := range enabled {
		wg.Add(1)

		go func(pair PathPair) {
			defer wg.Done()

			if err := runPair(ctx, pair); err != nil {
				log.WithError(err).WithField("pair", pair.Name).Error("pair sync failed")

				emu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", pair.Name, err))
				emu.Unlock()
			}
		}(p)
	}

	wg.Wait()

	return errs
}

func (m *Manager) path() string {
	return filepath.Join(m.dir, "pairs.json")
}
