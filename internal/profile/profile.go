// Package profile bundles reusable sync settings: comparison criteria,
// retry and verification policies, and transfer tuning. A few profiles
// are built in; users can add their own. Profiles also travel between
// machines as portable template files.
package profile

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/joe/dirsync/internal/compare"
	"github.com/joe/dirsync/internal/state"
)

// RetryPolicy governs the executor's retry sub-loop.
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries"`
	BaseDelayMS       int     `json:"base_delay_ms"`
	MaxDelayMS        int     `json:"max_delay_ms"`
	TimeoutMS         int     `json:"timeout_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// DefaultRetryPolicy returns the stock retry settings: three attempts
// with exponential backoff from one second, capped at thirty.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		BaseDelayMS:       1000,
		MaxDelayMS:        30000,
		TimeoutMS:         120000,
		BackoffMultiplier: 2.0,
	}
}

// VerifyPolicy sets how strictly the verifier checks a completed
// transfer.
type VerifyPolicy string

// Verification levels, from cheapest to strictest.
const (
	VerifyNone         VerifyPolicy = "none"
	VerifySizeOnly     VerifyPolicy = "size_only"
	VerifySizeAndMtime VerifyPolicy = "size_and_mtime"
	VerifyFull         VerifyPolicy = "full"
)

// UnmarshalText parses a verify policy from CLI or JSON input.
func (v *VerifyPolicy) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "none", "":
		*v = VerifyNone
	case "size_only", "size-only", "size":
		*v = VerifySizeOnly
	case "size_and_mtime", "size-and-mtime", "mtime":
		*v = VerifySizeAndMtime
	case "full", "checksum":
		*v = VerifyFull
	default:
		return fmt.Errorf("invalid verify policy %q (want none, size_only, size_and_mtime, or full)", text)
	}

	return nil
}

// Profile is a named bundle of sync settings.
type Profile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	BuiltIn bool   `json:"built_in"`

	CompareTimestamp bool     `json:"compare_timestamp"`
	CompareSize      bool     `json:"compare_size"`
	CompareChecksum  bool     `json:"compare_checksum"`
	ExcludePatterns  []string `json:"exclude_patterns"`

	Direction compare.Direction `json:"direction"`
	Retry     RetryPolicy       `json:"retry_policy"`
	Verify    VerifyPolicy      `json:"verify_policy"`

	ParallelStreams int    `json:"parallel_streams"`
	CompressionMode string `json:"compression_mode"`
}

// CompareOptions derives the comparator settings from the profile.
func (p Profile) CompareOptions() compare.Options {
	patterns := make([]string, len(p.ExcludePatterns))
	copy(patterns, p.ExcludePatterns)

	return compare.Options{
		CompareTimestamp: p.CompareTimestamp,
		CompareSize:      p.CompareSize,
		CompareChecksum:  p.CompareChecksum,
		ExcludePatterns:  patterns,
		Direction:        p.Direction,
	}
}

// BuiltIns returns the non-deletable stock profiles.
func BuiltIns() []Profile {
	opts := compare.DefaultOptions()

	return []Profile{
		{
			ID:               "standard",
			Name:             "Standard",
			BuiltIn:          true,
			CompareTimestamp: true,
			CompareSize:      true,
			ExcludePatterns:  opts.ExcludePatterns,
			Direction:        compare.DirectionBidirectional,
			Retry:            DefaultRetryPolicy(),
			Verify:           VerifySizeOnly,
			ParallelStreams:  1,
			CompressionMode:  "none",
		},
		{
			ID:               "thorough",
			Name:             "Thorough",
			BuiltIn:          true,
			CompareTimestamp: true,
			CompareSize:      true,
			CompareChecksum:  true,
			ExcludePatterns:  opts.ExcludePatterns,
			Direction:        compare.DirectionBidirectional,
			Retry:            DefaultRetryPolicy(),
			Verify:           VerifyFull,
			ParallelStreams:  1,
			CompressionMode:  "none",
		},
		{
			ID:               "backup",
			Name:             "Backup",
			BuiltIn:          true,
			CompareTimestamp: true,
			CompareSize:      true,
			ExcludePatterns:  opts.ExcludePatterns,
			Direction:        compare.DirectionLocalToRemote,
			Retry:            DefaultRetryPolicy(),
			Verify:           VerifySizeAndMtime,
			ParallelStreams:  1,
			CompressionMode:  "none",
		},
	}
}

// Store persists user-defined profiles as one JSON file.
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

// List returns built-in profiles followed by user-defined ones.
func (s *Store) List() ([]Profile, error) {
	user, err := s.loadUser()
	if err != nil {
		return nil, err
	}

	return append(BuiltIns(), user...), nil
}

// Get returns the profile with the given id or name.
func (s *Store) Get(idOrName string) (Profile, error) {
	all, err := s.List()
	if err != nil {
		return Profile{}, err
	}

	for _, p := range all {
		if p.ID == idOrName || strings.EqualFold(p.Name, idOrName) {
			return p, nil
		}
	}

	return Profile{}, fmt.Errorf("profile %q not found", idOrName)
}

// Add saves a user-defined profile, assigning an id when absent.
func (s *Store) Add(p Profile) (Profile, error) {
	p.BuiltIn = false
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	if p.Name == "" {
		return Profile{}, fmt.Errorf("profile name is required")
	}

	user, err := s.loadUser()
	if err != nil {
		return Profile{}, err
	}

	for _, existing := range append(BuiltIns(), user...) {
		if existing.ID == p.ID || strings.EqualFold(existing.Name, p.Name) {
			return Profile{}, fmt.Errorf("profile %q already exists", p.Name)
		}
	}

	user = append(user, p)
	if err := s.saveUser(user); err != nil {
		return Profile{}, err
	}

	return p, nil
}

// Delete removes a user-defined profile. Built-ins cannot be deleted.
func (s *Store) Delete(idOrName string) error {
	for _, b := range BuiltIns() {
		if b.ID == idOrName || strings.EqualFold(b.Name, idOrName) {
			return fmt.Errorf("profile %q is built-in and cannot be deleted", idOrName)
		}
	}

	user, err := s.loadUser()
	if err != nil {
		return err
	}

	kept := user[:0]

	for _, p := range user {
		if p.ID != idOrName && !strings.EqualFold(p.Name, idOrName) {
			kept = append(kept, p)
		}
	}

	if len(kept) == len(user) {
		return fmt.Errorf("profile %q not found", idOrName)
	}

	return s.saveUser(kept)
}

func (s *Store) loadUser() ([]Profile, error) {
	var user []Profile

	_, err := state.ReadJSON(s.userPath(), &user)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	return user, nil
}

func (s *Store) saveUser(user []Profile) error {
	if err := state.WriteJSON(s.userPath(), user); err != nil {
		return fmt.Errorf("failed to save profiles: %w", err)
	}

	return nil
}

func (s *Store) userPath() string {
	return filepath.Join(s.dir, "profiles.json")
}
