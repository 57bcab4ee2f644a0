// Package selection tracks which compared items a sync run will act
// on: direction filtering, auto-selection, and user overrides.
package selection

import (
	"github.com/joe/dirsync/internal/compare"
)

// Selector holds the retained comparison set for one run and the set
// of relative paths the user has selected. Loading a new comparison
// run clears all prior selection state.
type Selector struct {
	direction compare.Direction
	retained  []compare.Comparison
	dirs      []compare.Comparison
	byPath    map[string]compare.Comparison
	selected  map[string]bool
}

// NewSelector creates a Selector for the given direction.
func NewSelector(direction compare.Direction) *Selector {
	return &Selector{
		direction: direction,
		byPath:    make(map[string]compare.Comparison),
		selected:  make(map[string]bool),
	}
}

// Load replaces the working set with a fresh comparison run. Retention
// follows the direction: local_to_remote keeps local_newer/local_only,
// remote_to_local keeps remote_newer/remote_only, bidirectional keeps
// everything non-identical. Retained files that are neither conflict
// nor size_mismatch are pre-selected; directories are tracked
// separately as syncable directories and are never selectable.
func (s *Selector) Load(comparisons []compare.Comparison) {
	s.retained = nil
	s.dirs = nil
	s.byPath = make(map[string]compare.Comparison)
	s.selected = make(map[string]bool)

	for _, comp := range comparisons {
		if comp.Status == compare.StatusIdentical {
			continue
		}

		if !s.directionRetains(comp.Status) {
			continue
		}

		if comp.IsDir {
			s.dirs = append(s.dirs, comp)

			continue
		}

		s.retained = append(s.retained, comp)
		s.byPath[comp.RelativePath] = comp

		if autoSelectable(comp.Status) {
			s.selected[comp.RelativePath] = true
		}
	}
}

// directionRetains reports whether the run's direction keeps an item
// with the given status.
func (s *Selector) directionRetains(status compare.Status) bool {
	switch s.direction {
	case compare.DirectionLocalToRemote:
		return status == compare.StatusLocalNewer || status == compare.StatusLocalOnly
	case compare.DirectionRemoteToLocal:
		return status == compare.StatusRemoteNewer || status == compare.StatusRemoteOnly
	default:
		return true
	}
}

// autoSelectable excludes the statuses that need a human decision.
func autoSelectable(status compare.Status) bool {
	return status != compare.StatusConflict && status != compare.StatusSizeMismatch
}

// Retained returns the direction-filtered, non-directory comparisons
// in load order.
func (s *Selector) Retained() []compare.Comparison {
	return s.retained
}

// SyncableDirs returns the retained directory comparisons (empty
// directories the executor should create).
func (s *Selector) SyncableDirs() []compare.Comparison {
	return s.dirs
}

// IsSelected reports whether the item at relPath is selected.
func (s *Selector) IsSelected(relPath string) bool {
	return s.selected[relPath]
}

// Toggle flips the selection of relPath. Returns the new state, or
// false when relPath is not in the retained set.
func (s *Selector) Toggle(relPath string) bool {
	if _, ok := s.byPath[relPath]; !ok {
		return false
	}

	if s.selected[relPath] {
		delete(s.selected, relPath)

		return false
	}

	s.selected[relPath] = true

	return true
}

// SelectAll selects every retained item, including conflict and
// size_mismatch entries the auto-selection skipped.
func (s *Selector) SelectAll() {
	for rel := range s.byPath {
		s.selected[rel] = true
	}
}

// DeselectAll clears the selection.
func (s *Selector) DeselectAll() {
	s.selected = make(map[string]bool)
}

// Selected returns the selected comparisons in retained order.
func (s *Selector) Selected() []compare.Comparison {
	var out []compare.Comparison

	for _, comp := range s.retained {
		if s.selected[comp.RelativePath] {
			out = append(out, comp)
		}
	}

	return out
}

// SelectedCount returns how many items are selected.
func (s *Selector) SelectedCount() int {
	return len(s.selected)
}
