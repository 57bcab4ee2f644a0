// Package compare classifies the relationship between the two sides of
// a sync pair. It is pure: scans happen elsewhere, and classifying the
// same snapshots twice always yields the same results.
package compare

import (
	"fmt"
	"strings"
	"time"

	"github.com/joe/dirsync/pkg/storage"
)

// Status is the classified relationship between the local and remote
// copies of one path.
type Status string

// Classification outcomes.
const (
	StatusIdentical    Status = "identical"
	StatusLocalNewer   Status = "local_newer"
	StatusRemoteNewer  Status = "remote_newer"
	StatusLocalOnly    Status = "local_only"
	StatusRemoteOnly   Status = "remote_only"
	StatusSizeMismatch Status = "size_mismatch"
	StatusConflict     Status = "conflict"
)

// Direction scopes which transfers a run may perform.
type Direction string

// Sync directions.
const (
	DirectionBidirectional Direction = "bidirectional"
	DirectionLocalToRemote Direction = "local_to_remote"
	DirectionRemoteToLocal Direction = "remote_to_local"
)

// String returns the direction's wire form.
func (d Direction) String() string {
	return string(d)
}

// UnmarshalText parses a direction from CLI or JSON input.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

// ParseDirection converts a string to a Direction, accepting a few
// common aliases.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bidirectional", "both", "two-way":
		return DirectionBidirectional, nil
	case "local_to_remote", "local-to-remote", "upload", "up":
		return DirectionLocalToRemote, nil
	case "remote_to_local", "remote-to-local", "download", "down":
		return DirectionRemoteToLocal, nil
	default:
		return "", fmt.Errorf("invalid sync direction %q (want bidirectional, local_to_remote, or remote_to_local)", s)
	}
}

// TimestampTolerance absorbs filesystem timestamp granularity: two
// modification times within this window count as equal.
const TimestampTolerance = 2 * time.Second

// DefaultExcludePatterns are the paths nobody wants synced.
var DefaultExcludePatterns = []string{
	"node_modules",
	".git",
	".DS_Store",
	"Thumbs.db",
	"__pycache__",
	"*.pyc",
	".env",
	"target",
}

// Options controls which signals the classifier consults.
type Options struct {
	CompareTimestamp bool      `json:"compare_timestamp"`
	CompareSize      bool      `json:"compare_size"`
	CompareChecksum  bool      `json:"compare_checksum"`
	ExcludePatterns  []string  `json:"exclude_patterns"`
	Direction        Direction `json:"direction"`
}

// DefaultOptions returns the stock comparison settings: size and
// timestamp on, checksum off, the usual excludes, bidirectional.
func DefaultOptions() Options {
	patterns := make([]string, len(DefaultExcludePatterns))
	copy(patterns, DefaultExcludePatterns)

	return Options{
		CompareTimestamp: true,
		CompareSize:      true,
		CompareChecksum:  false,
		ExcludePatterns:  patterns,
		Direction:        DirectionBidirectional,
	}
}

// Comparison is the classified state of one relative path across the
// pair. Local and Remote are nil on the side where the path is absent.
type Comparison struct {
	RelativePath string            `json:"relative_path"`
	Status       Status            `json:"status"`
	Local        *storage.FileInfo `json:"local,omitempty"`
	Remote       *storage.FileInfo `json:"remote,omitempty"`
	IsDir        bool              `json:"is_dir"`
	Reason       string            `json:"reason"`
}
