// Package journal keeps a durable per-entry record of a sync run so an
// interrupted run can be resumed without redoing finished transfers.
package journal

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joe/dirsync/internal/compare"
	"github.com/joe/dirsync/internal/profile"
	"github.com/joe/dirsync/pkg/syncerrors"
)

// EntryStatus is the lifecycle state of one journal entry.
type EntryStatus string

// Entry states. pending and in_progress are transient; the rest are
// terminal.
const (
	StatusPending      EntryStatus = "pending"
	StatusInProgress   EntryStatus = "in_progress"
	StatusCompleted    EntryStatus = "completed"
	StatusFailed       EntryStatus = "failed"
	StatusSkipped      EntryStatus = "skipped"
	StatusVerifyFailed EntryStatus = "verify_failed"
)

// Terminal reports whether the status is final for the run.
func (s EntryStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped, StatusVerifyFailed:
		return true
	default:
		return false
	}
}

// rank orders statuses so transitions only ever move forward.
func (s EntryStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	default:
		return 2
	}
}

// Action is what the executor intends to do for an entry.
type Action string

// Entry actions.
const (
	ActionUpload   Action = "upload"
	ActionDownload Action = "download"
	ActionMkdir    Action = "mkdir"
)

// Entry records the execution state of one item.
type Entry struct {
	RelativePath     string            `json:"relative_path"`
	Action           Action            `json:"action"`
	Status           EntryStatus       `json:"status"`
	Attempts         int               `json:"attempts"`
	LastError        *syncerrors.Info  `json:"last_error,omitempty"`
	Verified         *bool             `json:"verified,omitempty"`
	BytesTransferred int64             `json:"bytes_transferred"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Journal is the durable record of one sync run.
type Journal struct {
	ID         string              `json:"id"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
	LocalPath  string              `json:"local_path"`
	RemotePath string              `json:"remote_path"`
	Direction  compare.Direction   `json:"direction"`
	Retry      profile.RetryPolicy `json:"retry_policy"`
	Verify     profile.VerifyPolicy `json:"verify_policy"`
	Entries    []Entry             `json:"entries"`
	Completed  bool                `json:"completed"`

	byPath map[string]int
}

// New creates a journal for a run about to start.
func New(localPath, remotePath string, direction compare.Direction, retry profile.RetryPolicy, verify profile.VerifyPolicy) *Journal {
	now := time.Now().UTC()

	return &Journal{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		UpdatedAt:  now,
		LocalPath:  localPath,
		RemotePath: remotePath,
		Direction:  direction,
		Retry:      retry,
		Verify:     verify,
		byPath:     make(map[string]int),
	}
}

// Seed appends a pending entry for an item the run will attempt.
func (j *Journal) Seed(relPath string, action Action) {
	j.ensureIndex()

	if _, exists := j.byPath[relPath]; exists {
		return
	}

	j.Entries = append(j.Entries, Entry{
		RelativePath: relPath,
		Action:       action,
		Status:       StatusPending,
		UpdatedAt:    time.Now().UTC(),
	})
	j.byPath[relPath] = len(j.Entries) - 1
}

// Entry returns the entry for relPath, or nil when absent.
func (j *Journal) Entry(relPath string) *Entry {
	j.ensureIndex()

	idx, ok := j.byPath[relPath]
	if !ok {
		return nil
	}

	return &j.Entries[idx]
}

// Transition moves an entry to a new status. Transitions are
// monotonic: a terminal entry never changes, and an entry never moves
// backwards (e.g. in_progress to pending).
func (j *Journal) Transition(relPath string, to EntryStatus) error {
	entry := j.Entry(relPath)
	if entry == nil {
		return fmt.Errorf("no journal entry for %q", relPath)
	}

	if entry.Status.Terminal() {
		return fmt.Errorf("journal entry %q is already %s", relPath, entry.Status)
	}

	if to.rank() < entry.Status.rank() {
		return fmt.Errorf("journal entry %q cannot move from %s to %s", relPath, entry.Status, to)
	}

	entry.Status = to
	entry.UpdatedAt = time.Now().UTC()
	j.UpdatedAt = entry.UpdatedAt

	return nil
}

// RecordAttempt increments an entry's attempt counter.
func (j *Journal) RecordAttempt(relPath string) {
	if entry := j.Entry(relPath); entry != nil {
		entry.Attempts++
		entry.UpdatedAt = time.Now().UTC()
		j.UpdatedAt = entry.UpdatedAt
	}
}

// RecordError stores the classified error for an entry.
func (j *Journal) RecordError(relPath string, info *syncerrors.Info) {
	if entry := j.Entry(relPath); entry != nil {
		entry.LastError = info
		entry.UpdatedAt = time.Now().UTC()
		j.UpdatedAt = entry.UpdatedAt
	}
}

// RecordBytes stores the bytes transferred for an entry.
func (j *Journal) RecordBytes(relPath string, bytes int64) {
	if entry := j.Entry(relPath); entry != nil {
		entry.BytesTransferred = bytes
		entry.UpdatedAt = time.Now().UTC()
		j.UpdatedAt = entry.UpdatedAt
	}
}

// RecordVerified stores the verifier's verdict for an entry.
func (j *Journal) RecordVerified(relPath string, ok bool) {
	if entry := j.Entry(relPath); entry != nil {
		entry.Verified = &ok
		entry.UpdatedAt = time.Now().UTC()
		j.UpdatedAt = entry.UpdatedAt
	}
}

// MarkCompleted marks the whole run finished.
func (j *Journal) MarkCompleted() {
	j.Completed = true
	j.UpdatedAt = time.Now().UTC()
}

// ensureIndex rebuilds the path index after JSON decoding.
func (j *Journal) ensureIndex() {
	if j.byPath != nil && len(j.byPath) == len(j.Entries) {
		return
	}

	j.byPath = make(map[string]int, len(j.Entries))
	for i := range j.Entries {
		j.byPath[j.Entries[i].RelativePath] = i
	}
}
