package syncengine

import (
	"github.com/joe/dirsync/internal/compare"
	"github.com/joe/dirsync/internal/journal"
)

// Event is the sealed interface for engine progress events. A single
// long-lived subscriber drains the event channel and dispatches into
// whatever presentation layer is attached.
type Event interface {
	isEvent()
}

// ScanStarted is emitted when a directory scan begins.
type ScanStarted struct {
	Root   string
	Remote bool
}

// ScanProgress is emitted periodically during a scan.
type ScanProgress struct {
	Root       string
	FilesFound int
}

// ScanComplete is emitted when a scan finishes.
type ScanComplete struct {
	Root       string
	FilesFound int
}

// CompareStarted is emitted when classification begins.
type CompareStarted struct{}

// CompareComplete carries the classified comparison set.
type CompareComplete struct {
	Comparisons []compare.Comparison
}

// RunStarted is emitted when an execution run begins.
type RunStarted struct {
	RunID string
	Items int
}

// ItemStarted is emitted before each transfer.
type ItemStarted struct {
	RelativePath string
	Action       journal.Action
	Size         int64
}

// ItemProgress is emitted as a transfer moves bytes. Late events from
// already-finished transfers are suppressed at the source.
type ItemProgress struct {
	RelativePath string
	Transferred  int64
	Total        int64
}

// ItemComplete is emitted when a transfer succeeds.
type ItemComplete struct {
	RelativePath string
	Action       journal.Action
	Bytes        int64
}

// ItemFailed is emitted when a transfer fails terminally.
type ItemFailed struct {
	RelativePath string
	Err          error
}

// DirCreated is emitted for each standalone directory created.
type DirCreated struct {
	RelativePath string
}

// RunComplete carries the final report.
type RunComplete struct {
	Report *Report
}

func (ScanStarted) isEvent()     {}
func (ScanProgress) isEvent()    {}
func (ScanComplete) isEvent()    {}
func (CompareStarted) isEvent()  {}
func (CompareComplete) isEvent() {}
func (RunStarted) isEvent()      {}
func (ItemStarted) isEvent()     {}
func (ItemProgress) isEvent()    {}
func (ItemComplete) isEvent()    {}
func (ItemFailed) isEvent()      {}
func (DirCreated) isEvent()      {}
func (RunComplete) isEvent()     {}
