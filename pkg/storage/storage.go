// Package storage abstracts the backends a sync run moves files
// between. The engine only ever talks to the Client interface; local
// directories and SFTP servers are the two implementations shipped
// here.
package storage

import (
	"context"
	"time"
)

// BufferSize is the chunk size for streaming transfers (32KB).
const BufferSize = 32 * 1024

// FileInfo describes one entry found under a scanned root.
type FileInfo struct {
	// Path is the backend-absolute path of the entry.
	Path string `json:"path"`
	// RelativePath is the path relative to the scanned root, with
	// forward slashes. It is the identity used to match entries across
	// backends.
	RelativePath string `json:"relative_path"`
	// Size is the size in bytes. Zero for directories.
	Size int64 `json:"size"`
	// Modified is the last-modified time. The zero value means the
	// backend could not report one.
	Modified time.Time `json:"modified,omitempty"`
	// IsDir marks directory entries.
	IsDir bool `json:"is_dir"`
	// Checksum is a lowercase hex digest, empty until computed.
	Checksum string `json:"checksum,omitempty"`
}

// HasModTime reports whether the backend provided a modification time.
func (fi FileInfo) HasModTime() bool {
	return !fi.Modified.IsZero()
}

// ScanProgress reports how far a directory listing has gotten.
type ScanProgress struct {
	Root       string
	FilesFound int
}

// ScanProgressFunc receives scan progress. It may be nil.
type ScanProgressFunc func(ScanProgress)

// TransferProgress reports the state of one in-flight transfer.
type TransferProgress struct {
	Transferred int64
	Total       int64
	Percentage  float64
	SpeedBPS    float64
	ETASeconds  int64
}

// TransferProgressFunc receives transfer progress. It may be nil.
type TransferProgressFunc func(TransferProgress)

// OptimizationHints advertises what a backend can do so the executor
// can shape a run without knowing the backend's protocol.
type OptimizationHints struct {
	SupportsMultipart      bool
	MultipartThreshold     int64
	MultipartMaxParallel   int
	SupportsResume         bool
	SupportsServerChecksum bool
	PreferredChecksumAlgo  string
	SupportsCompression    bool
	SupportsDeltaSync      bool
	// SerializedConnections means the backend tolerates only one
	// operation at a time; the executor paces transfers and issues
	// keep-alives between them.
	SerializedConnections bool
}

// Client is the storage-access interface the sync engine runs against.
//
// Paths are backend-absolute except where noted. Upload and Download
// bridge the local filesystem and the backend: localPath is always a
// path on the machine running the engine.
type Client interface {
	// ListDirectory recursively scans root and returns entries keyed
	// by their slash-separated relative path. The root itself is not
	// included.
	ListDirectory(ctx context.Context, root string, progress ScanProgressFunc) (map[string]FileInfo, error)

	// Stat returns info for a single path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// Upload copies the local file at localPath to remotePath on the
	// backend, preserving the modification time where the backend
	// allows it. Returns bytes written.
	Upload(ctx context.Context, localPath, remotePath string, progress TransferProgressFunc) (int64, error)

	// Download copies remotePath from the backend to the local file at
	// localPath. Returns bytes written.
	Download(ctx context.Context, remotePath, localPath string, progress TransferProgressFunc) (int64, error)

	// Mkdir creates a directory, including missing parents.
	Mkdir(ctx context.Context, path string) error

	// Delete removes a file, or an empty directory when isDir is set.
	Delete(ctx context.Context, path string, isDir bool) error

	// Checksum returns the hex digest of the file at path using the
	// backend's preferred algorithm.
	Checksum(ctx context.Context, path string) (string, error)

	// KeepAlive issues a cheap no-op to keep the session from idling
	// out. Backends without sessions return nil.
	KeepAlive(ctx context.Context) error

	// Hints describes the backend's transfer capabilities.
	Hints() OptimizationHints

	// Close releases the backend connection, if any.
	Close() error
}
