package compare

import (
	"fmt"
	"sort"
	"time"

	"github.com/joe/dirsync/pkg/storage"
)

// IndexLookup reports what a path looked like at the last successful
// sync. ok is false when the index has no entry for the path.
type IndexLookup func(relPath string) (size int64, modified time.Time, ok bool)

// TimestampsEqual reports whether two modification times agree within
// TimestampTolerance. An unknown (zero) time never equals anything.
func TimestampsEqual(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}

	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}

	return diff <= TimestampTolerance
}

// Build compares two directory listings and classifies every relative
// path present on either side. lookup may be nil when no index exists
// for the pair. The result is sorted by relative path and excludes
// paths matched by opts.ExcludePatterns.
func Build(local, remote map[string]storage.FileInfo, opts Options, lookup IndexLookup) []Comparison {
	filter := NewExcludeFilter(opts.ExcludePatterns)

	paths := make(map[string]bool, len(local)+len(remote))
	for rel := range local {
		paths[rel] = true
	}

	for rel := range remote {
		paths[rel] = true
	}

	sorted := make([]string, 0, len(paths))

	for rel := range paths {
		if filter.Excluded(rel) {
			continue
		}

		sorted = append(sorted, rel)
	}

	sort.Strings(sorted)

	results := make([]Comparison, 0, len(sorted))

	for _, rel := range sorted {
		localInfo, hasLocal := local[rel]
		remoteInfo, hasRemote := remote[rel]

		comp := Comparison{RelativePath: rel}

		switch {
		case hasLocal && !hasRemote:
			comp.Local = &localInfo
			comp.IsDir = localInfo.IsDir
			comp.Status = StatusLocalOnly
			comp.Reason = "present only locally"
		case !hasLocal && hasRemote:
			comp.Remote = &remoteInfo
			comp.IsDir = remoteInfo.IsDir
			comp.Status = StatusRemoteOnly
			comp.Reason = "present only remotely"
		default:
			comp.Local = &localInfo
			comp.Remote = &remoteInfo
			comp.IsDir = localInfo.IsDir && remoteInfo.IsDir
			comp.Status, comp.Reason = classifyBoth(localInfo, remoteInfo, opts, lookup)
		}

		results = append(results, comp)
	}

	return results
}

// Classify returns the status for a single path. Either side may be
// nil to indicate absence. Pure: same inputs, same status.
func Classify(local, remote *storage.FileInfo, opts Options, lookup IndexLookup) (Status, string) {
	switch {
	case local != nil && remote == nil:
		return StatusLocalOnly, "present only locally"
	case local == nil && remote != nil:
		return StatusRemoteOnly, "present only remotely"
	case local == nil && remote == nil:
		return StatusIdentical, "absent on both sides"
	default:
		return classifyBoth(*local, *remote, opts, lookup)
	}
}

// classifyBoth handles paths present on both sides. Order of signals:
// type agreement, index evidence, size, timestamp, checksum.
func classifyBoth(local, remote storage.FileInfo, opts Options, lookup IndexLookup) (Status, string) {
	if local.IsDir != remote.IsDir {
		return StatusConflict, "directory on one side, file on the other"
	}

	if local.IsDir {
		return StatusIdentical, "directory exists on both sides"
	}

	// Index evidence resolves the undecidable cases: a side "changed"
	// when it no longer matches the last synced snapshot.
	if lookup != nil {
		if size, modified, ok := lookup(local.RelativePath); ok {
			localChanged := local.Size != size || !TimestampsEqual(local.Modified, modified)
			remoteChanged := remote.Size != size || !TimestampsEqual(remote.Modified, modified)

			switch {
			case localChanged && remoteChanged:
				return StatusConflict, "both sides changed since last sync"
			case localChanged:
				return StatusLocalNewer, "local changed since last sync"
			case remoteChanged:
				return StatusRemoteNewer, "remote changed since last sync"
			default:
				return StatusIdentical, "unchanged since last sync"
			}
		}
	}

	sizeDiffers := opts.CompareSize && local.Size != remote.Size

	comparable := opts.CompareTimestamp && local.HasModTime() && remote.HasModTime()
	timesDiffer := comparable && !TimestampsEqual(local.Modified, remote.Modified)

	checksumsDiffer := opts.CompareChecksum &&
		local.Checksum != "" && remote.Checksum != "" &&
		local.Checksum != remote.Checksum

	if !sizeDiffers && !timesDiffer && !checksumsDiffer {
		return StatusIdentical, "all enabled criteria agree"
	}

	// The more recently modified side wins when timestamps can decide.
	if timesDiffer {
		if local.Modified.After(remote.Modified) {
			return StatusLocalNewer, "local modified more recently"
		}

		return StatusRemoteNewer, "remote modified more recently"
	}

	if sizeDiffers {
		return StatusSizeMismatch, fmt.Sprintf("size differs (%d vs %d) and timestamps cannot decide", local.Size, remote.Size)
	}

	// Same size, undecidable timestamps, diverging content: no winner.
	return StatusConflict, "checksums differ with no resolvable winner"
}
