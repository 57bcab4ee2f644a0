// Package syncerrors classifies raw transfer errors into a stable
// taxonomy so the engine can decide whether an operation is worth
// retrying and report failures in consistent terms.
package syncerrors

import (
	"strings"
)

// Kind identifies a category of sync failure.
type Kind string

// Error kinds, from most to least specific.
const (
	KindNetwork          Kind = "network"
	KindAuth             Kind = "auth"
	KindPathNotFound     Kind = "path_not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindQuotaExceeded    Kind = "quota_exceeded"
	KindRateLimit        Kind = "rate_limit"
	KindTimeout          Kind = "timeout"
	KindFileLocked       Kind = "file_locked"
	KindDiskError        Kind = "disk_error"
	KindUnknown          Kind = "unknown"
)

// Info is the classified form of a transfer error. It is what the
// journal records for a failed entry.
type Info struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	FilePath  string `json:"file_path,omitempty"`
}

// Error implements the error interface so classified errors can travel
// through ordinary error returns.
func (i *Info) Error() string {
	return string(i.Kind) + ": " + i.Message
}

// kindPatterns maps each kind to lowercase substrings that identify it.
// Order matters: the first kind whose pattern matches wins, so more
// specific kinds come before broader ones.
var kindPatterns = []struct {
	kind     Kind
	patterns []string
}{
	{KindAuth, []string{
		"authentication", "auth failed", "login incorrect", "permission denied (publickey",
		"530", "handshake failed", "unable to authenticate",
	}},
	{KindQuotaExceeded, []string{
		"quota", "552", "no space left", "insufficient storage",
	}},
	{KindRateLimit, []string{
		"rate limit", "too many requests", "429", "slow down",
	}},
	{KindTimeout, []string{
		"timeout", "timed out", "deadline exceeded",
	}},
	{KindFileLocked, []string{
		"locked", "in use by another process", "sharing violation",
	}},
	{KindPathNotFound, []string{
		"no such file", "not found", "550", "does not exist", "enoent",
	}},
	{KindPermissionDenied, []string{
		"permission denied", "access denied", "operation not permitted", "553",
	}},
	{KindDiskError, []string{
		"i/o error", "input/output error", "read-only file system", "bad file descriptor",
	}},
	{KindNetwork, []string{
		"connection refused", "connection reset", "broken pipe", "network is unreachable",
		"no route to host", "connection closed", "eof", "dial tcp",
	}},
}

// transientPatterns are session-state errors that resolve themselves;
// they are retryable regardless of the kind they otherwise match.
var transientPatterns = []string{
	"data connection already open",
	"transfer already in progress",
}

// retryableKinds are retryable by default. Everything else requires
// operator attention before a retry could succeed.
var retryableKinds = map[Kind]bool{
	KindNetwork:   true,
	KindTimeout:   true,
	KindRateLimit: true,
}

// Classify inspects err and returns its classified form. filePath is
// recorded on the result when non-empty. A nil err returns nil.
func Classify(err error, filePath string) *Info {
	if err == nil {
		return nil
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	info := &Info{
		Kind:     KindUnknown,
		Message:  msg,
		FilePath: filePath,
	}

	for _, entry := range kindPatterns {
		if matchesAny(lower, entry.patterns) {
			info.Kind = entry.kind

			break
		}
	}

	info.Retryable = retryableKinds[info.Kind]

	// Session-state noise is always worth one more try, even when it
	// pattern-matched a non-retryable kind.
	if matchesAny(lower, transientPatterns) {
		info.Retryable = true
	}

	return info
}

// IsRetryable reports whether err classifies as retryable.
func IsRetryable(err error) bool {
	info := Classify(err, "")

	return info != nil && info.Retryable
}

func matchesAny(lower string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}

	return false
}
