package syncerrors_test

import (
	"errors"
	"testing"

	"github.com/joe/dirsync/pkg/syncerrors"
)

func TestClassifyKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		message       string
		wantKind      syncerrors.Kind
		wantRetryable bool
	}{
		{
			name:          "connection refused is retryable network",
			message:       "dial tcp 10.0.0.5:22: connection refused",
			wantKind:      syncerrors.KindNetwork,
			wantRetryable: true,
		},
		{
			name:          "connection reset is retryable network",
			message:       "read: connection reset by peer",
			wantKind:      syncerrors.KindNetwork,
			wantRetryable: true,
		},
		{
			name:          "timeout is retryable",
			message:       "context deadline exceeded",
			wantKind:      syncerrors.KindTimeout,
			wantRetryable: true,
		},
		{
			name:          "rate limit is retryable",
			message:       "429 too many requests",
			wantKind:      syncerrors.KindRateLimit,
			wantRetryable: true,
		},
		{
			name:          "auth failure is not retryable",
			message:       "ssh: unable to authenticate, attempted methods [publickey]",
			wantKind:      syncerrors.KindAuth,
			wantRetryable: false,
		},
		{
			name:          "missing path is not retryable",
			message:       "open /data/a.txt: no such file or directory",
			wantKind:      syncerrors.KindPathNotFound,
			wantRetryable: false,
		},
		{
			name:          "permission denied is not retryable",
			message:       "mkdir /var/backups: permission denied",
			wantKind:      syncerrors.KindPermissionDenied,
			wantRetryable: false,
		},
		{
			name:          "quota exceeded is not retryable",
			message:       "write failed: no space left on device",
			wantKind:      syncerrors.KindQuotaExceeded,
			wantRetryable: false,
		},
		{
			name:          "locked file",
			message:       "file is locked by another session",
			wantKind:      syncerrors.KindFileLocked,
			wantRetryable: false,
		},
		{
			name:          "disk error",
			message:       "read /mnt/usb/a.bin: input/output error",
			wantKind:      syncerrors.KindDiskError,
			wantRetryable: false,
		},
		{
			name:          "unrecognized message is unknown",
			message:       "something inexplicable happened",
			wantKind:      syncerrors.KindUnknown,
			wantRetryable: false,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			info := syncerrors.Classify(errors.New(test.message), "docs/a.txt")
			if info.Kind != test.wantKind {
				t.Errorf("kind = %s, want %s", info.Kind, test.wantKind)
			}

			if info.Retryable != test.wantRetryable {
				t.Errorf("retryable = %v, want %v", info.Retryable, test.wantRetryable)
			}

			if info.FilePath != "docs/a.txt" {
				t.Errorf("file path = %q, want docs/a.txt", info.FilePath)
			}
		})
	}
}

func TestClassifyTransientOverride(t *testing.T) {
	t.Parallel()

	// Session-state noise must be retryable even though it does not
	// match any retryable kind.
	info := syncerrors.Classify(errors.New("425 data connection already open"), "")
	if !info.Retryable {
		t.Error("data-connection-already-open should be retryable")
	}
}

func TestClassifyNil(t *testing.T) {
	t.Parallel()

	if info := syncerrors.Classify(nil, "x"); info != nil {
		t.Errorf("Classify(nil) = %+v, want nil", info)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	if !syncerrors.IsRetryable(errors.New("broken pipe")) {
		t.Error("broken pipe should be retryable")
	}

	if syncerrors.IsRetryable(errors.New("530 login incorrect")) {
		t.Error("auth failures should not be retryable")
	}
}

func TestInfoError(t *testing.T) {
	t.Parallel()

	info := &syncerrors.Info{Kind: syncerrors.KindTimeout, Message: "timed out"}
	if got := info.Error(); got != "timeout: timed out" {
		t.Errorf("Error() = %q", got)
	}
}
