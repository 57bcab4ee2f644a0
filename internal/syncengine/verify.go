package syncengine

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/joe/dirsync/internal/compare"
	"github.com/joe/dirsync/internal/journal"
	"github.com/joe/dirsync/internal/profile"
	"github.com/joe/dirsync/pkg/storage"
)

// Verifier checks a completed transfer against a verification policy.
type Verifier struct {
	Local      storage.Client
	Remote     storage.Client
	LocalRoot  string
	RemoteRoot string
}

// Check compares the two sides of relPath after a transfer. A nil
// return means the transfer verified under the policy.
func (v *Verifier) Check(ctx context.Context, policy profile.VerifyPolicy, relPath string, action journal.Action) error {
	if policy == profile.VerifyNone {
		return nil
	}

	localPath := filepath.Join(v.LocalRoot, filepath.FromSlash(relPath))
	remotePath := path.Join(v.RemoteRoot, relPath)

	localInfo, err := v.Local.Stat(ctx, localPath)
	if err != nil {
		return fmt.Errorf("verification stat failed on local side: %w", err)
	}

	remoteInfo, err := v.Remote.Stat(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("verification stat failed on remote side: %w", err)
	}

	if localInfo.Size != remoteInfo.Size {
		return fmt.Errorf("size mismatch after %s: local %d, remote %d", action, localInfo.Size, remoteInfo.Size)
	}

	if policy == profile.VerifySizeOnly {
		return nil
	}

	if policy == profile.VerifySizeAndMtime || policy == profile.VerifyFull {
		if !compare.TimestampsEqual(localInfo.Modified, remoteInfo.Modified) {
			return fmt.Errorf("modification time mismatch after %s: local %s, remote %s",
				action, localInfo.Modified, remoteInfo.Modified)
		}
	}

	if policy != profile.VerifyFull {
		return nil
	}

	localSum, err := v.Local.Checksum(ctx, localPath)
	if err != nil {
		return fmt.Errorf("verification checksum failed on local side: %w", err)
	}

	remoteSum, err := v.Remote.Checksum(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("verification checksum failed on remote side: %w", err)
	}

	if localSum != remoteSum {
		return fmt.Errorf("checksum mismatch after %s", action)
	}

	return nil
}
