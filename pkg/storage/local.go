package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local is the Client for plain directories on the machine running the
// engine. It is also the "local side" helper the executor uses for
// directory creation and verification.
type Local struct{}

// NewLocal returns a local-filesystem client.
func NewLocal() *Local {
	return &Local{}
}

// ListDirectory walks root and returns every file and directory under
// it, keyed by slash-separated relative path.
func (l *Local) ListDirectory(ctx context.Context, root string, progress ScanProgressFunc) (map[string]FileInfo, error) {
	entries := make(map[string]FileInfo)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal: a sync run
			// should still cover everything it can reach.
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}

		rel = filepath.ToSlash(rel)

		fi := FileInfo{
			Path:         path,
			RelativePath: rel,
			IsDir:        info.IsDir(),
			Modified:     info.ModTime(),
		}
		if !fi.IsDir {
			fi.Size = info.Size()
		}

		entries[rel] = fi

		if progress != nil {
			progress(ScanProgress{Root: root, FilesFound: len(entries)})
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	return entries, nil
}

// Stat returns info for a single local path.
func (l *Local) Stat(_ context.Context, path string) (FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	fi := FileInfo{
		Path:     path,
		IsDir:    info.IsDir(),
		Modified: info.ModTime(),
	}
	if !fi.IsDir {
		fi.Size = info.Size()
	}

	return fi, nil
}

// Upload copies localPath to remotePath, both on the local filesystem.
func (l *Local) Upload(ctx context.Context, localPath, remotePath string, progress TransferProgressFunc) (int64, error) {
	return l.copyFile(ctx, localPath, remotePath, progress)
}

// Download copies remotePath to localPath, both on the local
// filesystem.
func (l *Local) Download(ctx context.Context, remotePath, localPath string, progress TransferProgressFunc) (int64, error) {
	return l.copyFile(ctx, remotePath, localPath, progress)
}

// copyFile streams src to dst, preserving the modification time and
// removing the partial destination on failure.
func (l *Local) copyFile(ctx context.Context, src, dst string, progress TransferProgressFunc) (int64, error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", src, err)
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dst, err)
	}

	written, copyErr := copyStream(ctx, dstFile, srcFile, srcInfo.Size(), progress)

	closeErr := dstFile.Close()

	if copyErr != nil {
		_ = os.Remove(dst)

		return written, copyErr
	}

	if closeErr != nil {
		_ = os.Remove(dst)

		return written, fmt.Errorf("failed to close %s: %w", dst, closeErr)
	}

	if err := os.Chtimes(dst, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return written, fmt.Errorf("failed to preserve modification time on %s: %w", dst, err)
	}

	return written, nil
}

// Mkdir creates path and any missing parents.
func (l *Local) Mkdir(_ context.Context, path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	return nil
}

// Delete removes a file or empty directory.
func (l *Local) Delete(_ context.Context, path string, _ bool) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}

	return nil
}

// Checksum computes the SHA-256 digest of the file at path.
func (l *Local) Checksum(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	buf := make([]byte, BufferSize)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, readErr := file.Read(buf)
		if n > 0 {
			if _, err := hasher.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("hash write failed: %w", err)
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				break
			}

			return "", fmt.Errorf("failed to read %s: %w", path, readErr)
		}
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// KeepAlive is a no-op for local directories.
func (l *Local) KeepAlive(_ context.Context) error {
	return nil
}

// Hints describes local filesystem capabilities.
func (l *Local) Hints() OptimizationHints {
	return OptimizationHints{
		SupportsResume:        true,
		PreferredChecksumAlgo: "sha256",
	}
}

// Close is a no-op for local directories.
func (l *Local) Close() error {
	return nil
}
