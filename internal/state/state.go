// Package state handles on-disk persistence of engine records.
//
// Every record is a standalone JSON file. Writes go through a temp file
// followed by an atomic rename so a crash mid-write never leaves a
// truncated record behind.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
)

// PairKey derives a filesystem-safe identifier for a (local, remote)
// pair. Records scoped to a pair embed it in their filenames.
func PairKey(localPath, remotePath string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(localPath))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(remotePath))

	return fmt.Sprintf("%016x", h.Sum64())
}

// Dir returns the directory that holds persisted engine state,
// creating it if needed. Defaults to <user-config-dir>/dirsync and can
// be overridden with the DIRSYNC_STATE_DIR environment variable.
func Dir() (string, error) {
	if override := os.Getenv("DIRSYNC_STATE_DIR"); override != "" {
		if err := os.MkdirAll(override, 0o755); err != nil {
			return "", fmt.Errorf("failed to create state directory: %w", err)
		}

		return override, nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config directory: %w", err)
	}

	dir := filepath.Join(base, "dirsync")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}

	return dir, nil
}

// WriteJSON marshals v and writes it to path atomically (temp file +
// rename in the same directory).
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		// Best effort: don't leave the temp file around.
		_ = os.Remove(tmp)

		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}

// ReadJSON unmarshals the record at path into v. It returns false with
// a nil error when the record does not exist.
func ReadJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return true, nil
}
