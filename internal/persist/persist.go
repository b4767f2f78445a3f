// Package persist holds the small file primitives shared by the
// disk-backed stores: atomic JSON replacement and corrupt-file backup.
package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// WriteJSONAtomic writes v to path via a sibling temp file and rename,
// so readers never observe a half-written document.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// BackupCorrupt moves an unparsable file aside under a timestamped
// name and returns the backup path.
func BackupCorrupt(path string) (string, error) {
	backup := path + ".corrupt-" + time.Now().UTC().Format("20060102T150405")
	if err := os.Rename(path, backup); err != nil {
		return "", err
	}
	return backup, nil
}
