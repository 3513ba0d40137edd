// Package fs provides durable file primitives: fsync helpers, atomic
// replacement, append-only NDJSON files and advisory file locks.
package fs

import (
	"fmt"
	"os"
)

// FsyncFile flushes f to stable storage
func FsyncFile(f *os.File) error {
	if f == nil {
		return fmt.Errorf("fsync: file is nil")
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync %s: %w", f.Name(), err)
	}
	return nil
}

// FsyncDir flushes a directory so entries created or renamed in it survive a crash
func FsyncDir(path string) error {
	if path == "" {
		return fmt.Errorf("fsync dir: path is empty")
	}
	dir, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("fsync dir %s: %w", path, err)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return fmt.Errorf("fsync dir %s: %w", path, err)
	}
	return nil
}
