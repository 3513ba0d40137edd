//go:build windows
// +build windows

package fs

import (
	"os"
)

// On Windows locking relies on the in-process mutexes only.
// TODO: use LockFileEx so two processes cannot drive the same run.
func flockExclusive(f *os.File) error {
	return nil
}

func flockTryExclusive(f *os.File) error {
	return nil
}

func flockUnlock(f *os.File) error {
	return nil
}
