package repository

import (
	"github.com/YoshitsuguKoike/repoforge/internal/app"
	"github.com/YoshitsuguKoike/repoforge/internal/infra/fs"
)

// RunLockImpl serializes controllers of one run with an flock on run.lock
type RunLockImpl struct {
	paths app.Paths
}

// NewRunLockImpl creates a lock provider rooted at paths
func NewRunLockImpl(paths app.Paths) *RunLockImpl {
	return &RunLockImpl{paths: paths}
}

// TryLock fails with fs.ErrLocked when another process drives runID
func (l *RunLockImpl) TryLock(runID string) (func() error, error) {
	lock, err := fs.TryLock(l.paths.Run(runID).Lock)
	if err != nil {
		return nil, err
	}
	return lock.Unlock, nil
}
