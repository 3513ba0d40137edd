package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/repoforge/internal/app"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/run"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/repository"
	"github.com/YoshitsuguKoike/repoforge/internal/infra/fs"
)

// SnapshotRepositoryImpl stores the materialized run record as snapshot.json
type SnapshotRepositoryImpl struct {
	FS    afero.Fs
	paths app.Paths
}

// NewSnapshotRepositoryImpl creates a new file-based snapshot repository
func NewSnapshotRepositoryImpl(fsys afero.Fs, paths app.Paths) *SnapshotRepositoryImpl {
	return &SnapshotRepositoryImpl{FS: fsys, paths: paths}
}

// Save atomically replaces the snapshot of the record's run
func (r *SnapshotRepositoryImpl) Save(ctx context.Context, s run.Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return fs.WriteFileAtomic(r.FS, r.paths.Run(s.Record.RunID).Snapshot, data)
}

// Load returns repository.ErrNotFound when no snapshot exists
func (r *SnapshotRepositoryImpl) Load(ctx context.Context, runID string) (*run.Snapshot, error) {
	data, err := afero.ReadFile(r.FS, r.paths.Run(runID).Snapshot)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("snapshot of run %s: %w", runID, repository.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var s run.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: snapshot of run %s: %v", repository.ErrCorrupt, runID, err)
	}
	return &s, nil
}
