package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/repoforge/internal/app"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/repository"
	"github.com/YoshitsuguKoike/repoforge/internal/infra/fs"
)

// GapRepositoryImpl stores the registry snapshot as gaps.json
type GapRepositoryImpl struct {
	FS    afero.Fs
	paths app.Paths
}

// NewGapRepositoryImpl creates a new file-based gap repository
func NewGapRepositoryImpl(fsys afero.Fs, paths app.Paths) *GapRepositoryImpl {
	return &GapRepositoryImpl{FS: fsys, paths: paths}
}

type gapSnapshot struct {
	RunID string        `json:"run_id"`
	Gaps  []*gap.Record `json:"gaps"`
}

// Save atomically replaces the snapshot
func (r *GapRepositoryImpl) Save(ctx context.Context, runID string, gaps []*gap.Record) error {
	if gaps == nil {
		gaps = []*gap.Record{}
	}
	data, err := json.MarshalIndent(gapSnapshot{RunID: runID, Gaps: gaps}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal gaps: %w", err)
	}
	if err := fs.WriteFileAtomic(r.FS, r.paths.Run(runID).Gaps, data); err != nil {
		return fmt.Errorf("save gaps for run %s: %w", runID, err)
	}
	return nil
}

// Load returns the saved gaps in registry order, or an empty slice
func (r *GapRepositoryImpl) Load(ctx context.Context, runID string) ([]*gap.Record, error) {
	data, err := afero.ReadFile(r.FS, r.paths.Run(runID).Gaps)
	if errors.Is(err, os.ErrNotExist) {
		return []*gap.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load gaps for run %s: %w", runID, err)
	}
	var snap gapSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: gaps.json of run %s: %v", repository.ErrCorrupt, runID, err)
	}
	if snap.Gaps == nil {
		snap.Gaps = []*gap.Record{}
	}
	return snap.Gaps, nil
}
