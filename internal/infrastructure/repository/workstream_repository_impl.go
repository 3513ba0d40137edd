package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/repoforge/internal/app"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/repository"
	"github.com/YoshitsuguKoike/repoforge/internal/infra/fs"
)

// WorkstreamRepositoryImpl stores each workstream as a write-once YAML file
type WorkstreamRepositoryImpl struct {
	FS    afero.Fs
	paths app.Paths
}

// NewWorkstreamRepositoryImpl creates a new file-based workstream repository
func NewWorkstreamRepositoryImpl(fsys afero.Fs, paths app.Paths) *WorkstreamRepositoryImpl {
	return &WorkstreamRepositoryImpl{FS: fsys, paths: paths}
}

// Save writes ws to workstreams/<ws_id>.yaml unless it already exists
func (r *WorkstreamRepositoryImpl) Save(ctx context.Context, ws *workstream.Workstream) error {
	data, err := yaml.Marshal(ws)
	if err != nil {
		return fmt.Errorf("marshal workstream %s: %w", ws.ID, err)
	}
	path := r.paths.Run(ws.RunID).Workstream(ws.ID)

	existing, err := afero.ReadFile(r.FS, path)
	switch {
	case err == nil:
		if bytes.Equal(existing, data) {
			return nil
		}
		return fmt.Errorf("workstream %s: %w", ws.ID, repository.ErrAlreadyExists)
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("read workstream %s: %w", ws.ID, err)
	}

	if err := fs.WriteFileAtomic(r.FS, path, data); err != nil {
		return fmt.Errorf("save workstream %s: %w", ws.ID, err)
	}
	return nil
}

// List loads every workstream of a run ordered by ordinal
func (r *WorkstreamRepositoryImpl) List(ctx context.Context, runID string) ([]*workstream.Workstream, error) {
	dir := r.paths.Run(runID).Workstreams
	entries, err := afero.ReadDir(r.FS, dir)
	if errors.Is(err, os.ErrNotExist) {
		return []*workstream.Workstream{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list workstreams of run %s: %w", runID, err)
	}

	out := make([]*workstream.Workstream, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := afero.ReadFile(r.FS, filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		var ws workstream.Workstream
		if err := yaml.Unmarshal(data, &ws); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", repository.ErrCorrupt, e.Name(), err)
		}
		out = append(out, &ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}
