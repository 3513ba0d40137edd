package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/repository"
	infrafs "github.com/YoshitsuguKoike/repoforge/internal/infra/fs"
)

// LocalStorageGateway archives runs into a local directory
// Directory layout: <baseDir>/<runID>/<name>
type LocalStorageGateway struct {
	fs      afero.Fs
	baseDir string
}

// NewLocalStorageGateway creates a local filesystem-based archive
func NewLocalStorageGateway(fsys afero.Fs, baseDir string) *LocalStorageGateway {
	return &LocalStorageGateway{fs: fsys, baseDir: baseDir}
}

// SaveArtifact writes an artifact atomically
func (g *LocalStorageGateway) SaveArtifact(ctx context.Context, req output.SaveArtifactRequest) (*output.ArtifactMetadata, error) {
	if req.RunID == "" || req.Name == "" {
		return nil, fmt.Errorf("archive artifact: run id and name are required")
	}
	p, err := g.path(req.RunID, req.Name)
	if err != nil {
		return nil, err
	}
	if err := infrafs.WriteFileAtomic(g.fs, p, req.Content); err != nil {
		return nil, fmt.Errorf("archive %s: %w", req.Name, err)
	}
	return g.stat(req.RunID, req.Name, p)
}

// LoadArtifact reads one archived artifact
func (g *LocalStorageGateway) LoadArtifact(ctx context.Context, runID, name string) (*output.Artifact, error) {
	p, err := g.path(runID, name)
	if err != nil {
		return nil, err
	}
	content, err := afero.ReadFile(g.fs, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("artifact %s/%s: %w", runID, name, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	meta, err := g.stat(runID, name, p)
	if err != nil {
		return nil, err
	}
	return &output.Artifact{Content: content, Metadata: *meta}, nil
}

// ListArtifacts lists the archived artifacts of a run, sorted by name
func (g *LocalStorageGateway) ListArtifacts(ctx context.Context, runID string) ([]*output.ArtifactMetadata, error) {
	root := filepath.Join(g.baseDir, runID)
	var list []*output.ArtifactMetadata
	err := afero.Walk(g.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		meta, err := g.stat(runID, filepath.ToSlash(rel), p)
		if err != nil {
			return err
		}
		list = append(list, meta)
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list artifacts of %s: %w", runID, err)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func (g *LocalStorageGateway) path(runID, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact name %q escapes the archive", name)
	}
	return filepath.Join(g.baseDir, runID, clean), nil
}

func (g *LocalStorageGateway) stat(runID, name, p string) (*output.ArtifactMetadata, error) {
	info, err := g.fs.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	return &output.ArtifactMetadata{
		RunID:       runID,
		Name:        name,
		Type:        ArtifactTypeFor(name),
		StoragePath: p,
		ContentType: contentTypeFor(name),
		Size:        info.Size(),
		UploadedAt:  info.ModTime(),
	}, nil
}
