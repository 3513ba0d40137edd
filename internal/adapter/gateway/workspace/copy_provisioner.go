// Package workspace provisions isolated working trees for workstreams and
// tasks, and observes what tools changed inside them.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/service/planner"
	"github.com/YoshitsuguKoike/repoforge/internal/infra/fs"
)

// CopyProvisioner materializes workspaces as plain file copies
type CopyProvisioner struct {
	FS       afero.Fs
	skipDirs map[string]bool // absolute directories never copied
	skipName map[string]bool // directory base names never copied
}

var _ output.WorkspaceProvisioner = (*CopyProvisioner)(nil)

// NewCopyProvisioner creates a provisioner. skipDirs are absolute paths
// (typically the repoforge home) and skipNames are directory names such as
// ".git" that are left out of every copy.
func NewCopyProvisioner(fsys afero.Fs, skipDirs []string, skipNames ...string) *CopyProvisioner {
	p := &CopyProvisioner{FS: fsys, skipDirs: map[string]bool{}, skipName: map[string]bool{}}
	for _, d := range skipDirs {
		if abs, err := filepath.Abs(d); err == nil {
			p.skipDirs[abs] = true
		}
		p.skipDirs[filepath.Clean(d)] = true
	}
	for _, n := range skipNames {
		p.skipName[n] = true
	}
	return p
}

// Create copies the tree at src to dst
func (p *CopyProvisioner) Create(ctx context.Context, src, dst string) error {
	if exists, err := afero.Exists(p.FS, dst); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("workspace %s already exists", dst)
	}
	dstAbs, _ := filepath.Abs(dst)

	return afero.Walk(p.FS, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			if rel != "." && p.skip(path, info.Name(), dstAbs) {
				return filepath.SkipDir
			}
			return p.FS.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(p.FS, path, target, info.Mode().Perm())
	})
}

func (p *CopyProvisioner) skip(path, name, dstAbs string) bool {
	if p.skipName[name] {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return p.skipDirs[abs] || p.skipDirs[filepath.Clean(path)] || abs == dstAbs
}

// Promote copies files from src into dst; files missing in src are removed from dst
func (p *CopyProvisioner) Promote(ctx context.Context, src, dst string, files []string) error {
	return promote(ctx, p.FS, src, dst, files)
}

// Remove deletes a workspace
func (p *CopyProvisioner) Remove(ctx context.Context, dir string) error {
	if dir == "" {
		return errors.New("empty workspace path")
	}
	return p.FS.RemoveAll(dir)
}

func promote(ctx context.Context, fsys afero.Fs, src, dst string, files []string) error {
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !planner.InsideRoot(dst, f) {
			return fmt.Errorf("promote %s: path escapes the workspace", f)
		}
		from := filepath.Join(src, filepath.FromSlash(f))
		to := filepath.Join(dst, filepath.FromSlash(f))

		info, err := fsys.Stat(from)
		switch {
		case errors.Is(err, os.ErrNotExist):
			if err := fsys.Remove(to); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("promote deletion of %s: %w", f, err)
			}
		case err != nil:
			return err
		case info.IsDir():
			return fmt.Errorf("promote %s: is a directory", f)
		default:
			if err := copyFile(fsys, from, to, info.Mode().Perm()); err != nil {
				return fmt.Errorf("promote %s: %w", f, err)
			}
		}
	}
	return nil
}

// copyFile writes src to dst atomically and keeps the source permissions
func copyFile(fsys afero.Fs, src, dst string, perm os.FileMode) error {
	in, err := fsys.Open(src)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(in)
	in.Close()
	if err != nil {
		return err
	}
	if err := fs.WriteFileAtomic(fsys, dst, data); err != nil {
		return err
	}
	return fsys.Chmod(dst, perm)
}
