package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
)

// GitProvisioner materializes workspaces as git clones. Files promoted into a
// clone under the work root are committed, so later clones of it see them.
// Promotion into the repository itself only writes files.
type GitProvisioner struct {
	workRoot string
	fs       afero.Fs
	now      func() time.Time
}

var _ output.WorkspaceProvisioner = (*GitProvisioner)(nil)

// NewGitProvisioner creates a provisioner whose managed clones live under workRoot
func NewGitProvisioner(workRoot string, now func() time.Time) *GitProvisioner {
	if now == nil {
		now = time.Now
	}
	abs, err := filepath.Abs(workRoot)
	if err != nil {
		abs = filepath.Clean(workRoot)
	}
	return &GitProvisioner{workRoot: abs, fs: afero.NewOsFs(), now: now}
}

// Create clones the repository at src into dst. Uncommitted changes in src
// are not part of the clone.
func (p *GitProvisioner) Create(ctx context.Context, src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("workspace %s already exists", dst)
	}
	if _, err := git.PlainOpen(src); err != nil {
		return fmt.Errorf("%s is not a git repository: %w", src, err)
	}
	if _, err := git.PlainCloneContext(ctx, dst, false, &git.CloneOptions{URL: src}); err != nil {
		return fmt.Errorf("clone %s: %w", src, err)
	}
	return nil
}

// Promote copies files and, for managed clones, commits them
func (p *GitProvisioner) Promote(ctx context.Context, src, dst string, files []string) error {
	if err := promote(ctx, p.fs, src, dst, files); err != nil {
		return err
	}
	if !p.managed(dst) || len(files) == 0 {
		return nil
	}
	return p.commit(dst, files)
}

// Remove deletes a workspace
func (p *GitProvisioner) Remove(ctx context.Context, dir string) error {
	if dir == "" {
		return errors.New("empty workspace path")
	}
	return os.RemoveAll(dir)
}

func (p *GitProvisioner) managed(dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	return strings.HasPrefix(abs, p.workRoot+string(filepath.Separator))
}

func (p *GitProvisioner) commit(dir string, files []string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("open %s: %w", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	for _, f := range files {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(f))); errors.Is(err, os.ErrNotExist) {
			if _, err := wt.Remove(f); err != nil {
				return fmt.Errorf("stage deletion of %s: %w", f, err)
			}
			continue
		}
		if _, err := wt.Add(f); err != nil {
			return fmt.Errorf("stage %s: %w", f, err)
		}
	}

	status, err := wt.Status()
	if err != nil {
		return err
	}
	if status.IsClean() {
		return nil
	}
	_, err = wt.Commit(fmt.Sprintf("repoforge: promote %d file(s)", len(files)), &git.CommitOptions{
		Author: &object.Signature{Name: "repoforge", Email: "repoforge@localhost", When: p.now()},
	})
	return err
}
