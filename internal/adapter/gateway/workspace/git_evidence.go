package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
)

const deletedMark = "-"

// GitEvidenceCollector reads changes from the git worktree status, so files
// covered by .gitignore never count as modifications
type GitEvidenceCollector struct {
	fs afero.Fs
}

var _ output.EvidenceCollector = (*GitEvidenceCollector)(nil)

// NewGitEvidenceCollector creates a collector for git workspaces
func NewGitEvidenceCollector() *GitEvidenceCollector {
	return &GitEvidenceCollector{fs: afero.NewOsFs()}
}

// Baseline fingerprints the files that are already dirty
func (c *GitEvidenceCollector) Baseline(ctx context.Context, root string) (output.Baseline, error) {
	dirty, err := c.dirty(root)
	if err != nil {
		return nil, err
	}
	return c.fingerprint(root, dirty)
}

// Changed returns dirty files that were clean in base, plus files of base
// whose content changed since
func (c *GitEvidenceCollector) Changed(ctx context.Context, root string, base output.Baseline) ([]string, error) {
	dirty, err := c.dirty(root)
	if err != nil {
		return nil, err
	}
	for p := range base {
		dirty = append(dirty, p)
	}
	now, err := c.fingerprint(root, dirty)
	if err != nil {
		return nil, err
	}

	var changed []string
	for p, sum := range now {
		if base[p] != sum {
			changed = append(changed, p)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

func (c *GitEvidenceCollector) dirty(root string) ([]string, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", root, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("status of %s: %w", root, err)
	}
	var out []string
	for p, s := range status {
		if s.Worktree != git.Unmodified || s.Staging != git.Unmodified {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *GitEvidenceCollector) fingerprint(root string, paths []string) (output.Baseline, error) {
	base := output.Baseline{}
	for _, p := range paths {
		sum, err := hashFile(c.fs, filepath.Join(root, filepath.FromSlash(p)))
		if errors.Is(err, os.ErrNotExist) {
			sum = deletedMark
		} else if err != nil {
			return nil, err
		}
		base[p] = sum
	}
	return base, nil
}
