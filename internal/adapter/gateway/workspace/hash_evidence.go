package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
)

// HashEvidenceCollector detects changes by comparing content hashes of every
// regular file in a workspace
type HashEvidenceCollector struct {
	FS       afero.Fs
	skipName map[string]bool
}

var _ output.EvidenceCollector = (*HashEvidenceCollector)(nil)

// NewHashEvidenceCollector creates a collector that ignores directories named skipNames
func NewHashEvidenceCollector(fsys afero.Fs, skipNames ...string) *HashEvidenceCollector {
	c := &HashEvidenceCollector{FS: fsys, skipName: map[string]bool{}}
	for _, n := range skipNames {
		c.skipName[n] = true
	}
	return c
}

// Baseline fingerprints every file under root
func (c *HashEvidenceCollector) Baseline(ctx context.Context, root string) (output.Baseline, error) {
	base := output.Baseline{}
	err := afero.Walk(c.FS, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			if path != root && c.skipName[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		sum, err := hashFile(c.FS, path)
		if err != nil {
			return err
		}
		base[filepath.ToSlash(rel)] = sum
		return nil
	})
	if err != nil {
		return nil, err
	}
	return base, nil
}

// Changed returns files modified, added or deleted since base
func (c *HashEvidenceCollector) Changed(ctx context.Context, root string, base output.Baseline) ([]string, error) {
	now, err := c.Baseline(ctx, root)
	if err != nil {
		return nil, err
	}
	return diffBaselines(base, now), nil
}

func diffBaselines(before, after output.Baseline) []string {
	var changed []string
	for p, sum := range after {
		if before[p] != sum {
			changed = append(changed, p)
		}
	}
	for p := range before {
		if _, ok := after[p]; !ok {
			changed = append(changed, p)
		}
	}
	sort.Strings(changed)
	return changed
}

func hashFile(fsys afero.Fs, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
