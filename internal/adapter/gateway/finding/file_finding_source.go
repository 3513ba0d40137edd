// Package finding adapts external gap discovery engines to the FindingSource port.
package finding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
)

// FileFindingSource reads findings produced ahead of time by a discovery engine.
// JSON and YAML are accepted, either as a bare list or as {"findings": [...]}.
type FileFindingSource struct {
	FS   afero.Fs
	Path string // relative paths are resolved against the repository root
}

var _ output.FindingSource = (*FileFindingSource)(nil)

// NewFileFindingSource creates a file-backed source
func NewFileFindingSource(fsys afero.Fs, path string) *FileFindingSource {
	return &FileFindingSource{FS: fsys, Path: path}
}

// Findings reads and decodes the findings file
func (s *FileFindingSource) Findings(ctx context.Context, repoRoot string) ([]gap.Finding, error) {
	path := s.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(repoRoot, path)
	}
	data, err := afero.ReadFile(s.FS, path)
	if err != nil {
		return nil, fmt.Errorf("read findings: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	findings, err := Decode(data, ext == ".yaml" || ext == ".yml")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return findings, nil
}

type envelope struct {
	Findings []gap.Finding `json:"findings" yaml:"findings"`
}

// Decode parses a findings document
func Decode(data []byte, isYAML bool) ([]gap.Finding, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []gap.Finding{}, nil
	}

	if isYAML {
		var list []gap.Finding
		if err := yaml.Unmarshal(trimmed, &list); err == nil {
			return list, nil
		}
		var env envelope
		if err := yaml.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("decode findings: %w", err)
		}
		return env.Findings, nil
	}

	if trimmed[0] == '[' {
		var list []gap.Finding
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode findings: %w", err)
		}
		return list, nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decode findings: %w", err)
	}
	return env.Findings, nil
}
