package finding

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/repoforge/internal/app/config"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/toolrun"
)

func TestFileFindingSource_Formats(t *testing.T) {
	fsys := afero.NewMemMapFs()
	files := map[string]string{
		"/repo/list.json":     `[{"category":"lint","files":["a.go"],"description":"unused"}]`,
		"/repo/envelope.json": `{"findings":[{"category":"lint","files":["a.go"],"description":"unused"}]}`,
		"/repo/list.yaml":     "- category: lint\n  files: [a.go]\n  description: unused\n",
		"/repo/envelope.yml":  "findings:\n  - category: lint\n    files: [a.go]\n    description: unused\n",
	}
	for p, content := range files {
		require.NoError(t, afero.WriteFile(fsys, p, []byte(content), 0o644))
	}

	want := []gap.Finding{{Category: "lint", Files: []string{"a.go"}, Description: "unused"}}
	for p := range files {
		t.Run(p, func(t *testing.T) {
			got, err := NewFileFindingSource(fsys, p).Findings(context.Background(), "/repo")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestFileFindingSource_RelativePathAndErrors(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/repo/findings.json", []byte("  "), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/repo/broken.json", []byte("{"), 0o644))

	got, err := NewFileFindingSource(fsys, "findings.json").Findings(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = NewFileFindingSource(fsys, "broken.json").Findings(context.Background(), "/repo")
	assert.ErrorContains(t, err, "decode findings")

	_, err = NewFileFindingSource(fsys, "missing.json").Findings(context.Background(), "/repo")
	assert.ErrorContains(t, err, "read findings")
}

type stubRunner struct {
	req toolrun.Request
	res toolrun.Result
}

func (s *stubRunner) RunTool(ctx context.Context, req toolrun.Request) toolrun.Result {
	s.req = req
	return s.res
}

func TestCommandFindingSource(t *testing.T) {
	runner := &stubRunner{res: toolrun.Result{
		Success: true,
		Stdout:  `[{"category":"tests","files":["pkg/a_test.go"],"description":"flaky"}]`,
	}}
	src := NewCommandFindingSource(runner, config.DiscoveryCommand{Bin: "scan", Args: []string{"--root", "{workspace}"}})

	got, err := src.Findings(context.Background(), "/repo")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "tests", got[0].Category)
	assert.Equal(t, []string{"--root", "/repo"}, runner.req.Args)
	assert.Equal(t, DiscoveryToolID, runner.req.ToolID)
	assert.Equal(t, "/repo", runner.req.WorkspaceRoot)
	assert.Positive(t, runner.req.Timeout)
}

func TestCommandFindingSource_Failure(t *testing.T) {
	runner := &stubRunner{res: toolrun.Result{ExitCode: toolrun.ExitNotFound, Message: "scan: executable not found"}}
	src := NewCommandFindingSource(runner, config.DiscoveryCommand{Bin: "scan"})

	_, err := src.Findings(context.Background(), "/repo")
	assert.ErrorContains(t, err, "not-found")
	assert.ErrorContains(t, err, "executable not found")
}

func TestCommandFindingSource_WithRunner(t *testing.T) {
	first := &stubRunner{}
	second := &stubRunner{res: toolrun.Result{Success: true, Stdout: "[]"}}
	src := NewCommandFindingSource(first, config.DiscoveryCommand{Bin: "scan"})

	rebound := src.WithRunner(second)
	got, err := rebound.Findings(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, "scan", second.req.Bin)
	assert.Empty(t, first.req.Bin, "the original source keeps its runner")
	assert.Same(t, first, src.Runner())
}
