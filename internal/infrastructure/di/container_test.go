package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/YoshitsuguKoike/repoforge/internal/app"
	appconfig "github.com/YoshitsuguKoike/repoforge/internal/app/config"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/toolrun"
	infraconfig "github.com/YoshitsuguKoike/repoforge/internal/infra/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// appendingRunner appends a line to every file in scope, like a fixer would
type appendingRunner struct{}

func (appendingRunner) RunTool(ctx context.Context, req toolrun.Request) toolrun.Result {
	for _, f := range req.FileScope {
		path := filepath.Join(req.WorkspaceRoot, f)
		data, err := os.ReadFile(path)
		if err != nil {
			return toolrun.Failure(req.InvocationID, req.ToolID, toolrun.ExitInternal, err.Error(), 0)
		}
		if err := os.WriteFile(path, append(data, []byte("// fixed\n")...), 0o644); err != nil {
			return toolrun.Failure(req.InvocationID, req.ToolID, toolrun.ExitInternal, err.Error(), 0)
		}
	}
	return toolrun.Result{InvocationID: req.InvocationID, ToolID: req.ToolID, Success: true, Duration: time.Millisecond}
}

// newRepo creates a repository with two Go files and a findings file
func newRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "pkg", "a.go"), []byte("package pkg\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "pkg", "b.go"), []byte("package pkg\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "findings.json"), []byte(`[
  {"category": "lint", "files": ["pkg/a.go"], "description": "unused variable"},
  {"category": "lint", "files": ["pkg/b.go"], "description": "missing error check"}
]`), 0o644))
	return repo
}

func loadConfig(t *testing.T, repo string) *appconfig.AppConfig {
	t.Helper()
	cfg, err := infraconfig.LoadSettings(t.TempDir())
	require.NoError(t, err)
	cfg.Home = filepath.Join(repo, ".repoforge")
	cfg.FindingsFile = "findings.json"
	return cfg
}

func TestContainer_RunEndToEnd(t *testing.T) {
	for _, backend := range []appconfig.LedgerBackend{appconfig.LedgerFile, appconfig.LedgerSQLite} {
		t.Run(string(backend), func(t *testing.T) {
			repo := newRepo(t)
			cfg := loadConfig(t, repo)
			cfg.LedgerBackend = backend
			cfg.ArchiveBackend = appconfig.ArchiveLocal

			c, err := NewContainer(context.Background(), Config{App: cfg, Runner: appendingRunner{}, Logger: app.NopLogger()})
			require.NoError(t, err)
			defer c.Close()

			uc, err := c.GetRunUseCase(repo)
			require.NoError(t, err)
			out, err := uc.Run(context.Background(), repo, "")
			require.NoError(t, err)
			assert.Equal(t, "DONE", out.FinalState, out.FailureReason)

			data, err := os.ReadFile(filepath.Join(repo, "pkg", "a.go"))
			require.NoError(t, err)
			assert.Equal(t, "package pkg\n// fixed\n", string(data))

			assert.FileExists(t, c.Paths().Run(out.RunID).Summary)
			assert.FileExists(t, c.Paths().Metrics)
			assert.FileExists(t, filepath.Join(c.Paths().Archive, out.RunID, "summary.json"))

			st, err := uc.Status(context.Background(), out.RunID)
			require.NoError(t, err)
			assert.Equal(t, map[string]int{"succeeded": 2}, st.TaskOutcomes)

			again, err := c.GetRunUseCase(repo)
			require.NoError(t, err)
			assert.Same(t, uc, again)
		})
	}
}

func TestContainer_DryRunKeepsRepository(t *testing.T) {
	repo := newRepo(t)
	cfg := loadConfig(t, repo)
	cfg.Apply = false

	c, err := NewContainer(context.Background(), Config{App: cfg, Runner: appendingRunner{}, Logger: app.NopLogger()})
	require.NoError(t, err)
	defer c.Close()

	uc, err := c.GetRunUseCase(repo)
	require.NoError(t, err)
	out, err := uc.Run(context.Background(), repo, "")
	require.NoError(t, err)
	assert.Equal(t, "DONE", out.FinalState)

	data, err := os.ReadFile(filepath.Join(repo, "pkg", "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "package pkg\n", string(data))
	assert.Nil(t, c.GetArchive())
}

func TestContainer_RejectsBadSettings(t *testing.T) {
	repo := newRepo(t)

	cfg := loadConfig(t, repo)
	cfg.Strategy = "random"
	_, err := NewContainer(context.Background(), Config{App: cfg, Logger: app.NopLogger()})
	assert.Error(t, err)

	cfg = loadConfig(t, repo)
	cfg.Severities = map[string]string{"no-such-rule": "warning"}
	c, err := NewContainer(context.Background(), Config{App: cfg, Logger: app.NopLogger()})
	require.NoError(t, err)
	defer c.Close()
	_, err = c.GetRunUseCase(repo)
	assert.ErrorContains(t, err, "guardrail policy")

	_, err = NewContainer(context.Background(), Config{})
	assert.Error(t, err)
}
