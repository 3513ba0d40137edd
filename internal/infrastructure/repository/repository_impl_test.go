package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/repoforge/internal/app"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/run"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/repository"
)

const runID = "01J9Z8Y7X6W5V4T3S2R1Q0P9N8"

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func newEntry(t *testing.T, kind ledger.EventKind, payload any) *ledger.Entry {
	t.Helper()
	e, err := ledger.NewEntry(runID, kind, t0, payload)
	require.NoError(t, err)
	return e
}

func TestLedgerRepository_AppendAssignsSeq(t *testing.T) {
	ctx := context.Background()
	paths := app.ResolvePaths(t.TempDir())
	repo := NewLedgerRepositoryImpl(paths)

	first, err := repo.Append(ctx, newEntry(t, ledger.EventRunStarted, ledger.RunStartedPayload{RepoRoot: "/repo"}))
	require.NoError(t, err)
	second, err := repo.Append(ctx, newEntry(t, ledger.EventPlanningAttempt, nil))
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)

	entries, err := repo.Entries(ctx, runID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.EventRunStarted, entries[0].Event)

	var p ledger.RunStartedPayload
	require.NoError(t, entries[0].Decode(&p))
	assert.Equal(t, "/repo", p.RepoRoot)

	runs, err := repo.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{runID}, runs)
}

func TestLedgerRepository_AppendOnlyPrefixStable(t *testing.T) {
	ctx := context.Background()
	paths := app.ResolvePaths(t.TempDir())
	repo := NewLedgerRepositoryImpl(paths)

	for i := 0; i < 3; i++ {
		_, err := repo.Append(ctx, newEntry(t, ledger.EventPlanningAttempt, ledger.PlanningAttemptPayload{Attempt: i + 1}))
		require.NoError(t, err)
	}
	before, err := os.ReadFile(paths.Run(runID).Ledger)
	require.NoError(t, err)

	_, err = repo.Append(ctx, newEntry(t, ledger.EventPlanningAttempt, nil))
	require.NoError(t, err)
	after, err := os.ReadFile(paths.Run(runID).Ledger)
	require.NoError(t, err)

	assert.Equal(t, before, after[:len(before)])
}

func TestLedgerRepository_ContinuesSeqAcrossInstances(t *testing.T) {
	ctx := context.Background()
	paths := app.ResolvePaths(t.TempDir())

	_, err := NewLedgerRepositoryImpl(paths).Append(ctx, newEntry(t, ledger.EventRunStarted, nil))
	require.NoError(t, err)

	e, err := NewLedgerRepositoryImpl(paths).Append(ctx, newEntry(t, ledger.EventPlanningAttempt, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Seq)
}

func TestLedgerRepository_RepairsTruncatedTail(t *testing.T) {
	ctx := context.Background()
	paths := app.ResolvePaths(t.TempDir())

	_, err := NewLedgerRepositoryImpl(paths).Append(ctx, newEntry(t, ledger.EventRunStarted, nil))
	require.NoError(t, err)

	f, err := os.OpenFile(paths.Run(runID).Ledger, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2,"event":"plann`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	repo := NewLedgerRepositoryImpl(paths)
	entries, err := repo.Entries(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	e, err := repo.Append(ctx, newEntry(t, ledger.EventPlanningAttempt, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Seq)

	entries, err = repo.Entries(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLedgerRepository_MissingRun(t *testing.T) {
	repo := NewLedgerRepositoryImpl(app.ResolvePaths(t.TempDir()))
	_, err := repo.Entries(context.Background(), "nope")
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	runs, err := repo.Runs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestLedgerRepository_ReplayRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepositoryImpl(app.ResolvePaths(t.TempDir()))

	appendState := func(next, prev run.State) {
		e, err := ledger.NewEnterState(runID, t0, string(next), string(prev), "")
		require.NoError(t, err)
		_, err = repo.Append(ctx, e)
		require.NoError(t, err)
	}
	_, err := repo.Append(ctx, newEntry(t, ledger.EventRunStarted, ledger.RunStartedPayload{RepoRoot: "/repo"}))
	require.NoError(t, err)
	appendState(run.StateInit, "")
	appendState(run.StateGapAnalysis, run.StateInit)

	entries, err := repo.Entries(ctx, runID)
	require.NoError(t, err)
	rec, err := run.Replay(entries)
	require.NoError(t, err)
	assert.Equal(t, run.StateGapAnalysis, rec.State)
	assert.Equal(t, int64(3), rec.LastSeq)
}

func TestGapRepository_SaveLoad(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	repo := NewGapRepositoryImpl(fsys, app.ResolvePaths("/home"))

	empty, err := repo.Load(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, empty)

	gaps := []*gap.Record{
		{ID: "GAP-0000000000000001", Category: "lint", FileScope: []string{"a.go"}, Status: gap.StatusNormalized, CreatedAt: t0, UpdatedAt: t0},
		{ID: "GAP-0000000000000002", Category: "tests", FileScope: []string{"b.go"}, Status: gap.StatusPlanned, CreatedAt: t0, UpdatedAt: t0},
	}
	require.NoError(t, repo.Save(ctx, runID, gaps))

	loaded, err := repo.Load(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, gaps, loaded)

	gaps[0].Status = gap.StatusPlanned
	require.NoError(t, repo.Save(ctx, runID, gaps))
	loaded, err = repo.Load(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, gap.StatusPlanned, loaded[0].Status)
}

func TestGapRepository_Corrupt(t *testing.T) {
	fsys := afero.NewMemMapFs()
	paths := app.ResolvePaths("/home")
	require.NoError(t, afero.WriteFile(fsys, paths.Run(runID).Gaps, []byte("{"), 0o644))

	_, err := NewGapRepositoryImpl(fsys, paths).Load(context.Background(), runID)
	assert.True(t, errors.Is(err, repository.ErrCorrupt))
}

func sampleWorkstream(ordinal int) *workstream.Workstream {
	id := workstream.ID(runID, ordinal)
	return &workstream.Workstream{
		ID:           id,
		RunID:        runID,
		Ordinal:      ordinal,
		Strategy:     "category",
		GapIDs:       []string{"GAP-0000000000000001"},
		WorkspaceRef: id,
		Status:       workstream.StatusPlanned,
		CreatedAt:    t0,
		Tasks: []workstream.Task{{
			ID:        workstream.TaskID(id, 1),
			GapIDs:    []string{"GAP-0000000000000001"},
			Operation: workstream.OpLint,
			FileScope: []string{"a.go"},
			DependsOn: []string{},
		}},
	}
}

func TestWorkstreamRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkstreamRepositoryImpl(afero.NewMemMapFs(), app.ResolvePaths("/home"))

	ws2, ws1 := sampleWorkstream(2), sampleWorkstream(1)
	require.NoError(t, repo.Save(ctx, ws2))
	require.NoError(t, repo.Save(ctx, ws1))

	list, err := repo.List(ctx, runID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ws1, list[0])
	assert.Equal(t, ws2, list[1])
}

func TestWorkstreamRepository_WriteOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkstreamRepositoryImpl(afero.NewMemMapFs(), app.ResolvePaths("/home"))

	ws := sampleWorkstream(1)
	require.NoError(t, repo.Save(ctx, ws))
	require.NoError(t, repo.Save(ctx, sampleWorkstream(1)), "identical content is a no-op")

	changed := sampleWorkstream(1)
	changed.Tasks[0].FileScope = []string{"b.go"}
	err := repo.Save(ctx, changed)
	assert.True(t, errors.Is(err, repository.ErrAlreadyExists))
}

func TestSnapshotRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSnapshotRepositoryImpl(afero.NewMemMapFs(), app.ResolvePaths("/home"))

	_, err := repo.Load(ctx, runID)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	snap := run.Snapshot{
		Record: run.Record{
			RunID:        runID,
			RepoRoot:     "/repo",
			State:        run.StatePlanning,
			CreatedAt:    t0,
			UpdatedAt:    t0,
			LastSeq:      4,
			TaskOutcomes: map[string]string{"t1": "succeeded"},
		},
		Seq:     4,
		TakenAt: t0,
	}
	require.NoError(t, repo.Save(ctx, snap))

	loaded, err := repo.Load(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, snap, *loaded)
}
