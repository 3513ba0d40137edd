package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/run"
)

func TestRunUseCase_RunAndStatus(t *testing.T) {
	h := newHarness(lintFindings()...)
	uc := NewRunUseCase(h.controller(t))
	ctx := context.Background()

	out, err := uc.Run(ctx, testRepo, "")
	require.NoError(t, err)
	assert.Equal(t, "DONE", out.FinalState)
	assert.Equal(t, h.paths.Run(out.RunID).Summary, out.SummaryPath)
	assert.Equal(t, testNow, out.CompletedAt)

	st, err := uc.Status(ctx, out.RunID)
	require.NoError(t, err)
	assert.Equal(t, out.RunID, st.RunID)
	assert.Equal(t, testRepo, st.RepoRoot)
	assert.Equal(t, "DONE", st.State)
	assert.Equal(t, 1, st.PlanningAttempts)
	assert.Equal(t, map[string]int{"succeeded": 3}, st.TaskOutcomes)
	assert.Empty(t, st.DanglingInvocations)

	list, err := uc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, out.RunID, list[0].RunID)
}

func TestRunUseCase_ResumeTerminalRunIsNoOp(t *testing.T) {
	h := newHarness(lintFindings()...)
	uc := NewRunUseCase(h.controller(t))
	ctx := context.Background()

	out, err := uc.Run(ctx, testRepo, "")
	require.NoError(t, err)
	before := len(h.ledger.Events(out.RunID))

	again, err := uc.Resume(ctx, out.RunID)
	require.NoError(t, err)
	assert.Equal(t, "DONE", again.FinalState)
	assert.Len(t, h.ledger.Events(out.RunID), before)
}

func TestRunUseCase_StatusOfUnknownRun(t *testing.T) {
	h := newHarness()
	uc := NewRunUseCase(h.controller(t))

	_, err := uc.Status(context.Background(), run.NewID(testNow))
	assert.Error(t, err)
}

func TestRunUseCase_ListReportsUnreplayableRuns(t *testing.T) {
	h := newHarness()
	uc := NewRunUseCase(h.controller(t))
	ctx := context.Background()

	id := run.NewID(testNow)
	e, err := ledger.NewEnterState(id, testNow, string(run.StateDone), "", "")
	require.NoError(t, err)
	_, err = h.ledger.Append(ctx, e)
	require.NoError(t, err)

	list, err := uc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "CORRUPT", list[0].State)
	assert.NotEmpty(t, list[0].FailureReason)
}
