package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/run"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/toolrun"
)

func TestRunLedger_EnterStateValidatesBeforeWriting(t *testing.T) {
	ctx := context.Background()
	repo := NewMockLedgerRepository()
	l := NewRunLedger(repo, "run-1", fixedNow)

	_, err := l.EnterState(ctx, run.StatePlanning, "")
	var te *run.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Empty(t, repo.Events("run-1"))

	_, err = l.EnterState(ctx, run.StateInit, "")
	require.NoError(t, err)
	_, err = l.EnterState(ctx, run.StateGapAnalysis, "")
	require.NoError(t, err)

	_, err = l.EnterState(ctx, run.StateExecution, "")
	require.ErrorAs(t, err, &te)
	assert.Equal(t, run.StateGapAnalysis, te.From)

	e, err := l.EnterState(ctx, run.StateFailed, "discovery crashed")
	require.NoError(t, err)
	assert.Equal(t, string(run.StateGapAnalysis), e.PrevState)

	rec := l.Record()
	assert.Equal(t, run.StateFailed, rec.State)
	assert.Equal(t, "discovery crashed", rec.FailureReason)
	assert.Equal(t, int64(3), rec.LastSeq)
	assert.Len(t, repo.Events("run-1"), 3)
}

func TestRunLedger_AppendFailureLeavesRecordUnchanged(t *testing.T) {
	ctx := context.Background()
	repo := NewMockLedgerRepository()
	l := NewRunLedger(repo, "run-1", fixedNow)
	_, err := l.EnterState(ctx, run.StateInit, "")
	require.NoError(t, err)

	repo.failOn = ledger.EventPlanningAttempt
	_, err = l.Append(ctx, ledger.EventPlanningAttempt, ledger.PlanningAttemptPayload{Attempt: 1})
	require.Error(t, err)
	assert.Equal(t, 0, l.Record().PlanningAttempts)
	assert.Equal(t, int64(1), l.Record().LastSeq)
}

func TestRunLedger_ConcurrentAppendsStayOrdered(t *testing.T) {
	ctx := context.Background()
	repo := NewMockLedgerRepository()
	l := NewRunLedger(repo, "run-1", fixedNow)
	_, err := l.EnterState(ctx, run.StateInit, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, ledger.EventPlanningAttempt, ledger.PlanningAttemptPayload{Attempt: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec := l.Record()
	assert.Equal(t, 20, rec.PlanningAttempts)
	assert.Equal(t, int64(21), rec.LastSeq)

	entries, err := repo.Entries(ctx, "run-1")
	require.NoError(t, err)
	replayed, err := run.Replay(entries)
	require.NoError(t, err)
	assert.Equal(t, rec, replayed)
}

func TestOpenRunLedger(t *testing.T) {
	ctx := context.Background()
	repo := NewMockLedgerRepository()

	empty, err := OpenRunLedger(ctx, repo, "missing", nil, fixedNow)
	require.NoError(t, err)
	assert.False(t, empty.Record().IsInitialized())

	l := NewRunLedger(repo, "run-1", fixedNow)
	_, err = l.EnterState(ctx, run.StateInit, "")
	require.NoError(t, err)
	snap := l.Snapshot()
	_, err = l.EnterState(ctx, run.StateGapAnalysis, "")
	require.NoError(t, err)

	fromSnap, err := OpenRunLedger(ctx, repo, "run-1", &snap, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, l.Record(), fromSnap.Record())

	// a snapshot that claims more than the ledger holds is ignored
	bogus := snap
	bogus.Seq, bogus.Record.LastSeq = 99, 99
	full, err := OpenRunLedger(ctx, repo, "run-1", &bogus, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, l.Record(), full.Record())
}

func TestLedgerToolRunner_BracketsInvocation(t *testing.T) {
	ctx := context.Background()
	repo := NewMockLedgerRepository()
	l := NewRunLedger(repo, "run-1", fixedNow)
	_, err := l.EnterState(ctx, run.StateInit, "")
	require.NoError(t, err)

	inner := &MockToolRunner{fn: func(req toolrun.Request) toolrun.Result {
		return toolrun.Result{ToolID: req.ToolID, ExitCode: 0, Success: true}
	}}
	obs := &recordingObserver{}
	r := NewLedgerToolRunner(inner, l, obs, nil)
	r.newID = func() string { return "inv-1" }

	res := r.RunTool(ctx, toolrun.Request{ToolID: "linter", TaskID: "t1", WorkspaceRoot: "/ws"})
	assert.True(t, res.Success)
	assert.Equal(t, "inv-1", res.InvocationID)
	assert.Equal(t, "inv-1", inner.Calls()[0].InvocationID)

	assert.Equal(t, []ledger.EventKind{ledger.EventEnterState, ledger.EventToolStarted, ledger.EventToolFinished}, repo.Events("run-1"))
	assert.False(t, l.Record().HasDanglingInvocation())
	require.Len(t, obs.results, 1)
}

func TestLedgerToolRunner_StartWriteFailureSkipsTool(t *testing.T) {
	ctx := context.Background()
	repo := NewMockLedgerRepository()
	l := NewRunLedger(repo, "run-1", fixedNow)
	_, err := l.EnterState(ctx, run.StateInit, "")
	require.NoError(t, err)
	repo.failOn = ledger.EventToolStarted

	inner := &MockToolRunner{fn: func(req toolrun.Request) toolrun.Result {
		t.Fatal("tool must not run")
		return toolrun.Result{}
	}}
	res := NewLedgerToolRunner(inner, l, nil, nil).RunTool(ctx, toolrun.Request{ToolID: "linter", InvocationID: "given"})

	assert.False(t, res.Success)
	assert.Equal(t, toolrun.ExitInternal, res.ExitCode)
	assert.Equal(t, "given", res.InvocationID)
	assert.Empty(t, inner.Calls())
}

func TestLedgerToolRunner_FinishWriteFailureIsReported(t *testing.T) {
	ctx := context.Background()
	repo := NewMockLedgerRepository()
	l := NewRunLedger(repo, "run-1", fixedNow)
	_, err := l.EnterState(ctx, run.StateInit, "")
	require.NoError(t, err)
	repo.failOn = ledger.EventToolFinished

	inner := &MockToolRunner{fn: func(req toolrun.Request) toolrun.Result {
		return toolrun.Result{ToolID: req.ToolID, Success: true}
	}}
	r := NewLedgerToolRunner(inner, l, nil, nil)

	res, err := r.RunToolChecked(ctx, toolrun.Request{ToolID: "linter", InvocationID: "inv-1"})
	require.ErrorIs(t, err, ErrInvocationNotRecorded)
	assert.True(t, res.Success)
	assert.Equal(t, "inv-1", res.InvocationID)

	plain := r.RunTool(ctx, toolrun.Request{ToolID: "linter", InvocationID: "inv-2"})
	assert.False(t, plain.Success)
	assert.Equal(t, toolrun.ExitInternal, plain.ExitCode)
	assert.Contains(t, plain.Message, "inv-2")
	assert.Len(t, inner.Calls(), 2)
}

func TestLedgerToolRunner_FinishIsWrittenAfterCancel(t *testing.T) {
	repo := NewMockLedgerRepository()
	l := NewRunLedger(repo, "run-1", fixedNow)
	_, err := l.EnterState(context.Background(), run.StateInit, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	inner := &MockToolRunner{fn: func(req toolrun.Request) toolrun.Result {
		cancel()
		return toolrun.Failure(req.InvocationID, req.ToolID, toolrun.ExitCancelled, "cancelled", 0)
	}}
	res := NewLedgerToolRunner(inner, l, nil, nil).RunTool(ctx, toolrun.Request{ToolID: "linter"})

	assert.Equal(t, toolrun.ExitCancelled, res.ExitCode)
	assert.False(t, l.Record().HasDanglingInvocation())
}

type recordingObserver struct {
	mu      sync.Mutex
	results []toolrun.Result
}

func (o *recordingObserver) ObserveTool(res toolrun.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, res)
}
