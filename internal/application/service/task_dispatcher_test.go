package service

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/repoforge/internal/app"
	gmodel "github.com/YoshitsuguKoike/repoforge/internal/domain/model/guardrail"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/run"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/toolrun"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/service/guardrail"
)

const (
	testWSRoot   = "/work/run/ws-001/base"
	testTaskRoot = "/work/run/ws-001/tasks"
)

func newTestDispatcher(t *testing.T, runner *MockToolRunner, ws *MockWorkspaces, concurrency int, forbidden ...string) *TaskDispatcher {
	t.Helper()
	tools, err := NewToolRegistry(testProfiles())
	require.NoError(t, err)
	policy, err := guardrail.NewPolicy(guardrail.PolicyConfig{ForbiddenPaths: forbidden, RepoRoot: "/repo"})
	require.NoError(t, err)
	return NewTaskDispatcher(runner, tools, ws, ws, guardrail.NewEngine(policy), DispatcherConfig{Concurrency: concurrency}, app.NopLogger())
}

func testTask(id string, op workstream.OperationKind, files []string, deps ...string) workstream.Task {
	if deps == nil {
		deps = []string{}
	}
	return workstream.Task{ID: id, GapIDs: []string{"GAP-" + id}, Operation: op, FileScope: files, DependsOn: deps}
}

func testWorkstream(tasks ...workstream.Task) *workstream.Workstream {
	return &workstream.Workstream{ID: "ws-001", RunID: "run", Ordinal: 1, Tasks: tasks}
}

// editingRunner touches every file in scope and succeeds
func editingRunner(ws *MockWorkspaces) *MockToolRunner {
	return &MockToolRunner{fn: func(req toolrun.Request) toolrun.Result {
		ws.Touch(req.WorkspaceRoot, req.FileScope...)
		return toolrun.Result{ToolID: req.ToolID, Success: true}
	}}
}

func TestDispatch_IndependentTasksSucceed(t *testing.T) {
	ws := NewMockWorkspaces()
	runner := editingRunner(ws)
	d := newTestDispatcher(t, runner, ws, 2)
	h := &RecordingHandler{}

	res, err := d.Dispatch(context.Background(), testWorkstream(
		testTask("t1", workstream.OpLint, []string{"a.go"}),
		testTask("t2", workstream.OpLint, []string{"b.go"}),
		testTask("t3", workstream.OpTest, []string{"c.go"}),
	), testWSRoot, testTaskRoot, nil, h)
	require.NoError(t, err)

	assert.False(t, res.Halted)
	assert.Len(t, res.Reports, 3)
	assert.Equal(t, map[string]workstream.TaskOutcome{
		"t1": workstream.OutcomeSucceeded,
		"t2": workstream.OutcomeSucceeded,
		"t3": workstream.OutcomeSucceeded,
	}, h.Outcomes())
	assert.ElementsMatch(t, []string{"t1", "t2", "t3"}, h.started)
	assert.Len(t, h.checkpoints, 6)

	for _, rep := range res.Reports {
		assert.Equal(t, filepath.Join(testTaskRoot, rep.Task.ID), rep.Workspace)
		require.NotNil(t, rep.Result)
	}
	assert.Len(t, ws.removed, 3)
}

func TestDispatch_DependentsOfFailedTasksAreSkipped(t *testing.T) {
	ws := NewMockWorkspaces()
	runner := &MockToolRunner{fn: func(req toolrun.Request) toolrun.Result {
		if req.TaskID == "t1" {
			return toolrun.Result{ToolID: req.ToolID, ExitCode: 1, Message: "lint errors remain"}
		}
		ws.Touch(req.WorkspaceRoot, req.FileScope...)
		return toolrun.Result{ToolID: req.ToolID, Success: true}
	}}
	d := newTestDispatcher(t, runner, ws, 2)
	h := &RecordingHandler{}

	res, err := d.Dispatch(context.Background(), testWorkstream(
		testTask("t1", workstream.OpLint, []string{"a.go"}),
		testTask("t2", workstream.OpEdit, []string{"a.go", "b.go"}, "t1"),
		testTask("t3", workstream.OpLint, []string{"c.go"}),
	), testWSRoot, testTaskRoot, nil, h)
	require.NoError(t, err)

	assert.False(t, res.Halted)
	outcomes := h.Outcomes()
	assert.Equal(t, workstream.OutcomeFailed, outcomes["t1"])
	assert.Equal(t, workstream.OutcomeSkipped, outcomes["t2"])
	assert.Equal(t, workstream.OutcomeSucceeded, outcomes["t3"])
	assert.Equal(t, []string{"t1", "t3"}, runner.TaskIDs())

	for _, rep := range res.Reports {
		if rep.Task.ID == "t2" {
			assert.Contains(t, rep.Reason, "t1")
			assert.Nil(t, rep.Result)
		}
	}
}

func TestDispatch_HallucinatedSuccessHaltsDispatch(t *testing.T) {
	ws := NewMockWorkspaces()
	// claims success without touching anything
	runner := &MockToolRunner{fn: func(req toolrun.Request) toolrun.Result {
		return toolrun.Result{ToolID: req.ToolID, Success: true}
	}}
	d := newTestDispatcher(t, runner, ws, 1)
	h := &RecordingHandler{}

	res, err := d.Dispatch(context.Background(), testWorkstream(
		testTask("t1", workstream.OpLint, []string{"a.go"}),
		testTask("t2", workstream.OpLint, []string{"b.go"}),
		testTask("t3", workstream.OpLint, []string{"c.go"}),
	), testWSRoot, testTaskRoot, nil, h)
	require.NoError(t, err)

	assert.True(t, res.Halted)
	assert.Contains(t, res.HaltReason, guardrail.RuleHallucinatedSuccess)
	assert.Equal(t, map[string]workstream.TaskOutcome{
		"t1": workstream.OutcomeRejected,
		"t2": workstream.OutcomeCancelled,
		"t3": workstream.OutcomeCancelled,
	}, h.Outcomes())
	assert.Len(t, runner.Calls(), 1)

	var post gmodel.CheckpointResult
	for _, cp := range h.checkpoints {
		if cp.CheckpointID == gmodel.CheckpointTaskPost {
			post = cp
		}
	}
	assert.True(t, post.IsCritical())
	assert.Equal(t, "t1", post.Subject)
}

// haltSignals closes channels when t1 finishes and when a critical
// post-task checkpoint is recorded
type haltSignals struct {
	*RecordingHandler
	t1Done chan struct{}
	halted chan struct{}
}

func (h *haltSignals) Checkpoint(ctx context.Context, res gmodel.CheckpointResult) error {
	if res.CheckpointID == gmodel.CheckpointTaskPost && res.IsCritical() {
		close(h.halted)
	}
	return h.RecordingHandler.Checkpoint(ctx, res)
}

func (h *haltSignals) TaskFinished(ctx context.Context, rep TaskReport) error {
	if rep.Task.ID == "t1" {
		close(h.t1Done)
	}
	return h.RecordingHandler.TaskFinished(ctx, rep)
}

func waitFor(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(5 * time.Second):
		return false
	}
}

func TestDispatch_TimeoutAndHaltLeaveRunningSiblings(t *testing.T) {
	ws := NewMockWorkspaces()
	h := &haltSignals{RecordingHandler: &RecordingHandler{}, t1Done: make(chan struct{}), halted: make(chan struct{})}
	runner := &MockToolRunner{fn: func(req toolrun.Request) toolrun.Result {
		switch req.TaskID {
		case "t1":
			return toolrun.Failure(req.InvocationID, req.ToolID, toolrun.ExitTimeout, "timed out after 1m0s", time.Minute)
		case "t2":
			// claims success without touching anything, after t1 has been recorded
			if !waitFor(h.t1Done) {
				return toolrun.Failure(req.InvocationID, req.ToolID, toolrun.ExitInternal, "t1 never finished", 0)
			}
			return toolrun.Result{ToolID: req.ToolID, Success: true}
		case "t3":
			// still running when dispatch halts
			if !waitFor(h.halted) {
				return toolrun.Failure(req.InvocationID, req.ToolID, toolrun.ExitInternal, "dispatch never halted", 0)
			}
		}
		ws.Touch(req.WorkspaceRoot, req.FileScope...)
		return toolrun.Result{ToolID: req.ToolID, Success: true}
	}}
	d := newTestDispatcher(t, runner, ws, 3)

	res, err := d.Dispatch(context.Background(), testWorkstream(
		testTask("t1", workstream.OpLint, []string{"a.go"}),
		testTask("t2", workstream.OpLint, []string{"b.go"}),
		testTask("t3", workstream.OpEdit, []string{"c.go"}),
		testTask("t4", workstream.OpEdit, []string{"a.go", "d.go"}, "t1"),
	), testWSRoot, testTaskRoot, nil, h)
	require.NoError(t, err)

	assert.True(t, res.Halted)
	assert.Contains(t, res.HaltReason, guardrail.RuleHallucinatedSuccess)
	assert.Equal(t, map[string]workstream.TaskOutcome{
		"t1": workstream.OutcomeFailed,
		"t2": workstream.OutcomeRejected,
		"t3": workstream.OutcomeSucceeded,
		"t4": workstream.OutcomeSkipped,
	}, h.Outcomes())
	assert.Equal(t, []string{"t1", "t2", "t3"}, runner.TaskIDs())
	assert.ElementsMatch(t, []string{"t1", "t2", "t3"}, h.started)
}

func TestDispatch_CriticalPreCheckpointBlocksTask(t *testing.T) {
	ws := NewMockWorkspaces()
	runner := editingRunner(ws)
	d := newTestDispatcher(t, runner, ws, 2, "secrets/**")
	h := &RecordingHandler{}

	res, err := d.Dispatch(context.Background(), testWorkstream(
		testTask("t1", workstream.OpEdit, []string{"secrets/key.pem"}),
		testTask("t2", workstream.OpLint, []string{"b.go"}),
	), testWSRoot, testTaskRoot, nil, h)
	require.NoError(t, err)

	assert.True(t, res.Halted)
	assert.Empty(t, runner.Calls())
	assert.Empty(t, h.started)
	assert.Equal(t, workstream.OutcomeBlocked, h.Outcomes()["t1"])
	assert.Equal(t, workstream.OutcomeCancelled, h.Outcomes()["t2"])
	require.Len(t, h.checkpoints, 1)
	assert.Equal(t, gmodel.CheckpointTaskPre, h.checkpoints[0].CheckpointID)
}

func TestDispatch_SkipsTasksWithRecordedOutcome(t *testing.T) {
	ws := NewMockWorkspaces()
	runner := editingRunner(ws)
	d := newTestDispatcher(t, runner, ws, 2)
	h := &RecordingHandler{}

	done := map[string]workstream.TaskOutcome{"t1": workstream.OutcomeSucceeded}
	res, err := d.Dispatch(context.Background(), testWorkstream(
		testTask("t1", workstream.OpLint, []string{"a.go"}),
		testTask("t2", workstream.OpEdit, []string{"a.go", "b.go"}, "t1"),
	), testWSRoot, testTaskRoot, done, h)
	require.NoError(t, err)

	assert.Equal(t, []string{"t2"}, runner.TaskIDs())
	require.Len(t, res.Reports, 1)
	assert.Equal(t, workstream.OutcomeSucceeded, res.Reports[0].Outcome)
}

func TestDispatch_WorkspaceFailureIsFatal(t *testing.T) {
	ws := NewMockWorkspaces()
	ws.failOn = filepath.Join(testTaskRoot, "t1")
	runner := editingRunner(ws)
	d := newTestDispatcher(t, runner, ws, 1)
	h := &RecordingHandler{}

	_, err := d.Dispatch(context.Background(), testWorkstream(
		testTask("t1", workstream.OpLint, []string{"a.go"}),
		testTask("t2", workstream.OpLint, []string{"b.go"}),
	), testWSRoot, testTaskRoot, nil, h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create workspace")
	assert.Empty(t, runner.Calls())
	assert.Empty(t, h.finished)
}

func TestDispatch_UnrecordedToolFinishIsFatal(t *testing.T) {
	ctx := context.Background()
	repo := NewMockLedgerRepository()
	l := NewRunLedger(repo, "run", fixedNow)
	_, err := l.EnterState(ctx, run.StateInit, "")
	require.NoError(t, err)
	repo.failOn = ledger.EventToolFinished

	ws := NewMockWorkspaces()
	inner := editingRunner(ws)
	d := newTestDispatcher(t, inner, ws, 1)
	d = d.WithRunner(NewLedgerToolRunner(d.Runner(), l, nil, app.NopLogger()))
	h := &RecordingHandler{}

	_, err = d.Dispatch(ctx, testWorkstream(
		testTask("t1", workstream.OpLint, []string{"a.go"}),
		testTask("t2", workstream.OpLint, []string{"b.go"}),
	), testWSRoot, testTaskRoot, nil, h)
	require.ErrorIs(t, err, ErrInvocationNotRecorded)
	assert.Contains(t, err.Error(), "task t1")
	assert.Equal(t, []string{"t1"}, inner.TaskIDs())
	assert.Empty(t, h.finished)
}

func TestDispatch_HandlerErrorStopsDispatch(t *testing.T) {
	ws := NewMockWorkspaces()
	runner := editingRunner(ws)
	d := newTestDispatcher(t, runner, ws, 1)
	h := &RecordingHandler{failOn: "t1"}

	_, err := d.Dispatch(context.Background(), testWorkstream(
		testTask("t1", workstream.OpLint, []string{"a.go"}),
		testTask("t2", workstream.OpLint, []string{"b.go"}),
	), testWSRoot, testTaskRoot, nil, h)
	assert.ErrorContains(t, err, "ledger unavailable")
	assert.Equal(t, []string{"t1"}, runner.TaskIDs())
}

func TestDispatch_CancelledContext(t *testing.T) {
	ws := NewMockWorkspaces()
	runner := editingRunner(ws)
	d := newTestDispatcher(t, runner, ws, 2)
	h := &RecordingHandler{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Dispatch(ctx, testWorkstream(
		testTask("t1", workstream.OpLint, []string{"a.go"}),
	), testWSRoot, testTaskRoot, nil, h)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, runner.Calls())
	assert.Empty(t, h.finished)
}

func TestDispatch_SerializesOverlappingScopesAndToolLimits(t *testing.T) {
	ws := NewMockWorkspaces()
	var active, peak int32
	runner := &MockToolRunner{fn: func(req toolrun.Request) toolrun.Result {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		ws.Touch(req.WorkspaceRoot, req.FileScope...)
		return toolrun.Result{ToolID: req.ToolID, Success: true}
	}}
	d := newTestDispatcher(t, runner, ws, 4)
	h := &RecordingHandler{}

	// same scope, no dependency edge
	_, err := d.Dispatch(context.Background(), testWorkstream(
		testTask("t1", workstream.OpLint, []string{"a.go"}),
		testTask("t2", workstream.OpFormat, []string{"a.go"}),
	), testWSRoot, testTaskRoot, nil, h)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))

	// go-test is limited to one invocation at a time
	atomic.StoreInt32(&peak, 0)
	_, err = d.Dispatch(context.Background(), testWorkstream(
		testTask("t3", workstream.OpTest, []string{"x_test.go"}),
		testTask("t4", workstream.OpTest, []string{"y_test.go"}),
	), testWSRoot, testTaskRoot, nil, h)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
	assert.Len(t, h.Outcomes(), 4)
}
