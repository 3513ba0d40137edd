package service

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/semaphore"

	"github.com/YoshitsuguKoike/repoforge/internal/app"
	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
	gmodel "github.com/YoshitsuguKoike/repoforge/internal/domain/model/guardrail"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/toolrun"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/service/guardrail"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/service/planner"
)

// TaskReport is the terminal state of one task
type TaskReport struct {
	Task      workstream.Task
	Outcome   workstream.TaskOutcome
	Reason    string
	Result    *toolrun.Result // nil when no tool ran
	Changed   []string        // observed changes in the task workspace
	Workspace string          // task workspace, empty when the task never ran
	Err       error           // infrastructure failure, fatal to the phase
}

// DispatchHandler receives dispatch events. All calls come from the
// goroutine that called Dispatch, never from workers.
type DispatchHandler interface {
	Checkpoint(ctx context.Context, res gmodel.CheckpointResult) error
	TaskStarting(ctx context.Context, t workstream.Task) error
	TaskFinished(ctx context.Context, rep TaskReport) error
}

// DispatchResult summarizes one workstream's execution
type DispatchResult struct {
	Reports    []TaskReport // in completion order
	Halted     bool         // a critical violation stopped dispatch
	HaltReason string
}

// DispatcherConfig configures a TaskDispatcher
type DispatcherConfig struct {
	Concurrency    int
	KeepWorkspaces bool
}

// TaskDispatcher runs the tasks of a workstream on a bounded worker pool.
// A task starts only when every dependency is terminal; dependents of tasks
// that did not succeed are skipped. A critical violation stops dispatch of
// tasks not yet started and lets running tasks finish.
type TaskDispatcher struct {
	runner     output.ToolRunner
	tools      *ToolRegistry
	pool       *ToolPool
	workspaces output.WorkspaceProvisioner
	evidence   output.EvidenceCollector
	guard      *guardrail.Engine
	cfg        DispatcherConfig
	logger     app.Logger
}

// NewTaskDispatcher creates a dispatcher
func NewTaskDispatcher(
	runner output.ToolRunner,
	tools *ToolRegistry,
	workspaces output.WorkspaceProvisioner,
	evidence output.EvidenceCollector,
	guard *guardrail.Engine,
	cfg DispatcherConfig,
	logger app.Logger,
) *TaskDispatcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = app.GetLogger()
	}
	return &TaskDispatcher{
		runner:     runner,
		tools:      tools,
		pool:       NewToolPool(tools.Limits(), cfg.Concurrency),
		workspaces: workspaces,
		evidence:   evidence,
		guard:      guard,
		cfg:        cfg,
		logger:     logger,
	}
}

// Runner returns the runner tools are invoked through
func (d *TaskDispatcher) Runner() output.ToolRunner {
	return d.runner
}

// WithRunner returns a copy of d that invokes tools through runner
func (d *TaskDispatcher) WithRunner(runner output.ToolRunner) *TaskDispatcher {
	c := *d
	c.runner = runner
	return &c
}

type dispatchState struct {
	ctx       context.Context
	h         DispatchHandler
	outcomes  map[string]workstream.TaskOutcome
	running   map[string]workstream.Task
	conflicts *ConflictDetector
	sem       *semaphore.Weighted
	result    *DispatchResult
	err       error
}

// Dispatch executes ws. wsRoot is the workstream workspace every task copies
// from; task workspaces are created under taskRoot. done holds outcomes
// already recorded for this run, and those tasks are not run again.
// On cancellation no outcomes are reported for unfinished tasks, so a
// resumed run picks them up again.
func (d *TaskDispatcher) Dispatch(ctx context.Context, ws *workstream.Workstream, wsRoot, taskRoot string, done map[string]workstream.TaskOutcome, h DispatchHandler) (*DispatchResult, error) {
	order, err := planner.TopoOrder(ws.Tasks)
	if err != nil {
		return nil, err
	}

	st := &dispatchState{
		ctx:       ctx,
		h:         h,
		outcomes:  make(map[string]workstream.TaskOutcome, len(order)),
		running:   make(map[string]workstream.Task),
		conflicts: NewConflictDetector(),
		sem:       semaphore.NewWeighted(int64(d.cfg.Concurrency)),
		result:    &DispatchResult{},
	}
	known := make(map[string]bool, len(order))
	for _, t := range order {
		known[t.ID] = true
		if o, ok := done[t.ID]; ok {
			st.outcomes[t.ID] = o
		}
	}

	results := make(chan TaskReport)
	for {
		progressed := false
		if st.err == nil && !st.result.Halted && ctx.Err() == nil {
			progressed = d.launch(st, order, known, wsRoot, taskRoot, results)
		}
		if len(st.running) == 0 {
			if progressed && st.err == nil {
				continue
			}
			break
		}
		d.collect(st, <-results)
	}

	if ctx.Err() != nil {
		return st.result, ctx.Err()
	}
	if st.err == nil {
		reason := "not dispatched"
		if st.result.Halted {
			reason = "dispatch halted: " + st.result.HaltReason
		}
		for _, t := range order {
			if _, ok := st.outcomes[t.ID]; !ok {
				d.finish(st, TaskReport{Task: t, Outcome: workstream.OutcomeCancelled, Reason: reason})
			}
		}
	}
	return st.result, st.err
}

// launch starts every task that can start now. It reports whether anything
// changed, since skipping a task can make its dependents ready.
func (d *TaskDispatcher) launch(st *dispatchState, order []workstream.Task, known map[string]bool, wsRoot, taskRoot string, results chan<- TaskReport) bool {
	progressed := false
	for _, t := range order {
		if st.err != nil || st.result.Halted {
			return progressed
		}
		if _, ok := st.outcomes[t.ID]; ok {
			continue
		}
		if _, ok := st.running[t.ID]; ok {
			continue
		}

		ready, blocker := d.dependencies(st, t, known)
		if !ready {
			continue
		}
		if blocker != "" {
			d.finish(st, TaskReport{Task: t, Outcome: workstream.OutcomeSkipped, Reason: fmt.Sprintf("dependency %s did not succeed", blocker)})
			progressed = true
			continue
		}
		if st.conflicts.HasConflict(t) {
			continue
		}

		profile, ok := d.tools.Profile(t.Operation)
		if !ok {
			d.finish(st, TaskReport{Task: t, Outcome: workstream.OutcomeFailed, Reason: fmt.Sprintf("no tool for operation %q", t.Operation)})
			progressed = true
			continue
		}
		if !d.pool.TryAcquire(profile.ToolID) {
			continue
		}
		if !st.sem.TryAcquire(1) {
			d.pool.Release(profile.ToolID)
			return progressed
		}

		pre := d.guard.TaskPre(t)
		if err := st.h.Checkpoint(st.ctx, pre); err != nil {
			d.release(st, t, profile.ToolID)
			st.err = err
			return progressed
		}
		if pre.IsCritical() {
			d.release(st, t, profile.ToolID)
			d.halt(st, pre)
			d.finish(st, TaskReport{Task: t, Outcome: workstream.OutcomeBlocked, Reason: pre.Summary()})
			return true
		}
		if err := st.h.TaskStarting(st.ctx, t); err != nil {
			d.release(st, t, profile.ToolID)
			st.err = err
			return progressed
		}

		st.conflicts.Register(t)
		st.running[t.ID] = t
		progressed = true
		d.logger.Info("task %s started (%s, %d files)", t.ID, t.Operation, len(t.FileScope))
		go func(t workstream.Task) {
			results <- d.execute(st.ctx, t, wsRoot, filepath.Join(taskRoot, t.ID))
		}(t)
	}
	return progressed
}

// dependencies reports whether all deps are terminal and, if so, the first
// one that did not succeed
func (d *TaskDispatcher) dependencies(st *dispatchState, t workstream.Task, known map[string]bool) (bool, string) {
	blocker := ""
	for _, dep := range t.DependsOn {
		if !known[dep] {
			continue
		}
		o, ok := st.outcomes[dep]
		if !ok {
			return false, ""
		}
		if o != workstream.OutcomeSucceeded && blocker == "" {
			blocker = dep
		}
	}
	return true, blocker
}

func (d *TaskDispatcher) release(st *dispatchState, t workstream.Task, toolID string) {
	st.sem.Release(1)
	d.pool.Release(toolID)
	st.conflicts.Unregister(t)
}

func (d *TaskDispatcher) halt(st *dispatchState, res gmodel.CheckpointResult) {
	if st.result.Halted {
		return
	}
	st.result.Halted = true
	st.result.HaltReason = fmt.Sprintf("%s on %s: %s", res.CheckpointID, res.Subject, res.Summary())
	d.logger.Error("critical guardrail violation, halting dispatch: %s", st.result.HaltReason)
}

// collect handles a finished worker in the dispatching goroutine
func (d *TaskDispatcher) collect(st *dispatchState, rep TaskReport) {
	t := rep.Task
	delete(st.running, t.ID)
	profile, _ := d.tools.Profile(t.Operation)
	d.release(st, t, profile.ToolID)
	defer d.cleanup(rep.Workspace)

	if st.ctx.Err() != nil {
		return
	}
	if rep.Err != nil {
		if st.err == nil {
			st.err = fmt.Errorf("task %s: %w", t.ID, rep.Err)
		}
		return
	}

	if rep.Result != nil && st.err == nil {
		post := d.guard.TaskPost(t, guardrail.Evidence{
			Result:              *rep.Result,
			Changed:             rep.Changed,
			ExpectsModification: profile.ExpectsModification,
		})
		if err := st.h.Checkpoint(st.ctx, post); err != nil {
			st.err = err
			return
		}
		if post.IsCritical() {
			rep.Outcome = workstream.OutcomeRejected
			rep.Reason = post.Summary()
			d.halt(st, post)
		}
	}
	d.finish(st, rep)
}

func (d *TaskDispatcher) finish(st *dispatchState, rep TaskReport) {
	st.outcomes[rep.Task.ID] = rep.Outcome
	st.result.Reports = append(st.result.Reports, rep)
	if st.err != nil {
		return
	}
	if err := st.h.TaskFinished(st.ctx, rep); err != nil {
		st.err = err
	}
	d.logger.Info("task %s %s %s", rep.Task.ID, rep.Outcome, rep.Reason)
}

func (d *TaskDispatcher) cleanup(dir string) {
	if dir == "" || d.cfg.KeepWorkspaces {
		return
	}
	if err := d.workspaces.Remove(context.Background(), dir); err != nil {
		d.logger.Warn("remove task workspace %s: %v", dir, err)
	}
}

// invoke runs the tool, surfacing recording failures when the runner reports them
func (d *TaskDispatcher) invoke(ctx context.Context, req toolrun.Request) (toolrun.Result, error) {
	if c, ok := d.runner.(output.CheckedToolRunner); ok {
		return c.RunToolChecked(ctx, req)
	}
	return d.runner.RunTool(ctx, req), nil
}

// execute runs in a worker goroutine and must not touch dispatcher state
func (d *TaskDispatcher) execute(ctx context.Context, t workstream.Task, wsRoot, dir string) TaskReport {
	rep := TaskReport{Task: t, Outcome: workstream.OutcomeFailed}

	if err := d.workspaces.Remove(ctx, dir); err != nil {
		rep.Err = fmt.Errorf("remove stale workspace: %w", err)
		return rep
	}
	if err := d.workspaces.Create(ctx, wsRoot, dir); err != nil {
		rep.Err = fmt.Errorf("create workspace: %w", err)
		return rep
	}
	rep.Workspace = dir

	base, err := d.evidence.Baseline(ctx, dir)
	if err != nil {
		rep.Err = fmt.Errorf("baseline: %w", err)
		return rep
	}
	req, err := d.tools.Request(t, dir)
	if err != nil {
		rep.Reason = err.Error()
		return rep
	}

	res, err := d.invoke(ctx, req)
	rep.Result = &res
	if err != nil {
		rep.Err = err
		return rep
	}

	changed, err := d.evidence.Changed(ctx, dir, base)
	if err != nil {
		rep.Err = fmt.Errorf("collect evidence: %w", err)
		return rep
	}
	rep.Changed = changed

	switch {
	case res.Success:
		rep.Outcome = workstream.OutcomeSucceeded
	case res.ExitCode == toolrun.ExitCancelled:
		rep.Outcome = workstream.OutcomeCancelled
		rep.Reason = res.Message
	default:
		rep.Reason = fmt.Sprintf("exit %d: %s", res.ExitCode, res.Message)
	}
	return rep
}
