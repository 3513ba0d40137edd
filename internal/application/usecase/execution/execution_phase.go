package execution

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/repoforge/internal/application/service"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
	gmodel "github.com/YoshitsuguKoike/repoforge/internal/domain/model/guardrail"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
)

// execute runs the committed workstreams in ordinal order. Each workstream
// gets a workspace copied from the repository; tasks run in copies of it and
// successful changes are promoted back. Tasks with a recorded outcome are
// not run again.
func (c *RunController) execute(ctx context.Context, r *Run) error {
	wss, err := c.committedWorkstreams(ctx, r)
	if err != nil {
		return err
	}
	dispatcher := c.deps.Dispatcher.WithRunner(
		service.NewLedgerToolRunner(c.deps.Dispatcher.Runner(), r.ledger, c.deps.Observer, c.logger))

	for _, ws := range wss {
		if err := c.settleRecordedTasks(ctx, r, ws); err != nil {
			return err
		}
		if c.workstreamDone(r, ws) {
			continue
		}
		if err := c.executeWorkstream(ctx, r, ws, dispatcher); err != nil {
			return err
		}
	}
	return nil
}

func (c *RunController) executeWorkstream(ctx context.Context, r *Run, ws *workstream.Workstream, dispatcher *service.TaskDispatcher) error {
	rec := r.ledger.Record()
	dir := filepath.Join(c.deps.Paths.Work, rec.RunID, ws.ID)
	wsRoot := filepath.Join(dir, "base")
	taskRoot := filepath.Join(dir, "tasks")

	// 1. Workstream workspace; an existing one holds promoted results of an earlier attempt
	exists, err := afero.DirExists(c.deps.FS, wsRoot)
	if err != nil {
		return fmt.Errorf("stat workspace %s: %w", wsRoot, err)
	}
	if !exists {
		if err := c.deps.Workspaces.Create(ctx, rec.RepoRoot, wsRoot); err != nil {
			return fmt.Errorf("workspace for %s: %w", ws.ID, err)
		}
	}

	// 2. Dispatch
	c.logger.Info("run %s: executing %s (%d tasks)", rec.RunID, ws.ID, len(ws.Tasks))
	h := &dispatchHandler{c: c, r: r, ws: ws, wsRoot: wsRoot}
	res, err := dispatcher.Dispatch(ctx, ws, wsRoot, taskRoot, c.recordedOutcomes(r, ws), h)
	if err != nil {
		return fmt.Errorf("%s: %w", ws.ID, err)
	}
	if res.Halted {
		return fmt.Errorf("%w in %s: %s", ErrGuardrailCritical, ws.ID, res.HaltReason)
	}

	// 3. Apply successful results to the repository
	if c.deps.Apply {
		if files := c.succeededFiles(r, ws); len(files) > 0 {
			if err := c.deps.Workspaces.Promote(ctx, wsRoot, rec.RepoRoot, files); err != nil {
				return fmt.Errorf("apply %s: %w", ws.ID, err)
			}
			c.logger.Info("run %s: applied %d file(s) from %s", rec.RunID, len(files), ws.ID)
		}
	}

	if !c.deps.KeepWorkspaces {
		if err := c.deps.Workspaces.Remove(ctx, dir); err != nil {
			c.logger.Warn("remove workspace %s: %v", dir, err)
		}
	}
	return nil
}

// committedWorkstreams loads the workstreams named by workstreams_planned
func (c *RunController) committedWorkstreams(ctx context.Context, r *Run) ([]*workstream.Workstream, error) {
	rec := r.ledger.Record()
	stored, err := c.deps.Workstreams.List(ctx, rec.RunID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*workstream.Workstream, len(stored))
	for _, ws := range stored {
		byID[ws.ID] = ws
	}
	out := make([]*workstream.Workstream, 0, len(rec.Workstreams))
	for _, id := range rec.Workstreams {
		ws, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("workstream %s is in the plan but has no artifact", id)
		}
		out = append(out, ws)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (c *RunController) recordedOutcomes(r *Run, ws *workstream.Workstream) map[string]workstream.TaskOutcome {
	rec := r.ledger.Record()
	out := make(map[string]workstream.TaskOutcome)
	for _, t := range ws.Tasks {
		if o, ok := rec.TaskOutcomes[t.ID]; ok {
			out[t.ID] = workstream.TaskOutcome(o)
		}
	}
	return out
}

func (c *RunController) workstreamDone(r *Run, ws *workstream.Workstream) bool {
	return len(c.recordedOutcomes(r, ws)) == len(ws.Tasks)
}

// settleRecordedTasks brings gap statuses in line with outcomes recorded
// before an interruption
func (c *RunController) settleRecordedTasks(ctx context.Context, r *Run, ws *workstream.Workstream) error {
	outcomes := c.recordedOutcomes(r, ws)
	if len(outcomes) == 0 {
		return nil
	}
	for _, t := range ws.Tasks {
		if o, ok := outcomes[t.ID]; ok {
			if err := c.settleGaps(ctx, r, t, o); err != nil {
				return err
			}
		}
	}
	return r.registry.Persist(ctx)
}

// settleGaps moves the gaps of t to the status implied by its outcome.
// Gaps already terminal are left alone.
func (c *RunController) settleGaps(ctx context.Context, r *Run, t workstream.Task, o workstream.TaskOutcome) error {
	target := gapStatusFor(o)
	for _, id := range t.GapIDs {
		g, ok := r.registry.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", service.ErrUnknownGap, id)
		}
		if g.Status.IsTerminal() {
			continue
		}
		if g.Status == gap.StatusPlanned {
			if err := c.setGapStatus(ctx, r, id, gap.StatusInProgress); err != nil {
				return err
			}
		}
		if err := c.setGapStatus(ctx, r, id, target); err != nil {
			return err
		}
	}
	return nil
}

func gapStatusFor(o workstream.TaskOutcome) gap.Status {
	switch o {
	case workstream.OutcomeSucceeded:
		return gap.StatusResolved
	case workstream.OutcomeBlocked, workstream.OutcomeRejected:
		return gap.StatusRejected
	default:
		return gap.StatusDeferred
	}
}

// succeededFiles returns the sorted union of file scopes of succeeded tasks
func (c *RunController) succeededFiles(r *Run, ws *workstream.Workstream) []string {
	outcomes := c.recordedOutcomes(r, ws)
	seen := make(map[string]bool)
	var files []string
	for _, t := range ws.Tasks {
		if outcomes[t.ID] != workstream.OutcomeSucceeded {
			continue
		}
		for _, f := range t.FileScope {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	sort.Strings(files)
	return files
}

// dispatchHandler applies dispatch events on the controller goroutine
type dispatchHandler struct {
	c      *RunController
	r      *Run
	ws     *workstream.Workstream
	wsRoot string
}

func (h *dispatchHandler) Checkpoint(ctx context.Context, res gmodel.CheckpointResult) error {
	return h.c.recordCheckpoint(ctx, h.r, res)
}

func (h *dispatchHandler) TaskStarting(ctx context.Context, t workstream.Task) error {
	for _, id := range t.GapIDs {
		if g, ok := h.r.registry.Get(id); ok && g.Status.IsTerminal() {
			continue
		}
		if err := h.c.setGapStatus(ctx, h.r, id, gap.StatusInProgress); err != nil {
			return err
		}
	}
	return h.r.registry.Persist(ctx)
}

// TaskFinished promotes in-scope changes of a succeeded task, then records
// the outcome and settles the task's gaps
func (h *dispatchHandler) TaskFinished(ctx context.Context, rep service.TaskReport) error {
	if rep.Outcome == workstream.OutcomeSucceeded && len(rep.Changed) > 0 {
		files := inScope(rep.Changed, rep.Task.FileScope)
		if err := h.c.deps.Workspaces.Promote(ctx, rep.Workspace, h.wsRoot, files); err != nil {
			return fmt.Errorf("promote %s: %w", rep.Task.ID, err)
		}
	}

	if _, err := h.r.ledger.Append(ctx, ledger.EventTaskFinished, ledger.TaskFinishedPayload{
		WorkstreamID: h.ws.ID,
		TaskID:       rep.Task.ID,
		Outcome:      string(rep.Outcome),
		Reason:       rep.Reason,
	}); err != nil {
		return err
	}
	h.c.deps.Observer.ObserveTask(rep.Outcome)

	if err := h.c.settleGaps(ctx, h.r, rep.Task, rep.Outcome); err != nil {
		return err
	}
	if err := h.r.registry.Persist(ctx); err != nil {
		return err
	}
	h.c.observeGaps(h.r)
	return nil
}

func inScope(changed, scope []string) []string {
	allowed := make(map[string]bool, len(scope))
	for _, f := range scope {
		allowed[f] = true
	}
	var out []string
	for _, f := range changed {
		if allowed[f] {
			out = append(out, f)
		}
	}
	return out
}
