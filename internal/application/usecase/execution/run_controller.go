// Package execution drives runs through the phase state machine.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/repoforge/internal/app"
	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
	"github.com/YoshitsuguKoike/repoforge/internal/application/service"
	gmodel "github.com/YoshitsuguKoike/repoforge/internal/domain/model/guardrail"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/run"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/toolrun"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/repository"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/service/guardrail"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/service/planner"
)

var (
	// ErrRunNotFound is returned when resuming a run without ledger entries
	ErrRunNotFound = errors.New("run not found")
	// ErrGuardrailCritical wraps a critical guardrail violation that halted a phase
	ErrGuardrailCritical = errors.New("critical guardrail violation")
)

// RunLocker prevents two controllers from driving the same run
type RunLocker interface {
	TryLock(runID string) (unlock func() error, err error)
}

// RunObserver receives run events, e.g. for metrics. Calls come from the
// controller goroutine except ObserveTool.
type RunObserver interface {
	service.ToolObserver
	ObserveTransition(from, to run.State)
	ObserveCheckpoint(res gmodel.CheckpointResult)
	ObserveTask(outcome workstream.TaskOutcome)
	ObserveGaps(counts map[string]int)
	Flush() error
}

// PlannerSettings configures the PLANNING phase
type PlannerSettings struct {
	Strategy    planner.Strategy
	MaxFiles    int
	MaxAttempts int
	// ProximityDepth is passed to planner.ClusterWithDepth
	ProximityDepth int
	Compiler       *planner.Compiler
}

// Dependencies wires a RunController
type Dependencies struct {
	Ledger      repository.LedgerRepository
	Gaps        repository.GapRepository
	Workstreams repository.WorkstreamRepository
	Snapshots   repository.SnapshotRepository // nil disables snapshots

	Findings   output.FindingSource
	Workspaces output.WorkspaceProvisioner
	Dispatcher *service.TaskDispatcher
	Guard      *guardrail.Engine
	Planner    PlannerSettings

	Archive  output.StorageGateway // nil disables archiving
	Observer RunObserver           // may be nil
	Locker   RunLocker             // may be nil

	FS             afero.Fs
	Paths          app.Paths
	Apply          bool
	KeepWorkspaces bool
	Now            func() time.Time
	Logger         app.Logger
}

// RunController implements Start, Advance, Resume and Drive
type RunController struct {
	deps   Dependencies
	logger app.Logger
	now    func() time.Time
}

// NewRunController creates a controller
func NewRunController(deps Dependencies) *RunController {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = app.GetLogger()
	}
	if deps.FS == nil {
		deps.FS = afero.NewOsFs()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Planner.MaxAttempts < 1 {
		deps.Planner.MaxAttempts = 1
	}
	return &RunController{deps: deps, logger: deps.Logger, now: deps.Now}
}

// Run is a run held by this controller. Close releases its lock.
type Run struct {
	ledger   *service.RunLedger
	registry *service.GapRegistry
	unlock   func() error
}

// ID returns the run id
func (r *Run) ID() string {
	return r.ledger.RunID()
}

// Record returns the current materialized record
func (r *Run) Record() run.Record {
	return r.ledger.Record()
}

// Close releases the run lock
func (r *Run) Close() error {
	if r.unlock == nil {
		return nil
	}
	err := r.unlock()
	r.unlock = nil
	return err
}

// Start allocates a run id (unless runID is given) and writes run_started
// and enter_state(INIT). Starting a run whose ledger already holds INIT
// writes nothing.
func (c *RunController) Start(ctx context.Context, repoRoot, runID string) (*Run, error) {
	if runID == "" {
		runID = run.NewID(c.now())
	} else if !run.ValidID(runID) {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}

	unlock, err := c.lock(runID)
	if err != nil {
		return nil, err
	}
	l, err := service.OpenRunLedger(ctx, c.deps.Ledger, runID, nil, c.now)
	if err != nil {
		_ = unlock()
		return nil, err
	}
	r := &Run{
		ledger:   l,
		registry: service.NewGapRegistry(c.deps.Gaps, runID, c.now),
		unlock:   unlock,
	}

	if l.Record().IsInitialized() {
		c.logger.Info("run %s already initialized in state %s", runID, l.Record().State)
		if err := r.registry.Load(ctx); err != nil {
			_ = r.Close()
			return nil, err
		}
		return r, nil
	}

	if _, err := l.Append(ctx, ledger.EventRunStarted, ledger.RunStartedPayload{RepoRoot: repoRoot}); err != nil {
		_ = r.Close()
		return nil, err
	}
	if err := c.enter(ctx, r, run.StateInit, ""); err != nil {
		_ = r.Close()
		return nil, err
	}
	c.logger.Info("run %s started for %s", runID, repoRoot)
	return r, nil
}

// Resume replays the ledger of runID, from the latest snapshot when one fits.
// A tool invocation without a recorded finish routes the run to FAILED.
func (c *RunController) Resume(ctx context.Context, runID string) (*Run, error) {
	unlock, err := c.lock(runID)
	if err != nil {
		return nil, err
	}

	base := c.loadSnapshot(ctx, runID)
	l, err := service.OpenRunLedger(ctx, c.deps.Ledger, runID, base, c.now)
	if err != nil {
		_ = unlock()
		return nil, err
	}
	if !l.Record().IsInitialized() {
		_ = unlock()
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	r := &Run{
		ledger:   l,
		registry: service.NewGapRegistry(c.deps.Gaps, runID, c.now),
		unlock:   unlock,
	}
	if err := r.registry.Load(ctx); err != nil {
		_ = r.Close()
		return nil, err
	}

	rec := l.Record()
	c.logger.Info("resuming run %s in state %s (seq %d)", runID, rec.State, rec.LastSeq)
	if !rec.State.IsTerminal() && rec.HasDanglingInvocation() {
		cause := fmt.Sprintf("tool invocation(s) %s have no recorded outcome", strings.Join(rec.DanglingInvocations(), ", "))
		if _, err := c.fail(ctx, r, errors.New(cause)); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	return r, nil
}

func (c *RunController) loadSnapshot(ctx context.Context, runID string) *run.Snapshot {
	if c.deps.Snapshots == nil {
		return nil
	}
	s, err := c.deps.Snapshots.Load(ctx, runID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			c.logger.Warn("ignoring snapshot of run %s: %v", runID, err)
		}
		return nil
	}
	return s
}

// Advance performs the work of the current phase and enters the next state.
// A phase error moves the run to FAILED. Cancellation leaves the run in its
// current state so it can be resumed.
func (c *RunController) Advance(ctx context.Context, r *Run) (run.State, error) {
	rec := r.ledger.Record()
	if rec.State.IsTerminal() {
		return rec.State, nil
	}

	var err error
	switch rec.State {
	case run.StateInit:
	case run.StateGapAnalysis:
		err = c.analyzeGaps(ctx, r)
	case run.StatePlanning:
		err = c.plan(ctx, r)
	case run.StateExecution:
		err = c.execute(ctx, r)
	case run.StateSummary:
		err = c.summarize(ctx, r)
	default:
		return rec.State, fmt.Errorf("run %s: unexpected state %q", rec.RunID, rec.State)
	}

	if err != nil {
		if ctx.Err() != nil {
			c.logger.Warn("run %s interrupted in %s: %v", rec.RunID, rec.State, err)
			return rec.State, err
		}
		return c.fail(ctx, r, fmt.Errorf("%s: %w", rec.State, err))
	}

	next, _ := rec.State.Next()
	if err := c.enter(ctx, r, next, ""); err != nil {
		return rec.State, err
	}
	return next, nil
}

// Drive advances r until it reaches a terminal state
func (c *RunController) Drive(ctx context.Context, r *Run) (run.Record, error) {
	for {
		state, err := c.Advance(ctx, r)
		if err != nil && !state.IsTerminal() {
			return r.ledger.Record(), err
		}
		if state.IsTerminal() {
			if err := c.deps.Observer.Flush(); err != nil {
				c.logger.Warn("flush metrics: %v", err)
			}
			return r.ledger.Record(), nil
		}
	}
}

// enter durably records a transition, then snapshots the record
func (c *RunController) enter(ctx context.Context, r *Run, next run.State, cause string) error {
	prev := r.ledger.Record().State
	if _, err := r.ledger.EnterState(ctx, next, cause); err != nil {
		return fmt.Errorf("enter %s: %w", next, err)
	}
	c.deps.Observer.ObserveTransition(prev, next)
	c.logger.Info("run %s: %s -> %s", r.ID(), displayState(prev), next)
	c.snapshot(ctx, r)
	return nil
}

func (c *RunController) snapshot(ctx context.Context, r *Run) {
	if c.deps.Snapshots == nil {
		return
	}
	if err := c.deps.Snapshots.Save(ctx, r.ledger.Snapshot()); err != nil {
		c.logger.Warn("snapshot of run %s: %v", r.ID(), err)
	}
}

// fail moves the run to FAILED and writes the summary on a best-effort basis
func (c *RunController) fail(ctx context.Context, r *Run, cause error) (run.State, error) {
	c.logger.Error("run %s failed: %v", r.ID(), cause)
	wctx := context.WithoutCancel(ctx)
	if err := c.enter(wctx, r, run.StateFailed, cause.Error()); err != nil {
		return r.ledger.Record().State, fmt.Errorf("%v (and could not record failure: %w)", cause, err)
	}
	if err := c.writeSummary(wctx, r, run.StateFailed); err != nil {
		c.logger.Warn("summary of failed run %s: %v", r.ID(), err)
	}
	return run.StateFailed, nil
}

func (c *RunController) lock(runID string) (func() error, error) {
	if c.deps.Locker == nil {
		return func() error { return nil }, nil
	}
	unlock, err := c.deps.Locker.TryLock(runID)
	if err != nil {
		return nil, fmt.Errorf("lock run %s: %w", runID, err)
	}
	return unlock, nil
}

func displayState(s run.State) string {
	if s == "" {
		return "<none>"
	}
	return string(s)
}

type nopObserver struct{}

func (nopObserver) ObserveTool(toolrun.Result)                {}
func (nopObserver) ObserveTransition(from, to run.State)      {}
func (nopObserver) ObserveCheckpoint(gmodel.CheckpointResult) {}
func (nopObserver) ObserveTask(workstream.TaskOutcome)        {}
func (nopObserver) ObserveGaps(map[string]int)                {}
func (nopObserver) Flush() error                              { return nil }
