package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/repoforge/internal/application/dto"
	"github.com/YoshitsuguKoike/repoforge/internal/application/port/input"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/run"
)

// RunUseCaseImpl drives runs through a RunController and reports their
// status from the ledger
type RunUseCaseImpl struct {
	controller *RunController
}

var _ input.RunUseCase = (*RunUseCaseImpl)(nil)

// NewRunUseCase creates a new RunUseCaseImpl
func NewRunUseCase(controller *RunController) *RunUseCaseImpl {
	return &RunUseCaseImpl{controller: controller}
}

// Run starts a run and drives it to DONE or FAILED
func (uc *RunUseCaseImpl) Run(ctx context.Context, repoRoot, runID string) (*dto.RunOutput, error) {
	startTime := time.Now()

	// 1. Start (or re-open an initialized run)
	r, err := uc.controller.Start(ctx, repoRoot, runID)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// 2. Drive to a terminal state
	return uc.drive(ctx, r, startTime)
}

// Resume replays a run's ledger and drives it from its recorded state
func (uc *RunUseCaseImpl) Resume(ctx context.Context, runID string) (*dto.RunOutput, error) {
	startTime := time.Now()

	r, err := uc.controller.Resume(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return uc.drive(ctx, r, startTime)
}

func (uc *RunUseCaseImpl) drive(ctx context.Context, r *Run, startTime time.Time) (*dto.RunOutput, error) {
	rec, err := uc.controller.Drive(ctx, r)
	out := &dto.RunOutput{
		RunID:         rec.RunID,
		FinalState:    string(rec.State),
		FailureReason: rec.FailureReason,
		ElapsedMs:     time.Since(startTime).Milliseconds(),
		CompletedAt:   uc.controller.now().UTC(),
	}
	if rec.State.IsTerminal() {
		out.SummaryPath = uc.controller.deps.Paths.Run(rec.RunID).Summary
	}
	if err != nil {
		return out, fmt.Errorf("run %s stopped in %s: %w", rec.RunID, rec.State, err)
	}
	return out, nil
}

// Status replays the full ledger of runID without taking the run lock
func (uc *RunUseCaseImpl) Status(ctx context.Context, runID string) (*dto.RunStatusDTO, error) {
	entries, err := uc.controller.deps.Ledger.Entries(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rec, err := run.Replay(entries)
	if err != nil {
		return nil, err
	}
	return statusOf(rec), nil
}

// List returns the status of every run in the ledger. Runs whose ledger
// cannot be replayed are reported with state "CORRUPT".
func (uc *RunUseCaseImpl) List(ctx context.Context) ([]*dto.RunStatusDTO, error) {
	ids, err := uc.controller.deps.Ledger.Runs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.RunStatusDTO, 0, len(ids))
	for _, id := range ids {
		st, err := uc.Status(ctx, id)
		if err != nil {
			uc.controller.logger.Warn("status of run %s: %v", id, err)
			out = append(out, &dto.RunStatusDTO{RunID: id, State: "CORRUPT", FailureReason: err.Error()})
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

func statusOf(rec run.Record) *dto.RunStatusDTO {
	st := &dto.RunStatusDTO{
		RunID:               rec.RunID,
		RepoRoot:            rec.RepoRoot,
		State:               string(rec.State),
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
		PlanningAttempts:    rec.PlanningAttempts,
		GuardrailWarnings:   rec.GuardrailWarnings,
		GuardrailCriticals:  rec.GuardrailCriticals,
		FailureReason:       rec.FailureReason,
		LastSeq:             rec.LastSeq,
		DanglingInvocations: rec.DanglingInvocations(),
	}
	if len(st.DanglingInvocations) == 0 {
		st.DanglingInvocations = nil
	}
	if len(rec.TaskOutcomes) > 0 {
		st.TaskOutcomes = make(map[string]int)
		for _, o := range rec.TaskOutcomes {
			st.TaskOutcomes[o]++
		}
	}
	return st
}
