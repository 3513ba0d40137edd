package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
	gmodel "github.com/YoshitsuguKoike/repoforge/internal/domain/model/guardrail"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/run"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/service/planner"
)

// plan clusters the open gaps, compiles and validates the task graphs and
// freezes them as workstream artifacts. A failed attempt is retried with the
// alternate clustering strategy up to the configured number of attempts.
// Planning is deterministic for a given registry, so re-entering the phase
// after a crash writes byte-identical artifacts.
func (c *RunController) plan(ctx context.Context, r *Run) error {
	rec := r.ledger.Record()
	if len(rec.Workstreams) > 0 {
		c.logger.Info("run %s: plan already committed (%d workstreams)", rec.RunID, len(rec.Workstreams))
		return nil
	}

	gaps := plannable(r)
	byID := make(map[string]*gap.Record, len(gaps))
	for _, g := range gaps {
		byID[g.ID] = g
	}

	strategies := alternate(c.deps.Planner.Strategy)
	var lastErr error
	for i := 0; i < c.deps.Planner.MaxAttempts; i++ {
		strategy := strategies[i%len(strategies)]
		attempt := rec.PlanningAttempts + i + 1
		if _, err := r.ledger.Append(ctx, ledger.EventPlanningAttempt, ledger.PlanningAttemptPayload{
			Attempt:  attempt,
			Strategy: string(strategy),
		}); err != nil {
			return err
		}

		wss, err := c.compilePlan(rec, gaps, byID, strategy)
		if err != nil {
			lastErr = err
			c.logger.Warn("run %s: planning attempt %d (%s) failed: %v", rec.RunID, attempt, strategy, err)
			if _, aerr := r.ledger.Append(ctx, ledger.EventPlanningError, planningErrorPayload(err)); aerr != nil {
				return aerr
			}
			continue
		}

		res := c.deps.Guard.PlanCompiled(wss, byID)
		if err := c.recordCheckpoint(ctx, r, res); err != nil {
			return err
		}
		if res.IsCritical() {
			return fmt.Errorf("%w: %s", ErrGuardrailCritical, res.Summary())
		}
		return c.freezePlan(ctx, r, wss)
	}
	return fmt.Errorf("no valid plan after %d attempt(s): %w", c.deps.Planner.MaxAttempts, lastErr)
}

// compilePlan clusters gaps and compiles every workstream. Workstreams carry
// the run's creation time so recompiling produces identical artifacts.
func (c *RunController) compilePlan(rec run.Record, gaps []*gap.Record, byID map[string]*gap.Record, strategy planner.Strategy) ([]*workstream.Workstream, error) {
	wss, err := planner.ClusterWithDepth(rec.RunID, gaps, c.deps.Planner.MaxFiles, strategy, c.deps.Planner.ProximityDepth, rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	for _, ws := range wss {
		if _, err := c.deps.Planner.Compiler.CompileTasks(ws, byID); err != nil {
			return nil, err
		}
	}
	if issues := planner.Validate(wss, gaps, rec.RepoRoot); len(issues) > 0 {
		return nil, &planner.PlanningError{Issues: issues, Msg: "plan validation failed"}
	}
	return wss, nil
}

// freezePlan writes the artifacts, marks gaps PLANNED and commits the plan
// with workstreams_planned
func (c *RunController) freezePlan(ctx context.Context, r *Run, wss []*workstream.Workstream) error {
	ids := make([]string, 0, len(wss))
	tasks := 0
	for _, ws := range wss {
		if err := c.deps.Workstreams.Save(ctx, ws); err != nil {
			return err
		}
		ids = append(ids, ws.ID)
		tasks += len(ws.Tasks)
	}

	for _, ws := range wss {
		for _, id := range ws.GapIDs {
			if err := c.setGapStatus(ctx, r, id, gap.StatusPlanned); err != nil {
				return err
			}
		}
	}
	if err := r.registry.Persist(ctx); err != nil {
		return err
	}

	if _, err := r.ledger.Append(ctx, ledger.EventWorkstreamsPlanned, ledger.WorkstreamsPlannedPayload{
		WorkstreamIDs: ids,
		Tasks:         tasks,
	}); err != nil {
		return err
	}
	c.observeGaps(r)
	c.logger.Info("run %s: %d workstream(s), %d task(s) planned", r.ID(), len(wss), tasks)
	return nil
}

func (c *RunController) recordCheckpoint(ctx context.Context, r *Run, res gmodel.CheckpointResult) error {
	vs := make([]ledger.ViolationPayload, 0, len(res.Violations))
	for _, v := range res.Violations {
		vs = append(vs, ledger.ViolationPayload{RuleID: v.RuleID, Severity: string(v.Severity), Detail: v.Detail})
	}
	if _, err := r.ledger.Append(ctx, ledger.EventGuardrailCheckpoint, ledger.GuardrailPayload{
		CheckpointID: string(res.CheckpointID),
		Subject:      res.Subject,
		Severity:     string(res.Severity),
		Violations:   vs,
	}); err != nil {
		return err
	}
	c.deps.Observer.ObserveCheckpoint(res)

	switch res.Severity {
	case gmodel.SeverityCritical:
		c.logger.Error("guardrail %s on %s: %s", res.CheckpointID, res.Subject, res.Summary())
	case gmodel.SeverityWarning:
		c.logger.Warn("guardrail %s on %s: %s", res.CheckpointID, res.Subject, res.Summary())
	}
	return nil
}

// plannable returns the gaps a plan must cover. PLANNED gaps without a
// committed plan were left by an interrupted attempt.
func plannable(r *Run) []*gap.Record {
	var out []*gap.Record
	for _, g := range r.registry.All() {
		if g.Status == gap.StatusNormalized || g.Status == gap.StatusPlanned {
			out = append(out, g)
		}
	}
	return out
}

func alternate(s planner.Strategy) []planner.Strategy {
	if s == planner.StrategyProximity {
		return []planner.Strategy{planner.StrategyProximity, planner.StrategyCategory}
	}
	return []planner.Strategy{planner.StrategyCategory, planner.StrategyProximity}
}

func planningErrorPayload(err error) ledger.PlanningErrorPayload {
	p := ledger.PlanningErrorPayload{Error: err.Error()}
	var pe *planner.PlanningError
	if errors.As(err, &pe) {
		p.WorkstreamID = pe.WorkstreamID
		p.Cycle = pe.Cycle
		for _, issue := range pe.Issues {
			p.Violations = append(p.Violations, issue.String())
		}
	}
	return p
}
