package execution

import (
	"context"
	"fmt"

	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
	"github.com/YoshitsuguKoike/repoforge/internal/application/service"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
)

// analyzeGaps asks the finding source for findings and merges them into the
// registry. Re-entering the phase merges by gap id, so nothing is duplicated.
func (c *RunController) analyzeGaps(ctx context.Context, r *Run) error {
	rec := r.ledger.Record()

	// 1. Discover; tool-backed sources are recorded like task tools
	source := c.deps.Findings
	if tb, ok := source.(output.ToolBackedSource); ok {
		source = tb.WithRunner(service.NewLedgerToolRunner(tb.Runner(), r.ledger, c.deps.Observer, c.logger))
	}
	findings, err := source.Findings(ctx, rec.RepoRoot)
	if err != nil {
		return fmt.Errorf("discover findings: %w", err)
	}
	c.logger.Info("run %s: %d finding(s) discovered", rec.RunID, len(findings))

	// 2. Normalize; rejected findings are logged and dropped
	normalized, rejects := service.Normalize(findings, c.now())
	for _, fe := range rejects {
		c.logger.Warn("run %s: %v", rec.RunID, fe)
		if _, err := r.ledger.Append(ctx, ledger.EventFindingRejected, ledger.FindingRejectedPayload{
			Index:  fe.Index,
			Reason: fe.Err.Error(),
		}); err != nil {
			return err
		}
	}

	// 3. Merge and persist the registry snapshot before recording the result
	added := r.registry.Merge(normalized)
	if err := r.registry.Persist(ctx); err != nil {
		return err
	}

	ids := make([]string, 0, len(normalized))
	for _, g := range normalized {
		ids = append(ids, g.ID)
	}
	if _, err := r.ledger.Append(ctx, ledger.EventGapsNormalized, ledger.GapsNormalizedPayload{
		GapIDs:   ids,
		New:      added,
		Rejected: len(rejects),
	}); err != nil {
		return err
	}

	c.observeGaps(r)
	c.logger.Info("run %s: %d gap(s) normalized, %d new, %d rejected", rec.RunID, len(normalized), added, len(rejects))
	return nil
}

// setGapStatus moves a gap and records the change. Unchanged statuses write nothing.
func (c *RunController) setGapStatus(ctx context.Context, r *Run, gapID string, next gap.Status) error {
	before, ok := r.registry.Get(gapID)
	if !ok {
		return fmt.Errorf("%w: %s", service.ErrUnknownGap, gapID)
	}
	changed, err := r.registry.UpdateStatus(gapID, next)
	if err != nil || !changed {
		return err
	}
	_, err = r.ledger.Append(ctx, ledger.EventGapStatus, ledger.GapStatusPayload{
		GapID: gapID,
		From:  string(before.Status),
		To:    string(next),
	})
	return err
}

func (c *RunController) observeGaps(r *Run) {
	counts := make(map[string]int)
	for status, n := range r.registry.Counts() {
		counts[string(status)] = n
	}
	c.deps.Observer.ObserveGaps(counts)
}
