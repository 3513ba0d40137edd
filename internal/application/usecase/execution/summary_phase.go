package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/repoforge/internal/application/dto"
	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/run"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
	"github.com/YoshitsuguKoike/repoforge/internal/infra/fs"
)

// summarize writes the summary of a run about to reach DONE
func (c *RunController) summarize(ctx context.Context, r *Run) error {
	return c.writeSummary(ctx, r, run.StateDone)
}

// writeSummary builds summary.json from the record, the registry and the
// plan, archives the run and records summary_written
func (c *RunController) writeSummary(ctx context.Context, r *Run, final run.State) error {
	summary, wss, err := c.buildSummary(ctx, r, final)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	path := c.deps.Paths.Run(r.ID()).Summary
	if err := fs.WriteFileAtomic(c.deps.FS, path, data); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	archived := c.archive(ctx, r, data, wss)
	if _, err := r.ledger.Append(ctx, ledger.EventSummaryWritten, ledger.SummaryWrittenPayload{
		Path:     path,
		Archived: archived,
	}); err != nil {
		return err
	}
	c.logger.Info("run %s: summary written to %s", r.ID(), path)
	return nil
}

func (c *RunController) buildSummary(ctx context.Context, r *Run, final run.State) (*dto.RunSummary, []*workstream.Workstream, error) {
	rec := r.ledger.Record()
	summary := &dto.RunSummary{
		RunID:              rec.RunID,
		RepoRoot:           rec.RepoRoot,
		FinalState:         string(final),
		FailureReason:      rec.FailureReason,
		CreatedAt:          rec.CreatedAt,
		FinishedAt:         c.now().UTC(),
		PlanningAttempts:   rec.PlanningAttempts,
		GapCounts:          make(map[string]int),
		GuardrailWarnings:  rec.GuardrailWarnings,
		GuardrailCriticals: rec.GuardrailCriticals,
		Workstreams:        []dto.WorkstreamSummary{},
	}
	for status, n := range r.registry.Counts() {
		summary.GapCounts[string(status)] = n
	}

	var wss []*workstream.Workstream
	if len(rec.Workstreams) > 0 {
		var err error
		if wss, err = c.committedWorkstreams(ctx, r); err != nil {
			return nil, nil, err
		}
	}
	for _, ws := range wss {
		ss := dto.WorkstreamSummary{
			WSID:     ws.ID,
			Ordinal:  ws.Ordinal,
			Strategy: ws.Strategy,
			Status:   string(workstreamStatus(ws, rec)),
			Tasks:    make([]dto.TaskSummary, 0, len(ws.Tasks)),
		}
		for _, t := range ws.Tasks {
			ss.Tasks = append(ss.Tasks, dto.TaskSummary{
				TaskID:    t.ID,
				Operation: string(t.Operation),
				GapIDs:    t.GapIDs,
				FileScope: t.FileScope,
				Outcome:   rec.TaskOutcomes[t.ID],
			})
		}
		summary.Workstreams = append(summary.Workstreams, ss)
	}
	return summary, wss, nil
}

// workstreamStatus derives a workstream's status from its task outcomes
func workstreamStatus(ws *workstream.Workstream, rec run.Record) workstream.Status {
	finished, succeeded, halted := 0, 0, false
	for _, t := range ws.Tasks {
		o, ok := rec.TaskOutcomes[t.ID]
		if !ok {
			continue
		}
		finished++
		switch workstream.TaskOutcome(o) {
		case workstream.OutcomeSucceeded:
			succeeded++
		case workstream.OutcomeBlocked, workstream.OutcomeRejected, workstream.OutcomeCancelled:
			halted = true
		}
	}
	switch {
	case halted:
		return workstream.StatusHalted
	case finished == 0:
		return workstream.StatusPlanned
	case finished < len(ws.Tasks):
		return workstream.StatusRunning
	case succeeded == len(ws.Tasks):
		return workstream.StatusCompleted
	default:
		return workstream.StatusFailed
	}
}

// archive copies the run's artifacts to the archive gateway. Failures are
// logged; the local artifacts stay authoritative.
func (c *RunController) archive(ctx context.Context, r *Run, summary []byte, wss []*workstream.Workstream) []string {
	if c.deps.Archive == nil {
		return nil
	}
	files, err := c.archiveFiles(ctx, r, summary, wss)
	if err != nil {
		c.logger.Warn("archive run %s: %v", r.ID(), err)
		return nil
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var archived []string
	for _, name := range names {
		meta, err := c.deps.Archive.SaveArtifact(ctx, output.SaveArtifactRequest{
			RunID:        r.ID(),
			Name:         name,
			ArtifactType: artifactType(name),
			Content:      files[name],
		})
		if err != nil {
			c.logger.Warn("archive %s of run %s: %v", name, r.ID(), err)
			continue
		}
		archived = append(archived, meta.StoragePath)
	}
	return archived
}

func (c *RunController) archiveFiles(ctx context.Context, r *Run, summary []byte, wss []*workstream.Workstream) (map[string][]byte, error) {
	entries, err := c.deps.Ledger.Entries(ctx, r.ID())
	if err != nil {
		return nil, fmt.Errorf("export ledger: %w", err)
	}
	var lines bytes.Buffer
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		lines.Write(b)
		lines.WriteByte('\n')
	}

	record, err := json.MarshalIndent(r.ledger.Record(), "", "  ")
	if err != nil {
		return nil, err
	}
	gaps, err := json.MarshalIndent(r.registry.All(), "", "  ")
	if err != nil {
		return nil, err
	}

	files := map[string][]byte{
		"ledger.ndjson": lines.Bytes(),
		"record.json":   record,
		"gaps.json":     gaps,
		"summary.json":  summary,
	}
	for _, ws := range wss {
		b, err := yaml.Marshal(ws)
		if err != nil {
			return nil, err
		}
		files["workstreams/"+ws.ID+".yaml"] = b
	}
	return files, nil
}

func artifactType(name string) output.ArtifactType {
	switch name {
	case "ledger.ndjson":
		return output.ArtifactTypeLedger
	case "record.json":
		return output.ArtifactTypeRecord
	case "gaps.json":
		return output.ArtifactTypeRegistry
	case "summary.json":
		return output.ArtifactTypeSummary
	default:
		return output.ArtifactTypePlan
	}
}
