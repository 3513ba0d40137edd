package presenter

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/YoshitsuguKoike/repoforge/internal/application/dto"
	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
)

// CLIRunPresenter implements output.Presenter for terminal output
type CLIRunPresenter struct {
	output io.Writer
}

// NewCLIRunPresenter creates a new CLI run presenter
func NewCLIRunPresenter(output io.Writer) output.Presenter {
	return &CLIRunPresenter{output: output}
}

// PresentSuccess presents a successful result
func (p *CLIRunPresenter) PresentSuccess(message string, data interface{}) error {
	if message != "" {
		fmt.Fprintf(p.output, "✓ %s\n\n", message)
	}

	switch v := data.(type) {
	case nil:
	case *dto.RunOutput:
		p.presentOutput(v)
	case *dto.RunStatusDTO:
		p.presentStatus(v)
	case []*dto.RunStatusDTO:
		p.presentList(v)
	case []*gap.Record:
		p.presentGaps(v)
	default:
		fmt.Fprintf(p.output, "%+v\n", data)
	}
	return nil
}

// PresentError presents an error
func (p *CLIRunPresenter) PresentError(err error) error {
	fmt.Fprintf(p.output, "✗ Error: %v\n", err)
	return err
}

func (p *CLIRunPresenter) presentOutput(out *dto.RunOutput) {
	fmt.Fprintf(p.output, "Run:     %s\n", out.RunID)
	fmt.Fprintf(p.output, "State:   %s\n", out.FinalState)
	if out.FailureReason != "" {
		fmt.Fprintf(p.output, "Reason:  %s\n", out.FailureReason)
	}
	if out.SummaryPath != "" {
		fmt.Fprintf(p.output, "Summary: %s\n", out.SummaryPath)
	}
	fmt.Fprintf(p.output, "Elapsed: %s\n", (time.Duration(out.ElapsedMs) * time.Millisecond).String())
}

func (p *CLIRunPresenter) presentStatus(st *dto.RunStatusDTO) {
	fmt.Fprintf(p.output, "Run:        %s\n", st.RunID)
	fmt.Fprintf(p.output, "Repository: %s\n", st.RepoRoot)
	fmt.Fprintf(p.output, "State:      %s\n", st.State)
	if st.FailureReason != "" {
		fmt.Fprintf(p.output, "Reason:     %s\n", st.FailureReason)
	}
	fmt.Fprintf(p.output, "Created:    %s\n", formatTime(st.CreatedAt))
	fmt.Fprintf(p.output, "Updated:    %s\n", formatTime(st.UpdatedAt))
	fmt.Fprintf(p.output, "Entries:    %d\n", st.LastSeq)
	fmt.Fprintf(p.output, "Planning:   %d attempt(s)\n", st.PlanningAttempts)
	fmt.Fprintf(p.output, "Guardrails: %d warning(s), %d critical\n", st.GuardrailWarnings, st.GuardrailCriticals)
	if len(st.TaskOutcomes) > 0 {
		fmt.Fprintf(p.output, "Tasks:      %s\n", formatCounts(st.TaskOutcomes))
	}
	if len(st.DanglingInvocations) > 0 {
		fmt.Fprintf(p.output, "Unfinished: %s\n", strings.Join(st.DanglingInvocations, ", "))
	}
}

func (p *CLIRunPresenter) presentList(list []*dto.RunStatusDTO) {
	if len(list) == 0 {
		fmt.Fprintln(p.output, "No runs")
		return
	}
	w := tabwriter.NewWriter(p.output, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATE\tUPDATED\tTASKS\tREPOSITORY")
	for _, st := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", st.RunID, st.State, formatTime(st.UpdatedAt), formatCounts(st.TaskOutcomes), st.RepoRoot)
	}
	w.Flush()
}

func (p *CLIRunPresenter) presentGaps(gaps []*gap.Record) {
	if len(gaps) == 0 {
		fmt.Fprintln(p.output, "No gaps")
		return
	}
	w := tabwriter.NewWriter(p.output, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GAP\tSTATUS\tCATEGORY\tFILES\tDESCRIPTION")
	for _, g := range gaps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", g.ID, g.Status, g.Category, strings.Join(g.FileScope, ","), g.Description)
	}
	w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// formatCounts renders outcome -> count as "failed=1 succeeded=2"
func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}
