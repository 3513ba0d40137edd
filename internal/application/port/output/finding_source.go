package output

import (
	"context"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
)

// FindingSource is the gap discovery engine seen from the orchestrator.
// It returns raw findings for the repository; normalization happens in the registry.
type FindingSource interface {
	Findings(ctx context.Context, repoRoot string) ([]gap.Finding, error)
}

// ToolBackedSource is a FindingSource that invokes external tools. The
// controller rebinds it to a runner that records invocations in the ledger.
type ToolBackedSource interface {
	FindingSource
	Runner() ToolRunner
	WithRunner(runner ToolRunner) FindingSource
}
