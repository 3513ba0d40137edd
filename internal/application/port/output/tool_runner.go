package output

import (
	"context"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/toolrun"
)

// ToolRunner is the only way the orchestrator reaches external tools.
// RunTool never returns an error and never panics: every failure is
// encoded in the result with a reserved negative exit code.
type ToolRunner interface {
	RunTool(ctx context.Context, req toolrun.Request) toolrun.Result
}

// CheckedToolRunner is a ToolRunner that also reports when an invocation
// could not be recorded. Such an error is fatal to the calling phase.
type CheckedToolRunner interface {
	ToolRunner
	RunToolChecked(ctx context.Context, req toolrun.Request) (toolrun.Result, error)
}
