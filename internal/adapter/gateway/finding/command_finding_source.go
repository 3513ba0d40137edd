package finding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/repoforge/internal/app/config"
	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/toolrun"
)

// DiscoveryToolID identifies discovery invocations at the tool boundary
const DiscoveryToolID = "discovery"

// CommandFindingSource runs a discovery engine through the tool boundary and
// decodes the JSON findings it prints on stdout
type CommandFindingSource struct {
	runner output.ToolRunner
	cmd    config.DiscoveryCommand
}

var _ output.ToolBackedSource = (*CommandFindingSource)(nil)

// NewCommandFindingSource creates a command-backed source
func NewCommandFindingSource(runner output.ToolRunner, cmd config.DiscoveryCommand) *CommandFindingSource {
	if cmd.Timeout <= 0 {
		cmd.Timeout = 5 * time.Minute
	}
	return &CommandFindingSource{runner: runner, cmd: cmd}
}

// Runner returns the runner the engine is invoked through
func (s *CommandFindingSource) Runner() output.ToolRunner {
	return s.runner
}

// WithRunner returns a copy of s that invokes the engine through runner
func (s *CommandFindingSource) WithRunner(runner output.ToolRunner) output.FindingSource {
	c := *s
	c.runner = runner
	return &c
}

// Findings runs the engine in repoRoot. {workspace} in arguments expands to repoRoot.
func (s *CommandFindingSource) Findings(ctx context.Context, repoRoot string) ([]gap.Finding, error) {
	args := make([]string, 0, len(s.cmd.Args))
	for _, a := range s.cmd.Args {
		args = append(args, strings.ReplaceAll(a, "{workspace}", repoRoot))
	}

	res := s.runner.RunTool(ctx, toolrun.Request{
		ToolID:        DiscoveryToolID,
		Bin:           s.cmd.Bin,
		Args:          args,
		WorkspaceRoot: repoRoot,
		Timeout:       s.cmd.Timeout,
	})
	if !res.Success {
		reason := toolrun.SentinelName(res.ExitCode)
		if reason == "" {
			reason = fmt.Sprintf("exit %d", res.ExitCode)
		}
		return nil, fmt.Errorf("discovery %s failed (%s): %s", s.cmd.Bin, reason, firstLine(res.Stderr, res.Message))
	}
	return Decode([]byte(res.Stdout), false)
}

func firstLine(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if i := strings.IndexByte(c, '\n'); i >= 0 {
			return c[:i]
		}
		return c
	}
	return "no output"
}
