package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/repoforge/internal/application/dto"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/run"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "run [repo]",
		Short: "Analyze, plan and improve a repository",
		Long: `Run drives a new run through GAP_ANALYSIS, PLANNING, EXECUTION and SUMMARY.
Exits 0 when the run reaches DONE and 1 when it reaches FAILED.
An interrupted run stays resumable with "repoforge resume <run-id>".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := "."
			if len(args) == 1 {
				repo = args[0]
			}
			repo, err := filepath.Abs(repo)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			c, err := opts.container(ctx, cmd)
			if err != nil {
				return opts.fail(cmd, err)
			}
			defer c.Close()

			uc, err := c.GetRunUseCase(repo)
			if err != nil {
				return opts.fail(cmd, err)
			}
			out, err := uc.Run(ctx, repo, runID)
			return opts.finish(cmd, out, err)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "run id to use instead of a new one; an existing run continues")
	return cmd
}

func newResumeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Continue an interrupted run from its ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			if !run.ValidID(runID) {
				return opts.fail(cmd, fmt.Errorf("invalid run id %q", runID))
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			c, err := opts.container(ctx, cmd)
			if err != nil {
				return opts.fail(cmd, err)
			}
			defer c.Close()

			// 1. Find the repository the run belongs to
			status, err := c.GetRunUseCase(".")
			if err != nil {
				return opts.fail(cmd, err)
			}
			st, err := status.Status(ctx, runID)
			if err != nil {
				return opts.fail(cmd, err)
			}

			// 2. Resume under that repository's guardrail policy
			uc, err := c.GetRunUseCase(st.RepoRoot)
			if err != nil {
				return opts.fail(cmd, err)
			}
			out, err := uc.Resume(ctx, runID)
			return opts.finish(cmd, out, err)
		},
	}
}

// finish presents a run outcome and maps it to the exit code
func (o *rootOptions) finish(cmd *cobra.Command, out *dto.RunOutput, err error) error {
	p := o.presenter(cmd)
	if out != nil {
		message := ""
		if out.FinalState == string(run.StateDone) {
			message = "Run completed"
		}
		if perr := p.PresentSuccess(message, out); perr != nil {
			return perr
		}
	}
	if err != nil {
		return o.fail(cmd, err)
	}
	if out.FinalState != string(run.StateDone) {
		return &ExitError{Code: 1}
	}
	return nil
}

// signalContext cancels ctx on the first interrupt. A run cancelled this way
// stops at a checkpoint and stays resumable.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, getSignalsToHandle()...)
}
