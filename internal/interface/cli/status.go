package cli

import (
	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/repoforge/internal/application/dto"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show the replayed state of a run, or list all runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.container(ctx, cmd)
			if err != nil {
				return opts.fail(cmd, err)
			}
			defer c.Close()

			uc, err := c.GetRunUseCase(".")
			if err != nil {
				return opts.fail(cmd, err)
			}

			var data interface{}
			if len(args) == 1 {
				st, err := uc.Status(ctx, args[0])
				if err != nil {
					return opts.fail(cmd, err)
				}
				data = st
			} else {
				list, err := uc.List(ctx)
				if err != nil {
					return opts.fail(cmd, err)
				}
				if list == nil {
					list = []*dto.RunStatusDTO{}
				}
				data = list
			}
			return opts.presenter(cmd).PresentSuccess("", data)
		},
	}
}
