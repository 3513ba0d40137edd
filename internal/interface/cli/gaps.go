package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
)

func newGapsCmd(opts *rootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "gaps <run-id>",
		Short: "List the gap registry of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.container(ctx, cmd)
			if err != nil {
				return opts.fail(cmd, err)
			}
			defer c.Close()

			gaps, err := c.GetGapRepository().Load(ctx, args[0])
			if err != nil {
				return opts.fail(cmd, err)
			}
			if status != "" {
				filtered := make([]*gap.Record, 0, len(gaps))
				for _, g := range gaps {
					if strings.EqualFold(string(g.Status), status) {
						filtered = append(filtered, g)
					}
				}
				gaps = filtered
			}
			return opts.presenter(cmd).PresentSuccess("", gaps)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only gaps in this status (e.g. RESOLVED, DEFERRED)")
	return cmd
}
