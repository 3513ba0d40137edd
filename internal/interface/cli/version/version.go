// Package version implements the version command.
package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/repoforge/internal/buildinfo"
)

// NewCommand creates the version command. It needs no configuration, so it
// works before a home directory exists.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "repoforge version %s %s/%s (%s)\n",
				buildinfo.String(), runtime.GOOS, runtime.GOARCH, runtime.Version())
			return err
		},
	}
}
