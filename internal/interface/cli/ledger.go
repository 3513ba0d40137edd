package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	lmodel "github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/validator/ledger"
)

// newLedgerCmd creates the ledger command
func newLedgerCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and validate run ledgers",
		RunE:  func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	cmd.AddCommand(newLedgerShowCmd(opts))
	cmd.AddCommand(newLedgerValidateCmd(opts))
	return cmd
}

func newLedgerShowCmd(opts *rootOptions) *cobra.Command {
	var event string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the ledger entries of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.container(ctx, cmd)
			if err != nil {
				return opts.fail(cmd, err)
			}
			defer c.Close()

			entries, err := c.GetLedgerRepository().Entries(ctx, args[0])
			if err != nil {
				return opts.fail(cmd, err)
			}
			var shown []*lmodel.Entry
			for _, e := range entries {
				if event == "" || string(e.Event) == event {
					shown = append(shown, e)
				}
			}

			if opts.output == "json" {
				return writeNDJSON(cmd.OutOrStdout(), shown)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tTS\tEVENT\tSTATE\tPAYLOAD")
			for _, e := range shown {
				state := e.State
				if e.PrevState != "" {
					state = e.PrevState + " -> " + e.State
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.Seq, e.Timestamp, e.Event, state, string(e.Payload))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&event, "event", "", "only entries of this event kind")
	return cmd
}

func newLedgerValidateCmd(opts *rootOptions) *cobra.Command {
	var filePath string

	cmd := &cobra.Command{
		Use:   "validate [run-id]",
		Short: "Validate a ledger: schema, timestamps, seq order, transitions and paired tool events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (filePath == "") == (len(args) == 0) {
				return opts.fail(cmd, fmt.Errorf("give either a run id or --path"))
			}

			var (
				source string
				data   io.Reader
			)
			if filePath != "" {
				f, err := os.Open(filePath)
				if err != nil {
					return opts.fail(cmd, fmt.Errorf("error opening ledger file: %w", err))
				}
				defer f.Close()
				source, data = filePath, f
			} else {
				ctx := cmd.Context()
				c, err := opts.container(ctx, cmd)
				if err != nil {
					return opts.fail(cmd, err)
				}
				defer c.Close()
				entries, err := c.GetLedgerRepository().Entries(ctx, args[0])
				if err != nil {
					return opts.fail(cmd, err)
				}
				var buf bytes.Buffer
				if err := writeNDJSON(&buf, entries); err != nil {
					return err
				}
				source, data = args[0], &buf
			}

			result, err := ledger.NewValidator(source).ValidateFile(data)
			if err != nil {
				return opts.fail(cmd, fmt.Errorf("validation error: %w", err))
			}

			out := cmd.OutOrStdout()
			if opts.output == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				printValidation(out, result)
			}
			if !result.Valid() {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filePath, "path", "", "validate this ledger.ndjson file instead of a stored run")
	return cmd
}

func writeNDJSON(w io.Writer, entries []*lmodel.Entry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func printValidation(w io.Writer, result *ledger.ValidationResult) {
	for _, line := range result.Lines {
		for _, issue := range line.Issues {
			fmt.Fprintf(w, "line %d (seq %d): %s %s: %s\n", line.Line, line.Seq, issueLabel(issue.Type), issue.Field, issue.Message)
		}
	}
	for _, issue := range result.Issues {
		fmt.Fprintf(w, "ledger: %s %s: %s\n", issueLabel(issue.Type), issue.Field, issue.Message)
	}
	fmt.Fprintf(w, "%s: %d line(s), %d ok, %d warn, %d error; final state %s\n",
		result.File, result.Summary.Lines, result.Summary.OK, result.Summary.Warn, result.Summary.Error, displayState(result.FinalState))
}

func issueLabel(t string) string {
	switch t {
	case "error":
		return "ERROR"
	case "warn":
		return "WARN"
	default:
		return "OK"
	}
}

func displayState(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
