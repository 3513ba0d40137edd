// Package cli implements the repoforge command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/repoforge/internal/adapter/presenter"
	"github.com/YoshitsuguKoike/repoforge/internal/app"
	"github.com/YoshitsuguKoike/repoforge/internal/app/config"
	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
	infraConfig "github.com/YoshitsuguKoike/repoforge/internal/infra/config"
	"github.com/YoshitsuguKoike/repoforge/internal/infrastructure/di"
	"github.com/YoshitsuguKoike/repoforge/internal/interface/cli/version"
)

// ExitError ends the process with Code. A nil Err means the outcome was
// already presented and nothing more is printed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps a command error to a process exit code
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// rootOptions holds the persistent flags and the lazily loaded configuration
type rootOptions struct {
	home     string
	logLevel string
	output   string

	cfg    *config.AppConfig
	logger app.Logger
}

// NewRoot builds the command tree
func NewRoot() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "repoforge",
		Short:         "Autonomous repository improvement orchestrator",
		Long:          "repoforge discovers gaps in a repository, plans workstreams to close them and executes them through external tools under guardrails.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(c *cobra.Command, _ []string) error { return c.Help() },
	}

	defaultHome := ".repoforge"
	if home := os.Getenv(infraConfig.EnvPrefix + "HOME"); home != "" {
		defaultHome = home
	}
	cmd.PersistentFlags().StringVar(&opts.home, "home", defaultHome, "repoforge home directory (config.yaml, runs, archive)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: text|json")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newResumeCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newLedgerCmd(opts))
	cmd.AddCommand(newGapsCmd(opts))
	cmd.AddCommand(version.NewCommand())
	return cmd
}

// Execute runs the command line with args and returns the exit code
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewRoot()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	var ee *ExitError
	if err != nil && (!errors.As(err, &ee) || ee.Err != nil) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return ExitCode(err)
}

// load reads config.yaml under --home and installs the logger
func (o *rootOptions) load(cmd *cobra.Command) error {
	if o.cfg != nil {
		return nil
	}
	cfg, err := infraConfig.LoadSettings(o.home)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg.Home = o.home
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	logger, err := app.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	app.SetLogger(logger)

	o.cfg = cfg
	o.logger = logger
	logger.Debug("configuration loaded from %s (%s)", cfg.ConfigSource, cfg.SettingPath)
	return nil
}

// container loads the configuration and wires the application
func (o *rootOptions) container(ctx context.Context, cmd *cobra.Command) (*di.Container, error) {
	if err := o.load(cmd); err != nil {
		return nil, err
	}
	return di.NewContainer(ctx, di.Config{App: o.cfg, Logger: o.logger})
}

func (o *rootOptions) presenter(cmd *cobra.Command) output.Presenter {
	if o.output == "json" {
		return presenter.NewJSONPresenter(cmd.OutOrStdout())
	}
	return presenter.NewCLIRunPresenter(cmd.OutOrStdout())
}

// fail presents err in JSON mode; text mode leaves printing to Execute
func (o *rootOptions) fail(cmd *cobra.Command, err error) error {
	if o.output == "json" {
		_ = o.presenter(cmd).PresentError(err)
		return &ExitError{Code: 1}
	}
	return err
}
