package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/pat/workitem-migrate/internal/commands"
	"github.com/pat/workitem-migrate/internal/contracts"
	"github.com/pat/workitem-migrate/internal/lock"
	"github.com/pat/workitem-migrate/internal/logging"
	"github.com/pat/workitem-migrate/internal/output"
)

type AppContext struct {
	Stdout  io.Writer
	Stderr  io.Writer
	Now     func() time.Time
	WorkDir string
}

type GlobalFlags struct {
	JSON    bool
	Verbose bool
	Config  string
}

type executionState struct {
	global GlobalFlags
	dryRun bool
}

func (state *executionState) outputMode() contracts.OutputMode {
	if state.global.JSON {
		return contracts.OutputModeJSON
	}
	return contracts.OutputModeHuman
}

// Run executes the CLI and returns the process exit code.
func Run(args []string, stdout io.Writer, stderr io.Writer) int {
	app := normalizeAppContext(AppContext{
		Stdout: stdout,
		Stderr: stderr,
		Now:    time.Now,
	})

	root, state := newRootCommand(app)
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return int(contracts.ExitCodeSuccess)
	}

	var exitErr *codedExitError
	if errors.As(err, &exitErr) {
		return int(exitErr.Code)
	}

	report := output.Report{CommandName: "migrate", DryRun: state.dryRun}
	if renderErr := output.Write(state.outputMode(), app.Stdout, app.Stderr, report, 0, err); renderErr != nil {
		_, _ = fmt.Fprintln(app.Stderr, output.FormatDiagnostic(renderErr))
	}

	return int(contracts.ExitCodeFatal)
}

// NewRootCommand constructs the Cobra command tree.
func NewRootCommand(app AppContext) *cobra.Command {
	root, _ := newRootCommand(app)
	return root
}

func newRootCommand(app AppContext) (*cobra.Command, *executionState) {
	app = normalizeAppContext(app)
	state := &executionState{}

	root := &cobra.Command{
		Use:           "workitem-migrate",
		Short:         "Migrate work items into GitHub issues",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVar(&state.global.JSON, "json", false, "emit machine-readable JSON envelope output")
	root.PersistentFlags().BoolVar(&state.global.Verbose, "verbose", false, "enable debug logging")
	root.PersistentFlags().StringVar(&state.global.Config, "config", "", "path to the config file")

	root.AddCommand(newMigrateCommand(app, state))

	return root, state
}

func newMigrateCommand(app AppContext, state *executionState) *cobra.Command {
	options := commands.MigrateOptions{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate selected work items into GitHub issues",
		Long: "Selects work items with a WIQL query or explicit ids, imports each one " +
			"as a GitHub issue through the bulk import API, and applies assignment, " +
			"closing, and source tagging per item.",
		Args: cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, args []string) {
			state.dryRun = options.DryRun
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			start := app.Now()

			logger, err := logging.New(logging.Options{
				Verbose: state.global.Verbose,
				Console: !state.global.JSON,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize logging: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			locker := lock.NewFileLock(filepath.Join(app.WorkDir, contracts.DefaultLockFilePath), lock.Options{Now: app.Now})
			lease, err := locker.Acquire(cmd.Context())
			if err != nil {
				return fmt.Errorf("another migration run is in progress: %w", err)
			}
			defer func() { _ = lease.Release() }()
			if lease.RecoveredStale() {
				logger.Warn("recovered stale run lock")
			}

			options.ConfigPath = state.global.Config
			options.Now = app.Now
			options.Logger = logger

			report, runErr := commands.RunMigrate(cmd.Context(), app.WorkDir, options)
			duration := app.Now().Sub(start)

			if err := output.Write(state.outputMode(), app.Stdout, app.Stderr, report, duration, runErr); err != nil {
				return err
			}

			code := output.ResolveExitCode(report, runErr)
			if code == contracts.ExitCodeSuccess {
				return nil
			}
			return &codedExitError{Code: code}
		},
	}

	cmd.Flags().StringVar(&options.Query, "query", "", "WIQL selector overriding the configured one")
	cmd.Flags().IntSliceVar(&options.IDs, "ids", nil, "explicit work item ids, bypassing the selector")
	cmd.Flags().IntVar(&options.Limit, "limit", 0, "migrate at most this many items")
	cmd.Flags().BoolVar(&options.Production, "production", false, "tag migrated items in the work-tracking service")
	cmd.Flags().BoolVar(&options.UpdateAssignees, "update-assignees", false, "assign created issues to the mapped login")
	cmd.Flags().BoolVar(&options.WithComments, "with-comments", false, "carry the original discussion into an audit comment")
	cmd.Flags().BoolVar(&options.DryRun, "dry-run", false, "build and validate payloads without submitting anything")

	return cmd
}

func normalizeAppContext(app AppContext) AppContext {
	if app.Now == nil {
		app.Now = time.Now
	}
	if app.WorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			app.WorkDir = wd
		} else {
			app.WorkDir = "."
		}
	}
	return app
}

type codedExitError struct {
	Code contracts.ExitCode
}

func (err codedExitError) Error() string {
	return fmt.Sprintf("exit with code %d", err.Code)
}
