package app

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/clinicdesk/livesync/internal/cmd/output"
	"github.com/clinicdesk/livesync/pkg/errors"
)

// Execute runs the livesync CLI application with the given arguments.
func (a *App) Execute(ctx context.Context, args []string) error {
	rootCmd := a.createRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// createRootCommand creates the root cobra command with all subcommands.
func (a *App) createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "livesync",
		Short:   "Clinic panel live sync and record locks",
		Version: a.version,
		Long: `livesync connects to the clinic API's live update channel and manages
the advisory record locks that keep two staff members from editing the
same user, patient, or attention record at once.

Credentials come from --api-url and the LIVESYNC_* environment variables,
.env files, or ~/.livesync.yaml.`,
		PersistentPreRunE: a.setupCommand,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands:"})
	rootCmd.AddGroup(&cobra.Group{ID: "auth", Title: "Authentication Commands:"})

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (shortcut for --log-level=debug)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output (shortcut for --log-level=warn)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringP("format", "o", "", "output format: table, json, yaml")
	rootCmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error (overrides -v/-q)")
	rootCmd.PersistentFlags().String("api-url", "", "clinic API base URL (default from LIVESYNC_API_URL)")

	rootCmd.SetVersionTemplate("livesync {{.Version}}\n")

	a.registerCommands(rootCmd)

	return rootCmd
}

// setupCommand is called before any command runs.
func (a *App) setupCommand(cmd *cobra.Command, _ []string) error {
	// Persistent flags are defined in createRootCommand
	verbose := mustGetBool(cmd, "verbose")
	quiet := mustGetBool(cmd, "quiet")
	noColor := mustGetBool(cmd, "no-color")
	format := mustGetString(cmd, "format")
	logLevel := mustGetString(cmd, "log-level")
	apiURL := mustGetString(cmd, "api-url")

	if _, err := output.ParseFormat(format); err != nil {
		return err
	}

	a.config.UpdateFromFlags(verbose, quiet, noColor, format, logLevel, apiURL)
	if a.config.Format == "" {
		a.config.Format = string(output.DetectFormat(""))
	}

	logger := NewLogger(a.config)
	a.logger = &logger

	return nil
}

// Exit statuses reported by ExitOnError.
const (
	exitFailure      = 1
	exitLocked       = 2
	exitUnauthorized = 3
	exitUsage        = 64
	exitTimeout      = 124
	exitInterrupted  = 130
)

// ExitOnError prints an error and exits with a status describing it.
func ExitOnError(err error) {
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(ExitCode(err))
	}
}

// ExitCode maps an error onto the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.IsLockConflict(err):
		return exitLocked
	case errors.IsUnauthorized(err):
		return exitUnauthorized
	case errors.IsValidationError(err):
		return exitUsage
	case errors.IsTimeout(err):
		return exitTimeout
	case errors.IsCanceled(err):
		return exitInterrupted
	}
	return exitFailure
}

// mustGetBool retrieves a boolean flag value or panics if the flag doesn't exist.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}

// mustGetString retrieves a string flag value or panics if the flag doesn't exist.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}
