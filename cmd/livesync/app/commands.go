package app

import (
	"github.com/spf13/cobra"

	"github.com/clinicdesk/livesync/cmd/livesync/cmd/edit"
	"github.com/clinicdesk/livesync/cmd/livesync/cmd/lock"
	"github.com/clinicdesk/livesync/cmd/livesync/cmd/login"
	"github.com/clinicdesk/livesync/cmd/livesync/cmd/watch"
)

// registerCommands registers all subcommands with the root command.
func (a *App) registerCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(watch.NewCommand(a))
	rootCmd.AddCommand(lock.NewCommand(a))
	rootCmd.AddCommand(edit.NewCommand(a))
	rootCmd.AddCommand(login.NewCommand(a))
	rootCmd.AddCommand(a.newVersionCommand())
}

// newVersionCommand creates the version command.
func (a *App) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("livesync %s\n", a.version)
			if a.config.Verbose {
				cmd.Printf("  commit:   %s\n", a.commit)
				cmd.Printf("  built:    %s\n", a.date)
				cmd.Printf("  built by: %s\n", a.builtBy)
			}
		},
	}
}
